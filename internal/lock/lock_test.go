package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/lock"
)

func TestKeyedMutex(t *testing.T) {
	t.Run("given concurrent holders of one key, it should serialize them", func(t *testing.T) {
		m := lock.NewKeyedMutex()
		var inside, maxInside int32
		var wg sync.WaitGroup

		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock, err := m.Lock(context.Background(), 1)
				if !assert.NoError(t, err) {
					return
				}
				defer unlock()

				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), maxInside)
	})

	t.Run("given different keys, it should not block", func(t *testing.T) {
		m := lock.NewKeyedMutex()
		unlock1, err := m.Lock(context.Background(), 1)
		require.NoError(t, err)
		defer unlock1()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		unlock2, err := m.Lock(ctx, 2)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("given a held key and an expiring context, it should give up", func(t *testing.T) {
		m := lock.NewKeyedMutex()
		unlock, err := m.Lock(context.Background(), 1)
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = m.Lock(ctx, 1)
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		unlock()
		unlock()

		again, err := m.Lock(context.Background(), 1)
		require.NoError(t, err)
		again()
	})
}

func newRedisLocker(t *testing.T) (*lock.RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	l := lock.NewRedisLocker(client, time.Minute, nil)
	l.RetryInterval = 5 * time.Millisecond
	return l, mr
}

func TestRedisLocker(t *testing.T) {
	t.Run("given a free key, it should acquire and release", func(t *testing.T) {
		l, mr := newRedisLocker(t)

		unlock, err := l.Lock(context.Background(), 7)
		require.NoError(t, err)
		assert.True(t, mr.Exists("campaign:lock:7"))

		unlock()
		assert.False(t, mr.Exists("campaign:lock:7"))
	})

	t.Run("given a held key, it should time out with lock not acquired", func(t *testing.T) {
		l, _ := newRedisLocker(t)

		unlock, err := l.Lock(context.Background(), 7)
		require.NoError(t, err)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err = l.Lock(ctx, 7)
		assert.ErrorIs(t, err, appErrors.ErrLockNotAcquired)
	})

	t.Run("given a released key, the waiter should acquire it", func(t *testing.T) {
		l, _ := newRedisLocker(t)

		unlock, err := l.Lock(context.Background(), 7)
		require.NoError(t, err)

		go func() {
			time.Sleep(20 * time.Millisecond)
			unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		unlock2, err := l.Lock(ctx, 7)
		require.NoError(t, err)
		unlock2()
	})

	t.Run("given an expired lease taken over, release should keep the new holder", func(t *testing.T) {
		l, mr := newRedisLocker(t)

		unlock, err := l.Lock(context.Background(), 7)
		require.NoError(t, err)

		mr.FastForward(2 * time.Minute)
		require.NoError(t, mr.Set("campaign:lock:7", "someone-else"))

		unlock()
		got, err := mr.Get("campaign:lock:7")
		require.NoError(t, err)
		assert.Equal(t, "someone-else", got)
	})
}

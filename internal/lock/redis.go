package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
)

const (
	DefaultTTL           = 10 * time.Minute
	DefaultRetryInterval = 100 * time.Millisecond
	DefaultWait          = 30 * time.Second
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker holds a SET NX PX lease per campaign. The lease outlives a
// crashed holder by at most TTL; release only deletes a key still holding
// this holder's token.
type RedisLocker struct {
	Client        *redis.Client
	Prefix        string
	TTL           time.Duration
	RetryInterval time.Duration
	// Wait caps how long Lock polls when ctx has no deadline.
	Wait   time.Duration
	Logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		Client:        client,
		Prefix:        "campaign:lock:",
		TTL:           ttl,
		RetryInterval: DefaultRetryInterval,
		Wait:          DefaultWait,
		Logger:        logger.With(zap.String("component", "redis_locker")),
	}
}

func (l *RedisLocker) key(campaignID int64) string {
	return fmt.Sprintf("%s%d", l.Prefix, campaignID)
}

func (l *RedisLocker) Lock(ctx context.Context, campaignID int64) (func(), error) {
	if _, ok := ctx.Deadline(); !ok && l.Wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Wait)
		defer cancel()
	}

	key := l.key(campaignID)
	token := uuid.NewString()
	ticker := time.NewTicker(l.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.Client.SetNX(ctx, key, token, l.TTL).Result()
		if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, appErrors.ErrLockNotAcquired
			}
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) unlocker(key, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			// release must not be skipped because the caller's ctx ended
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, l.Client, []string{key}, token).Err(); err != nil {
				l.Logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
			}
		})
	}
}

var _ Locker = (*RedisLocker)(nil)

package app

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/config"
	"github.com/unclebandit/campaign-batch-sender/internal/lock"
	"github.com/unclebandit/campaign-batch-sender/internal/mailer"
	"github.com/unclebandit/campaign-batch-sender/internal/queue"
)

func newTestApp(cfg config.Config) *App {
	return &App{Config: &cfg, Logger: zap.NewNop()}
}

func TestNewMailer(t *testing.T) {
	t.Run("mock", func(t *testing.T) {
		a := newTestApp(config.Config{MailerKind: "mock", MockSuccessRate: 1})
		assert.IsType(t, &mailer.MockMailer{}, a.newMailer())
	})

	t.Run("webhook", func(t *testing.T) {
		a := newTestApp(config.Config{MailerKind: "webhook", MailerWebhookURL: "http://relay.local/send"})
		assert.IsType(t, &mailer.WebhookMailer{}, a.newMailer())
	})

	t.Run("rate limited", func(t *testing.T) {
		a := newTestApp(config.Config{MailerKind: "mock", MailerRatePerSecond: 10, MailerBurst: 2})
		assert.IsType(t, &mailer.RateLimited{}, a.newMailer())
	})
}

func TestNewLocker(t *testing.T) {
	t.Run("in-process without redis", func(t *testing.T) {
		a := newTestApp(config.Config{})
		locker, err := a.newLocker(context.Background())
		require.NoError(t, err)
		assert.IsType(t, &lock.KeyedMutex{}, locker)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		a := newTestApp(config.Config{RedisAddr: mr.Addr(), LockTTL: time.Minute})
		t.Cleanup(func() { _ = a.Redis.Close() })

		locker, err := a.newLocker(context.Background())
		require.NoError(t, err)
		require.IsType(t, &lock.RedisLocker{}, locker)

		unlock, err := locker.Lock(context.Background(), 5)
		require.NoError(t, err)
		assert.True(t, mr.Exists("campaign:lock:5"))
		unlock()
	})

	t.Run("unreachable redis", func(t *testing.T) {
		a := newTestApp(config.Config{RedisAddr: "127.0.0.1:1"})
		t.Cleanup(func() { _ = a.Redis.Close() })

		_, err := a.newLocker(context.Background())
		assert.Error(t, err)
	})
}

func TestNewQueueInProcess(t *testing.T) {
	a := newTestApp(config.Config{})
	q, err := a.newQueue()
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	assert.IsType(t, &queue.InMemoryQueue{}, q)
	assert.True(t, a.InProcessQueue)
}

// Package app wires configuration into the engine and its collaborators.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/config"
	"github.com/unclebandit/campaign-batch-sender/internal/db"
	"github.com/unclebandit/campaign-batch-sender/internal/lock"
	"github.com/unclebandit/campaign-batch-sender/internal/mailer"
	"github.com/unclebandit/campaign-batch-sender/internal/queue"
	"github.com/unclebandit/campaign-batch-sender/internal/repository"
	"github.com/unclebandit/campaign-batch-sender/internal/service"
)

type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *db.Client
	Redis     *redis.Client
	Queue     queue.Queue
	Campaigns *repository.CampaignRepository
	Service   *service.CampaignService
	Worker    *service.Worker

	// InProcessQueue is set when jobs never leave this process, so the
	// process must consume them itself.
	InProcessQueue bool
}

// New connects to every backing service named in cfg. Callers must Close
// the result even when it is only partially started.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	client, err := db.Open(ctx, cfg.DSN())
	if err != nil {
		return a, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.DB = client
	log.Info("database connection established")

	locker, err := a.newLocker(ctx)
	if err != nil {
		return a, err
	}

	q, err := a.newQueue()
	if err != nil {
		return a, err
	}
	a.Queue = q

	a.Campaigns = repository.NewCampaignRepository(client)
	a.Service = &service.CampaignService{
		CampaignRepo: a.Campaigns,
		FailureRepo:  repository.NewFailureLogRepository(client),
		RecipientRepo: repository.NewRecipientRepository(client, repository.RecipientSource{
			Table:       cfg.RecipientTable,
			IDColumn:    cfg.RecipientIDColumn,
			EmailColumn: cfg.RecipientEmailColumn,
			NameColumn:  cfg.RecipientNameColumn,
		}),
		Tx:        client,
		Mailer:    a.newMailer(),
		Locker:    locker,
		Logger:    log.With(zap.String("component", "campaign_service")),
		BatchSize: cfg.BatchSize,
	}

	w := service.NewWorker(a.Service, q, cfg.QueueTopic, log)
	w.BatchSize = cfg.BatchSize
	w.Interval = cfg.BatchInterval
	w.StaleAfter = cfg.StaleAfter
	w.Campaigns = a.Campaigns
	a.Worker = w

	return a, nil
}

func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	if a.Config.RedisAddr == "" {
		a.Logger.Info("REDIS_ADDR not set, using in-process campaign locks")
		return lock.NewKeyedMutex(), nil
	}

	a.Redis = redis.NewClient(&redis.Options{
		Addr:     a.Config.RedisAddr,
		Password: a.Config.RedisPassword,
		DB:       a.Config.RedisDB,
	})
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.Logger.Info("redis connection established", zap.String("addr", a.Config.RedisAddr))
	return lock.NewRedisLocker(a.Redis, a.Config.LockTTL, a.Logger), nil
}

func (a *App) newQueue() (queue.Queue, error) {
	if a.Config.AMQPURL == "" {
		a.InProcessQueue = true
		return queue.NewInMemoryQueue(a.Logger), nil
	}
	q, err := queue.DialAMQP(a.Config.AMQPURL, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to amqp: %w", err)
	}
	return q, nil
}

func (a *App) newMailer() mailer.Mailer {
	var m mailer.Mailer
	switch a.Config.MailerKind {
	case "webhook":
		m = mailer.NewWebhookMailer(a.Config.MailerWebhookURL, nil)
	default:
		m = mailer.NewMockMailer(a.Config.MockSuccessRate)
	}
	return mailer.NewRateLimited(m, a.Config.MailerRatePerSecond, a.Config.MailerBurst)
}

// StartWorker subscribes the worker and starts the stale-campaign sweeper.
// The returned scheduler must be stopped on shutdown.
func (a *App) StartWorker(ctx context.Context) (*service.Scheduler, error) {
	if err := a.Worker.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	sweeper := service.NewScheduler(a.Config.SweepInterval, a.Worker.Sweep, a.Logger)
	sweeper.Start()
	a.Logger.Info("worker started",
		zap.String("topic", a.Config.QueueTopic),
		zap.Duration("sweep_interval", a.Config.SweepInterval))
	return sweeper, nil
}

func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Worker != nil {
		a.Worker.Wait()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

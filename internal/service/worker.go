package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/campaign-batch-sender/internal/errors"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
	"github.com/unclebandit/campaign-batch-sender/internal/queue"
)

// CampaignAdvancer runs one batch of whatever kind the campaign needs.
type CampaignAdvancer interface {
	Advance(ctx context.Context, actor model.Actor, id int64, size int) (*model.BatchResult, error)
}

// StaleCampaignLister finds campaigns the sweeper should re-enqueue.
type StaleCampaignLister interface {
	ListIDsByStatus(ctx context.Context, statuses []model.CampaignStatus, updatedBefore time.Time) ([]int64, error)
}

var activeStatuses = []model.CampaignStatus{model.StatusPending, model.StatusSending, model.StatusRetryMode}

// Worker drives campaigns forward from a queue: each job advances one batch
// and, while the campaign stays active, schedules the next job.
type Worker struct {
	Engine     CampaignAdvancer
	Queue      queue.Queue
	Topic      string
	BatchSize  int
	Interval   time.Duration
	StaleAfter time.Duration
	Campaigns  StaleCampaignLister
	Actor      model.Actor
	Logger     *zap.Logger
	Now        func() time.Time

	mu      sync.Mutex
	pending map[int64]bool
	wg      sync.WaitGroup
}

func NewWorker(engine CampaignAdvancer, q queue.Queue, topic string, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		Engine:     engine,
		Queue:      q,
		Topic:      topic,
		BatchSize:  DefaultBatchSize,
		Interval:   time.Second,
		StaleAfter: 5 * time.Minute,
		Actor:      model.SystemActor("worker"),
		Logger:     logger.With(zap.String("component", "worker")),
		Now:        time.Now,
		pending:    make(map[int64]bool),
	}
}

func (w *Worker) log() *zap.Logger {
	if w.Logger == nil {
		return zap.NewNop()
	}
	return w.Logger
}

// Start subscribes the worker to its topic.
func (w *Worker) Start(ctx context.Context) error {
	return w.Queue.Subscribe(ctx, w.Topic, w.Handle)
}

// Wait blocks until delayed re-enqueues have fired or been cancelled.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Enqueue publishes a job for the campaign unless this process already has
// one waiting.
func (w *Worker) Enqueue(ctx context.Context, campaignID int64) error {
	w.mu.Lock()
	if w.pending == nil {
		w.pending = make(map[int64]bool)
	}
	if w.pending[campaignID] {
		w.mu.Unlock()
		return nil
	}
	w.pending[campaignID] = true
	w.mu.Unlock()

	job := queue.Job{ID: uuid.NewString(), CampaignID: campaignID, EnqueuedAt: time.Now().UTC()}
	if err := w.Queue.Publish(ctx, w.Topic, job); err != nil {
		w.clearPending(campaignID)
		return err
	}
	return nil
}

func (w *Worker) clearPending(campaignID int64) {
	w.mu.Lock()
	delete(w.pending, campaignID)
	w.mu.Unlock()
}

// Handle advances the job's campaign by one batch. Errors are returned only
// when the queue should retry the job.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	w.clearPending(job.CampaignID)
	log := w.log().With(logger.CampaignID(job.CampaignID), zap.String("job_id", job.ID))

	result, err := w.Engine.Advance(ctx, w.Actor, job.CampaignID, w.BatchSize)
	switch {
	case err == nil:
	case appErrors.IsNotFound(err), appErrors.IsForbidden(err):
		log.Warn("dropping job", zap.Error(err))
		return nil
	case errors.Is(err, appErrors.ErrLockNotAcquired):
		// the lock holder re-enqueues when it finishes
		log.Debug("campaign busy, dropping job")
		return nil
	default:
		log.Error("failed to advance campaign", zap.Error(err))
		return err
	}

	log.Debug("campaign advanced",
		zap.String("status", result.Status.String()),
		zap.Int("processed", result.ProcessedCount),
		zap.Float64("progress", result.Progress))

	if result.Status.IsActive() {
		w.scheduleNext(ctx, job.CampaignID)
	}
	return nil
}

func (w *Worker) scheduleNext(ctx context.Context, campaignID int64) {
	if w.Interval <= 0 {
		if err := w.Enqueue(ctx, campaignID); err != nil {
			w.log().Error("failed to re-enqueue campaign", logger.CampaignID(campaignID), zap.Error(err))
		}
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		timer := time.NewTimer(w.Interval)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := w.Enqueue(ctx, campaignID); err != nil {
			w.log().Error("failed to re-enqueue campaign", logger.CampaignID(campaignID), zap.Error(err))
		}
	}()
}

// Sweep re-enqueues active campaigns that have not moved for StaleAfter,
// picking up work lost to a crash or a dropped job.
func (w *Worker) Sweep(ctx context.Context) error {
	if w.Campaigns == nil {
		return nil
	}

	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	ids, err := w.Campaigns.ListIDsByStatus(ctx, activeStatuses, now().Add(-w.StaleAfter))
	if err != nil {
		return err
	}

	for _, id := range ids {
		if err := w.Enqueue(ctx, id); err != nil {
			w.log().Error("failed to enqueue stale campaign", logger.CampaignID(id), zap.Error(err))
			continue
		}
	}
	if len(ids) > 0 {
		w.log().Info("stale campaigns re-enqueued", zap.Int("count", len(ids)))
	}
	return nil
}

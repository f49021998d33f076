package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job asks a worker to advance one campaign by one batch.
type Job struct {
	ID         string    `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type Handler func(ctx context.Context, job Job) error

type Queue interface {
	Publish(ctx context.Context, topic string, job Job) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

const DefaultMaxRetries = 3

var ErrClosed = errors.New("queue closed")

// InMemoryQueue delivers jobs to in-process subscribers, retrying failed
// handlers with linear backoff.
type InMemoryQueue struct {
	MaxRetries int
	Backoff    time.Duration

	mu       sync.Mutex
	handlers map[string][]Handler
	closed   bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger
}

func NewInMemoryQueue(logger *zap.Logger) *InMemoryQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InMemoryQueue{
		MaxRetries: DefaultMaxRetries,
		Backoff:    500 * time.Millisecond,
		handlers:   make(map[string][]Handler),
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger.With(zap.String("component", "memory_queue")),
	}
}

// Publish hands the job to every subscriber of topic.
func (q *InMemoryQueue) Publish(_ context.Context, topic string, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return fmt.Errorf("no subscribers for topic %s", topic)
	}

	for _, handler := range handlers {
		q.wg.Add(1)
		go q.processJob(handler, job)
	}
	return nil
}

func (q *InMemoryQueue) processJob(handler Handler, job Job) {
	defer q.wg.Done()

	for {
		err := handler(q.ctx, job)
		if err == nil {
			return
		}

		if job.Attempt >= q.MaxRetries {
			q.logger.Error("job permanently failed",
				zap.String("job_id", job.ID),
				zap.Int64("campaign_id", job.CampaignID),
				zap.Int("attempts", job.Attempt+1),
				zap.Error(err))
			return
		}
		job.Attempt++
		q.logger.Warn("job failed, retrying",
			zap.String("job_id", job.ID),
			zap.Int64("campaign_id", job.CampaignID),
			zap.Int("attempt", job.Attempt),
			zap.Error(err))

		select {
		case <-q.ctx.Done():
			return
		case <-time.After(time.Duration(job.Attempt) * q.Backoff):
		}
	}
}

func (q *InMemoryQueue) Subscribe(_ context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close stops accepting jobs and waits for in-flight handlers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()
	return nil
}

var _ Queue = (*InMemoryQueue)(nil)

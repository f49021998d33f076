package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs task immediately and then every interval until stopped.
type Scheduler struct {
	interval time.Duration
	task     func(ctx context.Context) error
	logger   *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(interval time.Duration, task func(ctx context.Context) error, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		interval: interval,
		task:     task,
		logger:   logger.With(zap.String("component", "scheduler")),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running || s.ctx.Err() != nil {
		return
	}
	s.running = true
	go s.run()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	s.cancel()
	<-s.stopCh
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) run() {
	defer close(s.stopCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runTask()
	for {
		select {
		case <-ticker.C:
			s.runTask()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runTask() {
	if err := s.task(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Error("scheduled task failed", zap.Error(err))
	}
}

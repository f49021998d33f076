// cmd/worker/main.go runs the campaign worker on its own, consuming the
// durable queue that API servers publish to.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/app"
	"github.com/unclebandit/campaign-batch-sender/internal/config"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required for a standalone worker")
	}

	log, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	tp, err := telemetry.NewTracerProvider(cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	if cfg.RedisAddr == "" {
		log.Warn("REDIS_ADDR not set, campaign locks only cover this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to release resources", zap.Error(err))
		}
	}()
	if err != nil {
		return err
	}

	sweeper, err := a.StartWorker(ctx)
	if err != nil {
		return err
	}
	defer sweeper.Stop()

	log.Info("waiting for campaign jobs")
	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

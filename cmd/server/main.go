// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/app"
	"github.com/unclebandit/campaign-batch-sender/internal/config"
	"github.com/unclebandit/campaign-batch-sender/internal/controller"
	"github.com/unclebandit/campaign-batch-sender/internal/handler"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
	"github.com/unclebandit/campaign-batch-sender/internal/model"
	"github.com/unclebandit/campaign-batch-sender/internal/service"
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

	log, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	tp, err := telemetry.NewTracerProvider(cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

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

	if err := a.DB.Migrate(ctx, log); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var sweeper *service.Scheduler
	if cfg.RunWorker || a.InProcessQueue {
		if sweeper, err = a.StartWorker(ctx); err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	auth := controller.TokenAuth{
		AdminToken:  cfg.AdminToken,
		ViewerToken: cfg.ViewerToken,
		Fallback:    model.SystemActor("local"),
	}
	if !auth.Enabled() {
		log.Warn("ADMIN_TOKEN and VIEWER_TOKEN are empty, API runs without authentication")
	}

	router := controller.NewRouter(controller.RouterConfig{
		Campaigns: controller.NewCampaignController(a.Service, a.Worker, log),
		Reads:     handler.NewCampaignHandler(a.Service, log),
		Health:    &handler.HealthHandler{DB: a.DB},
		Auth:      auth,
	})

	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: otelhttp.NewHandler(router, cfg.ServiceName,
			otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/health" }),
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", cfg.HTTPAddr))
		serverErrors <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	server.SetKeepAlivesEnabled(false)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		return server.Close()
	}
	log.Info("server gracefully stopped")
	return nil
}

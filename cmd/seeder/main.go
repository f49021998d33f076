// cmd/seeder/main.go applies the schema and loads fixture data.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/campaign-batch-sender/internal/config"
	"github.com/unclebandit/campaign-batch-sender/internal/db"
	"github.com/unclebandit/campaign-batch-sender/internal/logger"
)

var seedFiles = []string{
	"recipients.sql",
	"campaigns.sql",
}

func main() {
	dir := flag.String("dir", "seed", "directory holding the seed SQL files")
	migrateOnly := flag.Bool("migrate-only", false, "apply the schema without loading fixtures")
	flag.Parse()

	if err := run(*dir, *migrateOnly); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(dir string, migrateOnly bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.IsDevelopment())
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := db.Open(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer client.Close()

	if err := client.Migrate(ctx, log); err != nil {
		return err
	}
	if migrateOnly {
		return nil
	}

	for _, name := range seedFiles {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		if err := client.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("failed to execute %s: %w", path, err)
		}
		log.Info("seeded", zap.String("file", path))
	}

	log.Info("database seeding completed")
	return nil
}

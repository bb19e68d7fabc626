// Package main is the entry point for the reading archival job.
//
// Intended to run on a cron schedule: it moves readings older than the
// configured retention into compressed JSONL files, purges consumed manual
// commands on the same pass, and exits.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"miraqua/internal/archiver"
	"miraqua/internal/config"
	"miraqua/internal/db"
	"miraqua/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("archiver starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"directory", cfg.Archive.Directory,
		"max_age", cfg.Archive.MaxAge.String(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := db.NewRegistry(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer repos.Close()

	clock := types.RealClock{}
	job := archiver.New(repos.Readings, cfg.Archive, clock, logger)
	res, err := job.Run(ctx)
	if err != nil {
		return fmt.Errorf("archival run: %w", err)
	}

	// Consumed manual commands age out on the same retention as readings.
	purged, err := repos.Commands.PurgeConsumed(ctx, clock.Now().Add(-cfg.Archive.MaxAge))
	if err != nil {
		return fmt.Errorf("purging consumed commands: %w", err)
	}

	// Overrides for past dates are dead weight once the engine has moved on.
	overrides, err := repos.Schedules.PurgeExpiredOverrides(ctx, clock.Now().UTC().Format("2006-01-02"))
	if err != nil {
		return fmt.Errorf("purging expired overrides: %w", err)
	}

	logger.Info("archiver finished",
		"batches", res.Batches,
		"archived", res.Archived,
		"commands_purged", purged,
		"overrides_purged", overrides,
	)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

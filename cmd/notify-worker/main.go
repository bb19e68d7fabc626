// Package main is the entry point for the notification worker.
//
// The worker long-polls the notification queue, decodes engine event
// envelopes, and stores user-facing notifications with rolling-window
// deduplication for anomaly-class events.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"miraqua/internal/config"
	"miraqua/internal/db"
	"miraqua/internal/notifications"
	"miraqua/internal/queue"
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
	logger.Info("notification worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"queue_url", cfg.AWS.NotificationQueue,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos, err := db.NewRegistry(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}
	defer repos.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading aws config: %w", err)
	}
	sqsClient := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})

	emitter := notifications.NewEmitter(repos.Notifications, cfg.Notifications, types.RealClock{}, logger)
	consumer := queue.NewConsumer(sqsClient, cfg.AWS, emitter, logger)

	if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("notification consumer: %w", err)
	}

	logger.Info("notification worker stopped cleanly")
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

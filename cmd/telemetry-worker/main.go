// Package main is the entry point for the telemetry worker.
//
// The worker subscribes to the sensor telemetry subject on NATS, validates
// each reading through Sensor Ingest, and sweeps for sensor dropouts on the
// ingest dropout timeout. Accepted readings land in the readings table where
// the engine's snapshot refresh picks them up.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"miraqua/internal/config"
	"miraqua/internal/db"
	"miraqua/internal/ingest"
	"miraqua/internal/metrics"
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
	logger.Info("telemetry worker starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"subject", cfg.Telemetry.Subject,
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
	publisher := queue.NewPublisher(sqsClient, cfg.AWS, "ingest", logger)

	// Accept/reject counts ship to CloudWatch unless disabled (local dev).
	var ingestMetrics ingest.MetricsRecorder
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		collector := metrics.NewCollector(cwClient, cfg.Observability, logger)
		go collector.Run(ctx)
		defer collector.Close()
		ingestMetrics = collector
	}

	svc := ingest.NewService(cfg.Ingest, repos.Readings, repos.Anomalies, repos.Plots, publisher, ingestMetrics, types.RealClock{}, logger)
	if err := svc.Warm(ctx); err != nil {
		return fmt.Errorf("warming snapshot cache: %w", err)
	}

	sub := queue.NewTelemetrySubscriber(cfg.Telemetry, svc, logger)
	if err := sub.Start(ctx); err != nil {
		return fmt.Errorf("starting telemetry subscription: %w", err)
	}
	defer sub.Close()

	// Dropout detection sweeps on the same timeout that defines a dropout.
	ticker := time.NewTicker(cfg.Ingest.DropoutTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("telemetry worker stopped cleanly")
			return nil
		case <-ticker.C:
			if err := svc.CheckDropouts(ctx); err != nil {
				logger.ErrorContext(ctx, "dropout sweep failed", slog.String("error", err.Error()))
			}
		}
	}
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

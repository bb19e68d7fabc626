// Package main is the entry point for the decision engine worker.
//
// The engine evaluates every active plot on a fixed tick: effective schedule,
// moisture snapshots, and the weather forecast reconcile into water / skip /
// defer, and manual commands queued by the API are drained on a faster poll.
// Decisions and run outcomes land in the database; notification-worthy
// transitions publish to SQS for the notification worker.
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
	"miraqua/internal/dispatch"
	"miraqua/internal/engine"
	"miraqua/internal/ingest"
	"miraqua/internal/metrics"
	"miraqua/internal/queue"
	"miraqua/internal/schedule"
	"miraqua/internal/types"
	"miraqua/internal/weather"
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
	logger.Info("decision engine starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"tick_interval", cfg.Engine.TickInterval.String(),
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
	publisher := queue.NewPublisher(sqsClient, cfg.AWS, "engine", logger)

	// Decision outcomes ship to CloudWatch unless disabled (local dev).
	var collector *metrics.Collector
	if cfg.Observability.EnableMetrics {
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		collector = metrics.NewCollector(cwClient, cfg.Observability, logger)
		go collector.Run(ctx)
		defer collector.Close()
	}

	clock := types.RealClock{}

	// The engine reads moisture from the same snapshot shape the telemetry
	// worker maintains, warmed from the readings table and refreshed each
	// tick. Telemetry lands in the table via the worker; the engine never
	// consumes the bus directly.
	ingestSvc := ingest.NewService(cfg.Ingest, repos.Readings, repos.Anomalies, repos.Plots, publisher, nil, clock, logger)
	if err := ingestSvc.Warm(ctx); err != nil {
		return fmt.Errorf("warming snapshot cache: %w", err)
	}
	go refreshSnapshots(ctx, ingestSvc, cfg.Engine.TickInterval, logger)

	scheduleStore := schedule.NewStore(repos.Schedules, clock, logger)
	forecaster := weather.NewService(weather.NewHTTPProvider(cfg.Weather, logger), cfg.Weather.CacheTTL, clock, logger)
	controller := dispatch.NewHTTPController(cfg.Dispatch, logger)
	dispatcher := dispatch.NewDispatcher(controller, repos.Events, repos.Anomalies, publisher, clock, logger)

	deps := engine.Deps{
		Plots:      repos.Plots,
		Schedule:   scheduleStore,
		Readings:   ingestSvc.Cache(),
		Forecasts:  forecaster,
		Dispatcher: dispatcher,
		Events:     repos.Events,
		Commands:   repos.Commands,
		Publisher:  publisher,
		Clock:      clock,
		Logger:     logger,
	}
	if collector != nil {
		deps.Metrics = collector
	}
	eng := engine.New(cfg.Engine, deps)

	runner := engine.NewRunner(eng, cfg.Engine, cfg.Dispatch.WatchdogTimeout, logger)
	if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("engine runner: %w", err)
	}

	logger.Info("decision engine stopped cleanly")
	return nil
}

// refreshSnapshots re-warms the snapshot cache from the readings table so
// telemetry accepted by the worker process becomes visible to the engine.
// The cache drops non-newer values, so re-warming never rolls back.
func refreshSnapshots(ctx context.Context, svc *ingest.Service, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Warm(ctx); err != nil {
				logger.ErrorContext(ctx, "refreshing snapshot cache", slog.String("error", err.Error()))
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

// Package main is the entry point for the irrigation API server.
//
// It loads configuration, connects the database pool, wires the domain
// handlers onto the core HTTP chassis (middleware, routing, health checks),
// and serves until a shutdown signal arrives.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/go-chi/chi/v5"

	"miraqua/internal/api/handlers"
	"miraqua/internal/config"
	"miraqua/internal/core"
	"miraqua/internal/db"
	"miraqua/internal/metrics"
	"miraqua/internal/schedule"
	"miraqua/internal/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on
// error.
func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("irrigation API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	repos, err := db.NewRegistry(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting database: %w", err)
	}

	srv, err := core.NewServer(cfg, repos, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	srv.HealthProbes = append(srv.HealthProbes, core.ProbeFunc{
		ProbeName: "database",
		Fn:        repos.Ping,
	})

	// Metrics ship to CloudWatch unless disabled (local dev).
	var collector *metrics.Collector
	if cfg.Observability.EnableMetrics {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			return fmt.Errorf("loading aws config: %w", err)
		}
		cwClient := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
			if cfg.AWS.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
			}
		})
		collector = metrics.NewCollector(cwClient, cfg.Observability, logger)
		go collector.Run(ctx)
		srv.Metrics = collector
	}

	clock := types.RealClock{}
	scheduleStore := schedule.NewStore(repos.Schedules, clock, logger)

	plotHandler := handlers.NewPlotHandler(repos.Plots, srv.Validator, logger)
	scheduleHandler := handlers.NewScheduleHandler(scheduleStore, repos.Plots, srv.Validator, logger)
	commandHandler := handlers.NewCommandHandler(
		repos.Commands, repos.Events, repos.Plots,
		cfg.Engine.ManualCooldown, srv.Validator, clock, logger)
	eventHandler := handlers.NewEventHandler(repos.Events, repos.Plots, logger)
	readingHandler := handlers.NewReadingHandler(repos.Readings, repos.Plots, logger)
	anomalyHandler := handlers.NewAnomalyHandler(repos.Anomalies, logger)
	notificationHandler := handlers.NewNotificationHandler(repos.Notifications, repos.Plots, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		func(r chi.Router) { plotHandler.RegisterRoutes(r) },
		func(r chi.Router) { scheduleHandler.RegisterRoutes(r) },
		func(r chi.Router) { commandHandler.RegisterRoutes(r) },
		func(r chi.Router) { eventHandler.RegisterRoutes(r) },
		func(r chi.Router) { readingHandler.RegisterRoutes(r) },
		func(r chi.Router) { anomalyHandler.RegisterRoutes(r) },
		func(r chi.Router) { notificationHandler.RegisterRoutes(r) },
	)

	srv.MountRoutes()

	err = runHTTPServer(srv, cfg, logger)
	if collector != nil {
		collector.Close()
	}
	return err
}

// runHTTPServer starts the server with graceful shutdown on SIGINT/SIGTERM.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured JSON logger at the configured level.
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

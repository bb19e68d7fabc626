package engine

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"miraqua/internal/config"
)

// Runner drives the engine on two cadences: a full evaluation tick covering
// every active plot, and a faster manual-command poll so water-now does not
// wait for the next tick. A watchdog sweep rides along with the full tick.
type Runner struct {
	engine          *Engine
	cfg             config.EngineConfig
	watchdogTimeout time.Duration
	logger          *slog.Logger
}

// NewRunner creates the engine runner. watchdogTimeout is the grace allowed
// past a run's expected completion before the watchdog aborts its event.
func NewRunner(engine *Engine, cfg config.EngineConfig, watchdogTimeout time.Duration, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engine:          engine,
		cfg:             cfg,
		watchdogTimeout: watchdogTimeout,
		logger:          logger,
	}
}

// Run blocks until the context is cancelled. An immediate first tick runs on
// startup so a restart does not wait a full interval to catch up.
func (r *Runner) Run(ctx context.Context) error {
	tick := time.NewTicker(r.cfg.TickInterval)
	defer tick.Stop()
	cmdPoll := time.NewTicker(r.cfg.CommandPoll)
	defer cmdPoll.Stop()

	r.runTick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("engine runner stopping")
			return ctx.Err()
		case <-tick.C:
			r.runTick(ctx)
		case <-cmdPoll.C:
			r.runCommandPoll(ctx)
		}
	}
}

// runTick evaluates every active plot with bounded concurrency, then sweeps
// the watchdog. Per-plot failures are logged and do not fail the tick.
func (r *Runner) runTick(ctx context.Context) {
	start := time.Now()

	plots, err := r.engine.plots.ListActive(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "listing plots for tick", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for _, plot := range plots {
		plot := plot
		g.Go(func() error {
			if err := r.engine.EvaluatePlot(gctx, plot); err != nil {
				r.logger.ErrorContext(gctx, "plot evaluation failed",
					slog.String("plot_id", plot.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	aborted, err := r.engine.AbortStalePending(ctx, r.watchdogTimeout)
	if err != nil {
		r.logger.ErrorContext(ctx, "watchdog sweep failed", slog.String("error", err.Error()))
	}

	r.logger.InfoContext(ctx, "engine tick complete",
		slog.Int("plot_count", len(plots)),
		slog.Int("watchdog_aborted", aborted),
		slog.Duration("duration", time.Since(start)),
	)
}

// runCommandPoll drains manual commands for all active plots without running
// the full decision ladder.
func (r *Runner) runCommandPoll(ctx context.Context) {
	plots, err := r.engine.plots.ListActive(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "listing plots for command poll", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrency)
	for _, plot := range plots {
		plot := plot
		g.Go(func() error {
			if err := r.engine.ProcessManualCommands(gctx, plot); err != nil {
				r.logger.ErrorContext(gctx, "manual command processing failed",
					slog.String("plot_id", plot.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()
}

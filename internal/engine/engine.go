// Package engine implements the irrigation decision engine: for each active
// plot it reconciles the effective schedule, live sensor snapshots, and the
// weather forecast into exactly one of water / skip / defer, then records the
// outcome as a watering event.
//
// Decision priority is fixed: a manual command wins over everything, then
// moisture sufficiency, then expected rain, then the scheduled dispatch. Each
// skip records a reason; silent skips are defects.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// PlotSource lists the plots under management. Satisfied by db.PlotRepository.
type PlotSource interface {
	ListActive(ctx context.Context) ([]*types.Plot, error)
}

// ScheduleSource projects the effective schedule and records engine-initiated
// overrides. Satisfied by schedule.Store.
type ScheduleSource interface {
	EffectiveEvents(ctx context.Context, plot *types.Plot, from, to time.Time) ([]types.EffectiveEvent, error)
	CreateOverride(ctx context.Context, o *types.ScheduleOverride) error
}

// ReadingSource exposes the last known good sensor snapshots.
// Satisfied by ingest.SnapshotCache.
type ReadingSource interface {
	Get(plotID string, metric types.Metric) (types.ReadingSnapshot, bool)
}

// Forecaster returns the normalized forecast window for a location.
// Satisfied by weather.Service.
type Forecaster interface {
	Window(ctx context.Context, loc types.Location) (*types.ForecastWindow, error)
}

// CommandDispatcher executes actuation against the controller.
// Satisfied by dispatch.Dispatcher.
type CommandDispatcher interface {
	Dispatch(ctx context.Context, plot *types.Plot, event *types.WateringEvent) error
	Stop(ctx context.Context, plotID string) error
	InProgress(plotID string) bool
}

// EventStore is the watering-event persistence the engine needs.
// Satisfied by db.EventRepository.
type EventStore interface {
	Create(ctx context.Context, e *types.WateringEvent) error
	UpdateOutcome(ctx context.Context, id string, outcome types.Outcome, reason types.SkipReason, completedAt *time.Time) error
	HasEventForSlot(ctx context.Context, plotID string, scheduledFor time.Time) (bool, error)
	LastByTrigger(ctx context.Context, plotID string, trigger types.Trigger) (*types.WateringEvent, error)
	StalePending(ctx context.Context, cutoff time.Time) ([]*types.WateringEvent, error)
}

// CommandSource drains pending manual commands. Satisfied by
// db.CommandRepository.
type CommandSource interface {
	ConsumePending(ctx context.Context, plotID string) (*types.ManualCommand, error)
}

// EventPublisher forwards engine decisions to the notification pipeline.
// May be nil.
type EventPublisher interface {
	PublishEngineEvent(ctx context.Context, ev types.EngineEvent) error
}

// MetricsRecorder publishes slot decision outcomes as operational metrics.
// Satisfied by metrics.Collector. May be nil.
type MetricsRecorder interface {
	RecordDecision(outcome, reason string)
}

// Engine evaluates plots. All state lives in the database and the snapshot
// cache; the engine itself keeps only per-plot locks so one plot is never
// evaluated concurrently.
type Engine struct {
	cfg        config.EngineConfig
	plots      PlotSource
	schedule   ScheduleSource
	readings   ReadingSource
	forecasts  Forecaster
	dispatcher CommandDispatcher
	events     EventStore
	commands   CommandSource
	publisher  EventPublisher
	metrics    MetricsRecorder
	clock      types.Clock
	logger     *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Deps bundles the engine's collaborators for construction.
type Deps struct {
	Plots      PlotSource
	Schedule   ScheduleSource
	Readings   ReadingSource
	Forecasts  Forecaster
	Dispatcher CommandDispatcher
	Events     EventStore
	Commands   CommandSource
	Publisher  EventPublisher
	Metrics    MetricsRecorder
	Clock      types.Clock
	Logger     *slog.Logger
}

// New creates the decision engine.
func New(cfg config.EngineConfig, deps Deps) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:        cfg,
		plots:      deps.Plots,
		schedule:   deps.Schedule,
		readings:   deps.Readings,
		forecasts:  deps.Forecasts,
		dispatcher: deps.Dispatcher,
		events:     deps.Events,
		commands:   deps.Commands,
		publisher:  deps.Publisher,
		metrics:    deps.Metrics,
		clock:      clock,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}
}

// plotLock returns the mutex guarding one plot's evaluation.
func (e *Engine) plotLock(plotID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[plotID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[plotID] = l
	}
	return l
}

// EvaluatePlot runs one full decision cycle for a plot: drain manual
// commands, then process any scheduled slot that is due. The per-plot lock
// makes overlapping ticks safe; the second evaluator waits and then finds
// the slot already handled.
func (e *Engine) EvaluatePlot(ctx context.Context, plot *types.Plot) error {
	l := e.plotLock(plot.ID)
	l.Lock()
	defer l.Unlock()

	if err := e.processManualCommands(ctx, plot); err != nil {
		return err
	}
	return e.processDueSlots(ctx, plot)
}

// ProcessManualCommands drains the plot's pending manual commands without a
// full schedule evaluation. The runner calls this on a fast poll so water-now
// latency is not bound to the tick interval.
func (e *Engine) ProcessManualCommands(ctx context.Context, plot *types.Plot) error {
	l := e.plotLock(plot.ID)
	l.Lock()
	defer l.Unlock()
	return e.processManualCommands(ctx, plot)
}

func (e *Engine) processManualCommands(ctx context.Context, plot *types.Plot) error {
	for {
		cmd, err := e.commands.ConsumePending(ctx, plot.ID)
		if err != nil {
			return err
		}
		if cmd == nil {
			return nil
		}

		switch cmd.Action {
		case types.CommandStop:
			if err := e.dispatcher.Stop(ctx, plot.ID); err != nil {
				// Nothing running is a legitimate race with completion.
				if !types.HasCode(err, types.ErrCodeNotFoundEvent) {
					e.logger.ErrorContext(ctx, "manual stop failed",
						slog.String("plot_id", plot.ID),
						slog.String("command_id", cmd.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		case types.CommandStart:
			e.runManualStart(ctx, plot, cmd)
		default:
			e.logger.WarnContext(ctx, "unknown manual command action",
				slog.String("command_id", cmd.ID),
				slog.String("action", string(cmd.Action)),
			)
		}
	}
}

// runManualStart executes a water-now command. Manual watering bypasses
// moisture and rain gating entirely; only the cooldown and the one-command
// in-flight invariant stand between the user and the valve.
func (e *Engine) runManualStart(ctx context.Context, plot *types.Plot, cmd *types.ManualCommand) {
	now := e.clock.Now()

	if last, err := e.events.LastByTrigger(ctx, plot.ID, types.TriggerManual); err == nil && last != nil {
		ref := last.CreatedAt
		if last.StartedAt != nil {
			ref = *last.StartedAt
		}
		if now.Sub(ref) < e.cfg.ManualCooldown {
			// The API rejects these up front; reaching here means the command
			// raced the cooldown boundary. Drop it rather than water twice.
			e.logger.WarnContext(ctx, "manual command dropped by cooldown",
				slog.String("plot_id", plot.ID),
				slog.String("command_id", cmd.ID),
				slog.Time("last_manual", ref),
			)
			return
		}
	}

	duration := cmd.DurationMin
	if duration <= 0 {
		duration = plot.WateringDurationMin
	}
	if limit := plot.SafetyCapMinutes(); duration > limit {
		duration = limit
	}

	event := &types.WateringEvent{
		PlotID:      plot.ID,
		DurationMin: duration,
		Trigger:     types.TriggerManual,
		Outcome:     types.OutcomePending,
	}
	if err := e.events.Create(ctx, event); err != nil {
		e.logger.ErrorContext(ctx, "creating manual watering event",
			slog.String("plot_id", plot.ID), slog.String("error", err.Error()))
		return
	}

	if err := e.dispatcher.Dispatch(ctx, plot, event); err != nil {
		e.logger.ErrorContext(ctx, "manual dispatch failed",
			slog.String("plot_id", plot.ID),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
	}
}

// processDueSlots evaluates the effective schedule slots that are due now.
func (e *Engine) processDueSlots(ctx context.Context, plot *types.Plot) error {
	now := e.clock.Now()
	slots, err := e.schedule.EffectiveEvents(ctx, plot, now.Add(-e.cfg.ScheduleSlack), now.Add(e.cfg.ScheduleSlack))
	if err != nil {
		return err
	}

	for _, slot := range slots {
		if slot.StartAt.After(now) {
			// Future slot inside the slack window; next tick picks it up.
			continue
		}
		if err := e.processSlot(ctx, plot, slot); err != nil {
			return err
		}
	}
	return nil
}

// processSlot runs the decision ladder for one due slot.
func (e *Engine) processSlot(ctx context.Context, plot *types.Plot, slot types.EffectiveEvent) error {
	handled, err := e.events.HasEventForSlot(ctx, plot.ID, slot.StartAt)
	if err != nil {
		return err
	}
	if handled {
		return nil
	}

	if slot.Skipped {
		return e.recordSkip(ctx, plot, slot, slot.SkipReason, types.SeverityInfo)
	}

	if e.dispatcher.InProgress(plot.ID) {
		// A manual run owns the valve; the slot stays unrecorded and is
		// re-examined while still inside the slack window.
		e.logger.InfoContext(ctx, "slot deferred, watering in progress",
			slog.String("plot_id", plot.ID),
			slog.Time("slot", slot.StartAt),
		)
		return nil
	}

	decision := e.decide(ctx, plot, slot)

	switch decision.skip {
	case "":
		return e.dispatchSlot(ctx, plot, slot, decision.durationMin)
	case types.ReasonRainExpected:
		e.recordRainOverride(ctx, plot, slot, decision.detail)
		return e.recordSkip(ctx, plot, slot, decision.skip, types.SeverityInfo)
	default:
		return e.recordSkip(ctx, plot, slot, decision.skip, types.SeverityInfo)
	}
}

// decision is the outcome of the gating ladder for one slot.
type decision struct {
	skip        types.SkipReason // empty means water
	durationMin int
	detail      string
}

// decide applies moisture and rain gating. Degraded modes:
//   - stale or missing moisture: no moisture gate, duration capped at the
//     plot's safety cap
//   - forecast unavailable: no rain gate, schedule-only evaluation
func (e *Engine) decide(ctx context.Context, plot *types.Plot, slot types.EffectiveEvent) decision {
	now := e.clock.Now()
	duration := slot.DurationMin
	if duration <= 0 {
		duration = plot.WateringDurationMin
	}

	moisture, ok := e.readings.Get(plot.ID, types.MetricMoisture)
	moistureFresh := ok && !moisture.Stale(now, e.cfg.MoistureStaleness)

	if moistureFresh && moisture.Value >= plot.MoistureThresholdPct {
		return decision{
			skip:   types.ReasonMoistureSufficient,
			detail: fmt.Sprintf("moisture %.1f%% >= threshold %.1f%%", moisture.Value, plot.MoistureThresholdPct),
		}
	}
	if !moistureFresh {
		if limit := plot.SafetyCapMinutes(); duration > limit {
			duration = limit
		}
		e.logger.WarnContext(ctx, "moisture unavailable, applying safety cap",
			slog.String("plot_id", plot.ID),
			slog.Int("duration_minutes", duration),
		)
	}

	// Rain gating applies to flexible slots only; fixed slots water on
	// schedule regardless of forecast.
	if slot.Flexible {
		window, err := e.forecasts.Window(ctx, plot.Location)
		if err != nil {
			e.logger.WarnContext(ctx, "forecast unavailable, schedule-only evaluation",
				slog.String("plot_id", plot.ID),
				slog.String("error", err.Error()),
			)
		} else if prob := window.MaxPrecipProb(now, e.cfg.DecisionWindow); prob >= plot.RainSkipThresholdPct {
			return decision{
				skip:   types.ReasonRainExpected,
				detail: fmt.Sprintf("precipitation probability %.0f%% >= threshold %.0f%%", prob, plot.RainSkipThresholdPct),
			}
		}
	}

	return decision{durationMin: duration}
}

// dispatchSlot creates the pending event for a slot and hands it to the
// dispatcher.
func (e *Engine) dispatchSlot(ctx context.Context, plot *types.Plot, slot types.EffectiveEvent, durationMin int) error {
	scheduledFor := slot.StartAt
	event := &types.WateringEvent{
		PlotID:       plot.ID,
		ScheduledFor: &scheduledFor,
		DurationMin:  durationMin,
		Trigger:      types.TriggerScheduled,
		Outcome:      types.OutcomePending,
	}
	if err := e.events.Create(ctx, event); err != nil {
		return err
	}

	if err := e.dispatcher.Dispatch(ctx, plot, event); err != nil {
		e.logger.ErrorContext(ctx, "scheduled dispatch failed",
			slog.String("plot_id", plot.ID),
			slog.String("event_id", event.ID),
			slog.String("error", err.Error()),
		)
		// The dispatcher already closed the event as aborted/dispatch-failed.
		e.recordDecision("dispatch_failed", "")
		e.publish(ctx, plot, types.EngineEvent{
			PlotID:     plot.ID,
			PlotName:   plot.Name,
			Type:       types.NotifyWateringAborted,
			Severity:   types.SeverityWarning,
			Message:    fmt.Sprintf("watering on %s aborted: dispatch failed", plot.Name),
			EventID:    event.ID,
			OccurredAt: e.clock.Now(),
		})
		return nil
	}
	e.recordDecision("dispatched", "")
	return nil
}

// recordSkip closes the slot as skipped with its mandatory reason and
// notifies.
func (e *Engine) recordSkip(ctx context.Context, plot *types.Plot, slot types.EffectiveEvent, reason types.SkipReason, sev types.Severity) error {
	now := e.clock.Now()
	scheduledFor := slot.StartAt
	event := &types.WateringEvent{
		PlotID:       plot.ID,
		ScheduledFor: &scheduledFor,
		CompletedAt:  &now,
		DurationMin:  0,
		Trigger:      types.TriggerEngine,
		Outcome:      types.OutcomeSkipped,
		Reason:       reason,
	}
	if err := e.events.Create(ctx, event); err != nil {
		return err
	}
	e.recordDecision("skipped", reason)

	e.logger.InfoContext(ctx, "watering skipped",
		slog.String("plot_id", plot.ID),
		slog.Time("slot", slot.StartAt),
		slog.String("reason", string(reason)),
	)
	e.publish(ctx, plot, types.EngineEvent{
		PlotID:     plot.ID,
		PlotName:   plot.Name,
		Type:       types.NotifyWateringSkipped,
		Severity:   sev,
		Message:    fmt.Sprintf("watering on %s skipped: %s", plot.Name, reason),
		EventID:    event.ID,
		OccurredAt: now,
	})
	return nil
}

// recordRainOverride writes an engine-authored skip override for the slot's
// date so the calendar shows why the slot will not run. A duplicate override
// for the date is fine; the user's own override already explains the day.
func (e *Engine) recordRainOverride(ctx context.Context, plot *types.Plot, slot types.EffectiveEvent, detail string) {
	o := &types.ScheduleOverride{
		PlotID: plot.ID,
		Date:   slot.Date,
		Action: types.OverrideSkip,
		Reason: types.OverrideReasonWeather,
		Note:   detail,
	}
	if err := e.schedule.CreateOverride(ctx, o); err != nil {
		if types.HasCode(err, types.ErrCodeConflictDuplicateOverride) {
			return
		}
		e.logger.ErrorContext(ctx, "recording rain-skip override",
			slog.String("plot_id", plot.ID),
			slog.String("date", slot.Date),
			slog.String("error", err.Error()),
		)
	}
}

// AbortStalePending is the watchdog: any event still pending once its run
// duration plus the grace period has elapsed is closed as
// aborted/watchdog-timeout so no run hangs forever. The grace is measured
// from the run's expected completion, never from its creation, so a healthy
// in-flight run is left alone for its whole duration. Returns the number of
// events aborted.
func (e *Engine) AbortStalePending(ctx context.Context, grace time.Duration) (int, error) {
	now := e.clock.Now()
	stale, err := e.events.StalePending(ctx, now.Add(-grace))
	if err != nil {
		return 0, err
	}

	aborted := 0
	for _, ev := range stale {
		base := ev.CreatedAt
		if ev.StartedAt != nil {
			base = *ev.StartedAt
		}
		if now.Before(base.Add(time.Duration(ev.DurationMin)*time.Minute + grace)) {
			continue
		}
		at := e.clock.Now()
		if err := e.events.UpdateOutcome(ctx, ev.ID, types.OutcomeAborted, types.ReasonWatchdogTimeout, &at); err != nil {
			// Already closed by a racing completion; skip.
			if types.HasCode(err, types.ErrCodeNotFoundEvent) {
				continue
			}
			return aborted, err
		}
		aborted++
		e.logger.WarnContext(ctx, "pending event aborted by watchdog",
			slog.String("plot_id", ev.PlotID),
			slog.String("event_id", ev.ID),
			slog.Time("created_at", ev.CreatedAt),
		)
		e.publish(ctx, nil, types.EngineEvent{
			PlotID:     ev.PlotID,
			Type:       types.NotifyWateringAborted,
			Severity:   types.SeverityWarning,
			Message:    "watering aborted: no completion before watchdog timeout",
			EventID:    ev.ID,
			OccurredAt: at,
		})
	}
	return aborted, nil
}

func (e *Engine) recordDecision(outcome string, reason types.SkipReason) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordDecision(outcome, string(reason))
}

func (e *Engine) publish(ctx context.Context, plot *types.Plot, ev types.EngineEvent) {
	if e.publisher == nil {
		return
	}
	if plot != nil && ev.PlotName == "" {
		ev.PlotName = plot.Name
	}
	if err := e.publisher.PublishEngineEvent(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "publishing engine event",
			slog.String("plot_id", ev.PlotID), slog.String("error", err.Error()))
	}
}

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"miraqua/internal/types"
)

// EventStore is the watering-event persistence the dispatcher needs.
// Satisfied by db.EventRepository.
type EventStore interface {
	MarkStarted(ctx context.Context, id string, at time.Time) error
	UpdateOutcome(ctx context.Context, id string, outcome types.Outcome, reason types.SkipReason, completedAt *time.Time) error
}

// AnomalyStore raises and resolves connectivity anomalies.
// Satisfied by db.AnomalyRepository.
type AnomalyStore interface {
	Create(ctx context.Context, a *types.Anomaly) error
	OpenByType(ctx context.Context, plotID string, t types.AnomalyType) (*types.Anomaly, error)
	Resolve(ctx context.Context, id string) error
}

// EventPublisher forwards run completions and aborts to the notification
// pipeline. May be nil.
type EventPublisher interface {
	PublishEngineEvent(ctx context.Context, ev types.EngineEvent) error
}

// run is one in-flight watering on a plot.
type run struct {
	eventID  string
	plotName string
	cancel   context.CancelFunc
	done     chan struct{}
}

// Dispatcher executes start/stop commands and tracks one in-flight run per
// plot. A second dispatch while a run is active fails with
// conflict_command_in_progress rather than queueing.
type Dispatcher struct {
	controller Controller
	events     EventStore
	anomalies  AnomalyStore
	publisher  EventPublisher
	clock      types.Clock
	logger     *slog.Logger

	mu       sync.Mutex
	inflight map[string]*run

	// wall is swapped in tests to avoid real waits during the run timer.
	wall func(d time.Duration) <-chan time.Time
}

// NewDispatcher wires the command dispatcher.
func NewDispatcher(
	controller Controller,
	events EventStore,
	anomalies AnomalyStore,
	publisher EventPublisher,
	clock types.Clock,
	logger *slog.Logger,
) *Dispatcher {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		controller: controller,
		events:     events,
		anomalies:  anomalies,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		inflight:   make(map[string]*run),
		wall:       time.After,
	}
}

// InProgress reports whether the plot has an active run.
func (d *Dispatcher) InProgress(plotID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[plotID]
	return ok
}

// Dispatch sends the start command for a pending watering event and, on
// acceptance, tracks the run until its duration elapses or it is stopped.
// The event must already exist with outcome pending; Dispatch stamps
// started_at on acceptance and the terminal outcome when the run ends.
//
// On controller failure the event is closed as aborted/dispatch-failed and
// the error (transient or persistent) propagates to the caller.
func (d *Dispatcher) Dispatch(ctx context.Context, plot *types.Plot, event *types.WateringEvent) error {
	d.mu.Lock()
	if _, ok := d.inflight[plot.ID]; ok {
		d.mu.Unlock()
		return types.NewAppErrorWithDetails(types.ErrCodeConflictCommandInProgress,
			"a watering command is already in progress for this plot", nil,
			map[string]any{"plot_id": plot.ID})
	}
	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{eventID: event.ID, plotName: plot.Name, cancel: cancel, done: make(chan struct{})}
	d.inflight[plot.ID] = r
	d.mu.Unlock()

	cmd := types.CommandMessage{
		CommandID:   event.ID,
		PlotID:      plot.ID,
		Action:      types.CommandStart,
		DurationMin: event.DurationMin,
		IssuedAt:    d.clock.Now(),
	}

	ack, err := d.controller.Send(ctx, cmd)
	if err != nil {
		d.release(plot.ID, r)
		cancel()

		now := d.clock.Now()
		if uerr := d.events.UpdateOutcome(ctx, event.ID, types.OutcomeAborted, types.ReasonDispatchFailed, &now); uerr != nil {
			d.logger.ErrorContext(ctx, "closing failed dispatch event",
				slog.String("event_id", event.ID), slog.String("error", uerr.Error()))
		}

		if types.HasCode(err, types.ErrCodeDispatchTransient) {
			d.raiseConnectivityOnce(ctx, plot.ID, err)
		}
		return err
	}

	started := ack.ReceivedAt
	if started.IsZero() {
		started = d.clock.Now()
	}
	if err := d.events.MarkStarted(ctx, event.ID, started); err != nil {
		d.logger.ErrorContext(ctx, "stamping run start",
			slog.String("event_id", event.ID), slog.String("error", err.Error()))
	}
	d.resolveConnectivity(ctx, plot.ID)

	d.logger.InfoContext(ctx, "watering started",
		slog.String("plot_id", plot.ID),
		slog.String("event_id", event.ID),
		slog.Int("duration_minutes", event.DurationMin),
	)

	go d.await(runCtx, plot.ID, r, time.Duration(event.DurationMin)*time.Minute)
	return nil
}

// await waits out the run's duration and closes the event as completed. A
// cancelled context means Stop already closed the event.
func (d *Dispatcher) await(ctx context.Context, plotID string, r *run, duration time.Duration) {
	defer close(r.done)
	select {
	case <-d.wall(duration):
	case <-ctx.Done():
		return
	}

	d.release(plotID, r)

	now := d.clock.Now()
	bg := context.Background()
	if err := d.events.UpdateOutcome(bg, r.eventID, types.OutcomeCompleted, "", &now); err != nil {
		d.logger.Error("closing completed run",
			slog.String("event_id", r.eventID), slog.String("error", err.Error()))
		return
	}

	d.logger.Info("watering completed",
		slog.String("plot_id", plotID),
		slog.String("event_id", r.eventID),
	)
	d.publish(bg, types.EngineEvent{
		PlotID:     plotID,
		PlotName:   r.plotName,
		Type:       types.NotifyWateringDone,
		Severity:   types.SeverityInfo,
		Message:    fmt.Sprintf("watering completed on %s", r.plotName),
		EventID:    r.eventID,
		OccurredAt: now,
	})
}

// Stop cancels the plot's active run: the stop command goes to the
// controller and the event closes as aborted/user-cancelled. Returns
// not_found_watering_event when nothing is running.
func (d *Dispatcher) Stop(ctx context.Context, plotID string) error {
	d.mu.Lock()
	r, ok := d.inflight[plotID]
	if ok {
		delete(d.inflight, plotID)
	}
	d.mu.Unlock()
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundEvent,
			"no watering in progress for this plot", nil)
	}

	r.cancel()

	cmd := types.CommandMessage{
		CommandID: r.eventID,
		PlotID:    plotID,
		Action:    types.CommandStop,
		IssuedAt:  d.clock.Now(),
	}
	if _, err := d.controller.Send(ctx, cmd); err != nil {
		// The valve may still be open; surface the failure but still close
		// the event so the watchdog does not re-abort it.
		d.logger.ErrorContext(ctx, "stop command failed",
			slog.String("plot_id", plotID),
			slog.String("event_id", r.eventID),
			slog.String("error", err.Error()),
		)
		if types.HasCode(err, types.ErrCodeDispatchTransient) {
			d.raiseConnectivityOnce(ctx, plotID, err)
		}
		now := d.clock.Now()
		_ = d.events.UpdateOutcome(ctx, r.eventID, types.OutcomeAborted, types.ReasonUserCancelled, &now)
		return err
	}

	now := d.clock.Now()
	if err := d.events.UpdateOutcome(ctx, r.eventID, types.OutcomeAborted, types.ReasonUserCancelled, &now); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "watering stopped",
		slog.String("plot_id", plotID),
		slog.String("event_id", r.eventID),
	)
	d.publish(ctx, types.EngineEvent{
		PlotID:     plotID,
		PlotName:   r.plotName,
		Type:       types.NotifyWateringAborted,
		Severity:   types.SeverityInfo,
		Message:    fmt.Sprintf("watering stopped on %s", r.plotName),
		EventID:    r.eventID,
		OccurredAt: now,
	})
	return nil
}

func (d *Dispatcher) release(plotID string, r *run) {
	d.mu.Lock()
	if cur, ok := d.inflight[plotID]; ok && cur == r {
		delete(d.inflight, plotID)
	}
	d.mu.Unlock()
}

// raiseConnectivityOnce opens a connectivity anomaly for the plot unless one
// is already open.
func (d *Dispatcher) raiseConnectivityOnce(ctx context.Context, plotID string, cause error) {
	open, err := d.anomalies.OpenByType(ctx, plotID, types.AnomalyConnectivity)
	if err != nil || open != nil {
		return
	}
	a := &types.Anomaly{
		PlotID:   &plotID,
		Type:     types.AnomalyConnectivity,
		Severity: types.SeverityCritical,
		Message:  "irrigation controller unreachable: " + cause.Error(),
	}
	if err := d.anomalies.Create(ctx, a); err != nil {
		d.logger.ErrorContext(ctx, "raising connectivity anomaly",
			slog.String("plot_id", plotID), slog.String("error", err.Error()))
		return
	}
	d.publish(ctx, types.EngineEvent{
		PlotID:     plotID,
		Type:       types.NotifyConnectivityLost,
		Severity:   types.SeverityCritical,
		Message:    a.Message,
		AnomalyID:  a.ID,
		OccurredAt: d.clock.Now(),
	})
}

// resolveConnectivity closes the plot's open connectivity anomaly after a
// successful command round-trip.
func (d *Dispatcher) resolveConnectivity(ctx context.Context, plotID string) {
	open, err := d.anomalies.OpenByType(ctx, plotID, types.AnomalyConnectivity)
	if err != nil || open == nil {
		return
	}
	if err := d.anomalies.Resolve(ctx, open.ID); err != nil {
		d.logger.ErrorContext(ctx, "resolving connectivity anomaly",
			slog.String("anomaly_id", open.ID), slog.String("error", err.Error()))
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev types.EngineEvent) {
	if d.publisher == nil {
		return
	}
	if err := d.publisher.PublishEngineEvent(ctx, ev); err != nil {
		d.logger.ErrorContext(ctx, "publishing dispatch event",
			slog.String("plot_id", ev.PlotID), slog.String("error", err.Error()))
	}
}

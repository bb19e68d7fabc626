// Package notifications turns engine events into stored user-facing
// notifications. Anomaly-class notifications are deduplicated over a rolling
// window per plot and type so a persistent condition does not flood the user;
// watering lifecycle notifications always emit.
package notifications

import (
	"context"
	"log/slog"
	"time"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// Store is the notification persistence contract.
// Satisfied by db.NotificationRepository.
type Store interface {
	Create(ctx context.Context, n *types.NotificationRecord) error
	LastOfType(ctx context.Context, plotID string, t types.NotificationType) (*types.NotificationRecord, error)
}

// Emitter implements queue.EventHandler for the notification worker.
type Emitter struct {
	store  Store
	cfg    config.NotificationConfig
	clock  types.Clock
	logger *slog.Logger
}

// NewEmitter creates the notification emitter.
func NewEmitter(store Store, cfg config.NotificationConfig, clock types.Clock, logger *slog.Logger) *Emitter {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		store:  store,
		cfg:    cfg,
		clock:  clock,
		logger: logger,
	}
}

// HandleEngineEvent stores a notification for the event unless an identical
// anomaly-class notification was already emitted inside the dedup window.
// Returning nil in the dedup case deletes the queue message.
func (e *Emitter) HandleEngineEvent(ctx context.Context, envelope types.EventEnvelope, ev types.EngineEvent) error {
	if dedupable(ev.Type) && ev.PlotID != "" {
		last, err := e.store.LastOfType(ctx, ev.PlotID, ev.Type)
		if err != nil {
			return err
		}
		if last != nil && e.clock.Now().Sub(last.CreatedAt) < e.cfg.DedupWindow {
			e.logger.InfoContext(ctx, "notification suppressed by dedup window",
				slog.String("plot_id", ev.PlotID),
				slog.String("type", string(ev.Type)),
				slog.Time("last_emitted", last.CreatedAt),
			)
			return nil
		}
	}

	record := &types.NotificationRecord{
		Type:     ev.Type,
		Severity: ev.Severity,
		Message:  ev.Message,
		Payload:  payloadFor(envelope, ev),
	}
	if ev.PlotID != "" {
		record.PlotID = &ev.PlotID
	}

	if err := e.store.Create(ctx, record); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "notification emitted",
		slog.String("notification_id", record.ID),
		slog.String("plot_id", ev.PlotID),
		slog.String("type", string(ev.Type)),
		slog.String("severity", string(ev.Severity)),
	)
	return nil
}

// dedupable reports whether the notification type is subject to rolling
// window deduplication. Watering lifecycle notifications describe discrete
// runs and always emit.
func dedupable(t types.NotificationType) bool {
	switch t {
	case types.NotifyLeakDetected,
		types.NotifyLowBattery,
		types.NotifySensorDropout,
		types.NotifyThresholdBreach,
		types.NotifyConnectivityLost:
		return true
	default:
		return false
	}
}

// payloadFor carries the cross-references a client needs to deep-link from
// the notification to the underlying event or anomaly.
func payloadFor(envelope types.EventEnvelope, ev types.EngineEvent) types.JSONMap {
	p := types.JSONMap{
		"source_event_id": envelope.EventID,
		"event_type":      envelope.EventType,
		"occurred_at":     ev.OccurredAt.UTC().Format(time.RFC3339),
	}
	if ev.PlotName != "" {
		p["plot_name"] = ev.PlotName
	}
	if ev.EventID != "" {
		p["watering_event_id"] = ev.EventID
	}
	if ev.AnomalyID != "" {
		p["anomaly_id"] = ev.AnomalyID
	}
	return p
}

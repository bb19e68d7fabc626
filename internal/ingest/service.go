// Package ingest validates inbound sensor telemetry and maintains the last
// known good reading per plot and metric. Rejected readings never reach
// storage; accepted readings are appended to the readings log and promoted
// into the snapshot cache the Decision Engine reads from.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// maxClockSkew is how far in the future a reading timestamp may sit before
// it is rejected. Gateways batch and retry, so modest skew is normal.
const maxClockSkew = 5 * time.Minute

// ReadingStore is the persistence contract for accepted readings.
// Satisfied by db.ReadingRepository.
type ReadingStore interface {
	Insert(ctx context.Context, reading *types.SensorReading) error
	LatestPerMetric(ctx context.Context, plotID string) ([]*types.SensorReading, error)
}

// AnomalyStore raises and resolves ingest-detected anomalies.
// Satisfied by db.AnomalyRepository.
type AnomalyStore interface {
	Create(ctx context.Context, a *types.Anomaly) error
	OpenByType(ctx context.Context, plotID string, t types.AnomalyType) (*types.Anomaly, error)
	Resolve(ctx context.Context, id string) error
}

// PlotSource provides plot lookups for validation and dropout sweeps.
// Satisfied by db.PlotRepository.
type PlotSource interface {
	GetByID(ctx context.Context, id string) (*types.Plot, error)
	ListActive(ctx context.Context) ([]*types.Plot, error)
}

// EventPublisher forwards ingest state transitions to the notification
// pipeline. May be nil, in which case anomalies are raised silently.
type EventPublisher interface {
	PublishEngineEvent(ctx context.Context, ev types.EngineEvent) error
}

// MetricsRecorder publishes ingest accept/reject counts as operational
// metrics. Satisfied by metrics.Collector. May be nil.
type MetricsRecorder interface {
	RecordIngest(result string)
}

// Service is the sensor ingest pipeline.
type Service struct {
	readings  ReadingStore
	anomalies AnomalyStore
	plots     PlotSource
	publisher EventPublisher
	metrics   MetricsRecorder
	cache     *SnapshotCache
	cfg       config.IngestConfig
	clock     types.Clock
	logger    *slog.Logger
}

// NewService wires the ingest pipeline.
func NewService(
	cfg config.IngestConfig,
	readings ReadingStore,
	anomalies AnomalyStore,
	plots PlotSource,
	publisher EventPublisher,
	metrics MetricsRecorder,
	clock types.Clock,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		readings:  readings,
		anomalies: anomalies,
		plots:     plots,
		publisher: publisher,
		metrics:   metrics,
		cache:     NewSnapshotCache(),
		cfg:       cfg,
		clock:     clock,
		logger:    logger,
	}
}

// Cache exposes the snapshot cache for the engine and the readings API.
func (s *Service) Cache() *SnapshotCache {
	return s.cache
}

// Warm loads the latest stored reading per metric for every active plot into
// the snapshot cache. Called once at worker startup so restarts do not blind
// the engine until fresh telemetry arrives.
func (s *Service) Warm(ctx context.Context) error {
	plots, err := s.plots.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, plot := range plots {
		latest, err := s.readings.LatestPerMetric(ctx, plot.ID)
		if err != nil {
			return err
		}
		for _, r := range latest {
			s.cache.Put(types.ReadingSnapshot{
				PlotID:     r.PlotID,
				Metric:     r.Metric,
				Value:      r.Value,
				RecordedAt: r.RecordedAt,
			})
		}
	}
	s.logger.InfoContext(ctx, "ingest cache warmed", slog.Int("plot_count", len(plots)))
	return nil
}

// Accept validates one telemetry message and, if accepted, persists it and
// promotes it into the snapshot cache. Rejections return an AppError with
// code reading_stale, reading_out_of_bounds, or validation_invalid_metric;
// the message is dropped without side effects.
func (s *Service) Accept(ctx context.Context, msg types.TelemetryMessage) (*types.SensorReading, error) {
	if msg.PlotID == "" {
		s.recordIngest("rejected_invalid")
		return nil, types.NewAppError(types.ErrCodeValidationMissingField,
			"telemetry plot_id is required", nil)
	}

	min, max, ok := types.MetricBounds(msg.Metric)
	if !ok {
		s.recordIngest("rejected_invalid")
		return nil, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidMetric,
			"unknown telemetry metric", nil,
			map[string]any{"metric": string(msg.Metric)})
	}
	if msg.Value < min || msg.Value > max {
		s.recordIngest("rejected_invalid")
		return nil, types.NewAppErrorWithDetails(types.ErrCodeReadingInvalid,
			"reading value outside physical bounds", nil,
			map[string]any{"metric": string(msg.Metric), "value": msg.Value, "min": min, "max": max})
	}

	now := s.clock.Now()
	if msg.RecordedAt.After(now.Add(maxClockSkew)) {
		s.recordIngest("rejected_invalid")
		return nil, types.NewAppErrorWithDetails(types.ErrCodeReadingInvalid,
			"reading timestamp is in the future", nil,
			map[string]any{"recorded_at": msg.RecordedAt, "now": now})
	}

	// Per-channel ordering: a reading at or before the current snapshot
	// would roll last-known-good backwards.
	prev, hadPrev := s.cache.Get(msg.PlotID, msg.Metric)
	if hadPrev && !msg.RecordedAt.After(prev.RecordedAt) {
		s.recordIngest("rejected_stale")
		return nil, types.NewAppErrorWithDetails(types.ErrCodeReadingStale,
			"reading is not newer than the current snapshot", nil,
			map[string]any{
				"recorded_at": msg.RecordedAt,
				"current":     prev.RecordedAt,
			})
	}

	if _, err := s.plots.GetByID(ctx, msg.PlotID); err != nil {
		s.recordIngest("rejected_unknown_plot")
		return nil, err
	}

	health := msg.Health
	if health == "" {
		health = types.SensorHealthOK
	}
	reading := &types.SensorReading{
		PlotID:     msg.PlotID,
		Metric:     msg.Metric,
		Value:      msg.Value,
		RecordedAt: msg.RecordedAt.UTC(),
		Health:     health,
	}
	if err := s.readings.Insert(ctx, reading); err != nil {
		return nil, err
	}

	hadDropout := s.cache.LastSeen(msg.PlotID).IsZero() ||
		now.Sub(s.cache.LastSeen(msg.PlotID)) > s.cfg.DropoutTimeout

	s.cache.Put(types.ReadingSnapshot{
		PlotID:     reading.PlotID,
		Metric:     reading.Metric,
		Value:      reading.Value,
		RecordedAt: reading.RecordedAt,
	})

	switch msg.Metric {
	case types.MetricBattery:
		if msg.Value < types.LowBatteryCutoff {
			s.raiseOnce(ctx, msg.PlotID, types.AnomalyLowBattery, types.SeverityWarning,
				fmt.Sprintf("sensor battery at %.0f%%", msg.Value), types.NotifyLowBattery)
		}
	case types.MetricTemperature:
		if msg.Value >= s.cfg.TemperatureSpikeF {
			s.raiseOnce(ctx, msg.PlotID, types.AnomalyTemperatureSpike, types.SeverityWarning,
				fmt.Sprintf("temperature %.0f°F at or above spike threshold %.0f°F", msg.Value, s.cfg.TemperatureSpikeF),
				types.NotifyThresholdBreach)
		} else {
			s.resolveOpen(ctx, msg.PlotID, types.AnomalyTemperatureSpike)
		}
	case types.MetricMoisture:
		// A sudden moisture jump between consecutive samples points at water
		// arriving outside a commanded run. Leaks stay open until a human
		// resolves them; there is no safe auto-resolve signal.
		if hadPrev && msg.Value-prev.Value >= s.cfg.LeakMoistureJumpPct {
			s.raiseOnce(ctx, msg.PlotID, types.AnomalyLeak, types.SeverityCritical,
				fmt.Sprintf("moisture jumped %.1f points between consecutive readings", msg.Value-prev.Value),
				types.NotifyLeakDetected)
		}
	}

	// Telemetry resumed after a dropout window: close the open anomaly.
	if hadDropout {
		s.resolveOpen(ctx, msg.PlotID, types.AnomalySensorDropout)
	}

	s.recordIngest("accepted")
	return reading, nil
}

// CheckDropouts sweeps active plots and raises a sensor_dropout anomaly for
// any plot whose last telemetry is older than the dropout timeout. Each
// condition is raised exactly once; the anomaly resolves when telemetry
// resumes.
func (s *Service) CheckDropouts(ctx context.Context) error {
	plots, err := s.plots.ListActive(ctx)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	for _, plot := range plots {
		last := s.cache.LastSeen(plot.ID)
		if last.IsZero() {
			// Never reported; nothing to compare against.
			continue
		}
		if now.Sub(last) <= s.cfg.DropoutTimeout {
			continue
		}
		s.raiseOnce(ctx, plot.ID, types.AnomalySensorDropout, types.SeverityWarning,
			fmt.Sprintf("no telemetry since %s", last.Format(time.RFC3339)),
			types.NotifySensorDropout)
	}
	return nil
}

// raiseOnce creates an anomaly only if no unresolved anomaly of the same
// type is open for the plot, then publishes the matching engine event.
func (s *Service) raiseOnce(ctx context.Context, plotID string, t types.AnomalyType, sev types.Severity, message string, notify types.NotificationType) {
	open, err := s.anomalies.OpenByType(ctx, plotID, t)
	if err != nil {
		s.logger.ErrorContext(ctx, "checking open anomaly",
			slog.String("plot_id", plotID), slog.String("type", string(t)),
			slog.String("error", err.Error()))
		return
	}
	if open != nil {
		return
	}

	a := &types.Anomaly{
		PlotID:   &plotID,
		Type:     t,
		Severity: sev,
		Message:  message,
	}
	if err := s.anomalies.Create(ctx, a); err != nil {
		s.logger.ErrorContext(ctx, "raising anomaly",
			slog.String("plot_id", plotID), slog.String("type", string(t)),
			slog.String("error", err.Error()))
		return
	}

	s.logger.WarnContext(ctx, "anomaly raised",
		slog.String("plot_id", plotID),
		slog.String("anomaly_id", a.ID),
		slog.String("type", string(t)),
	)

	if s.publisher != nil {
		ev := types.EngineEvent{
			PlotID:     plotID,
			Type:       notify,
			Severity:   sev,
			Message:    message,
			AnomalyID:  a.ID,
			OccurredAt: s.clock.Now(),
		}
		if err := s.publisher.PublishEngineEvent(ctx, ev); err != nil {
			s.logger.ErrorContext(ctx, "publishing anomaly event",
				slog.String("anomaly_id", a.ID), slog.String("error", err.Error()))
		}
	}
}

func (s *Service) recordIngest(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordIngest(result)
}

// resolveOpen closes the plot's open anomaly of the given type, if any.
func (s *Service) resolveOpen(ctx context.Context, plotID string, t types.AnomalyType) {
	open, err := s.anomalies.OpenByType(ctx, plotID, t)
	if err != nil || open == nil {
		return
	}
	if err := s.anomalies.Resolve(ctx, open.ID); err != nil {
		s.logger.ErrorContext(ctx, "resolving anomaly",
			slog.String("anomaly_id", open.ID), slog.String("error", err.Error()))
		return
	}
	s.logger.InfoContext(ctx, "anomaly resolved",
		slog.String("plot_id", plotID),
		slog.String("anomaly_id", open.ID),
		slog.String("type", string(t)),
	)
}

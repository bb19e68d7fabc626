package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// ============================================================
// Mock Implementations
// ============================================================

type mockReadingStore struct {
	inserted  []*types.SensorReading
	latest    map[string][]*types.SensorReading
	insertErr error
}

func (m *mockReadingStore) Insert(_ context.Context, r *types.SensorReading) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	r.ID = int64(len(m.inserted) + 1)
	m.inserted = append(m.inserted, r)
	return nil
}

func (m *mockReadingStore) LatestPerMetric(_ context.Context, plotID string) ([]*types.SensorReading, error) {
	return m.latest[plotID], nil
}

type mockAnomalyStore struct {
	created  []*types.Anomaly
	resolved []string
	open     map[string]*types.Anomaly // key plotID+type
}

func newMockAnomalyStore() *mockAnomalyStore {
	return &mockAnomalyStore{open: make(map[string]*types.Anomaly)}
}

func anomalyKey(plotID string, t types.AnomalyType) string {
	return plotID + "/" + string(t)
}

func (m *mockAnomalyStore) Create(_ context.Context, a *types.Anomaly) error {
	a.ID = fmt.Sprintf("anm_%d", len(m.created)+1)
	m.created = append(m.created, a)
	if a.PlotID != nil {
		m.open[anomalyKey(*a.PlotID, a.Type)] = a
	}
	return nil
}

func (m *mockAnomalyStore) OpenByType(_ context.Context, plotID string, t types.AnomalyType) (*types.Anomaly, error) {
	return m.open[anomalyKey(plotID, t)], nil
}

func (m *mockAnomalyStore) Resolve(_ context.Context, id string) error {
	m.resolved = append(m.resolved, id)
	for k, a := range m.open {
		if a.ID == id {
			delete(m.open, k)
		}
	}
	return nil
}

type mockPlotSource struct {
	plots map[string]*types.Plot
}

func (m *mockPlotSource) GetByID(_ context.Context, id string) (*types.Plot, error) {
	p, ok := m.plots[id]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundPlot, "plot not found", nil)
	}
	return p, nil
}

func (m *mockPlotSource) ListActive(_ context.Context) ([]*types.Plot, error) {
	var out []*types.Plot
	for _, p := range m.plots {
		out = append(out, p)
	}
	return out, nil
}

type mockPublisher struct {
	events []types.EngineEvent
}

func (m *mockPublisher) PublishEngineEvent(_ context.Context, ev types.EngineEvent) error {
	m.events = append(m.events, ev)
	return nil
}

type mockMetricsRecorder struct {
	results []string
}

func (m *mockMetricsRecorder) RecordIngest(result string) {
	m.results = append(m.results, result)
}

type fixedClock struct {
	now time.Time
}

func (c *fixedClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// ============================================================
// Fixture
// ============================================================

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc       *Service
	readings  *mockReadingStore
	anomalies *mockAnomalyStore
	publisher *mockPublisher
	metrics   *mockMetricsRecorder
	clock     *fixedClock
}

func newFixture() *fixture {
	readings := &mockReadingStore{latest: make(map[string][]*types.SensorReading)}
	anomalies := newMockAnomalyStore()
	plots := &mockPlotSource{plots: map[string]*types.Plot{
		"plot_1": {ID: "plot_1", Name: "North Bed", Status: types.PlotStatusActive},
	}}
	publisher := &mockPublisher{}
	metrics := &mockMetricsRecorder{}
	clock := &fixedClock{now: now}

	cfg := config.IngestConfig{
		DropoutTimeout:      30 * time.Minute,
		TemperatureSpikeF:   105,
		LeakMoistureJumpPct: 20,
	}
	svc := NewService(cfg, readings, anomalies, plots, publisher, metrics, clock, discardLogger())
	return &fixture{svc: svc, readings: readings, anomalies: anomalies, publisher: publisher, metrics: metrics, clock: clock}
}

func telemetry(metric types.Metric, value float64, at time.Time) types.TelemetryMessage {
	return types.TelemetryMessage{PlotID: "plot_1", Metric: metric, Value: value, RecordedAt: at}
}

func assertCode(t *testing.T, err error, code types.ErrorCode) {
	t.Helper()
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Code != code {
		t.Fatalf("error code = %q, want %q", appErr.Code, code)
	}
}

// ============================================================
// Test: Accept
// ============================================================

func TestAccept_ValidReadingPersistsAndPromotes(t *testing.T) {
	f := newFixture()

	reading, err := f.svc.Accept(context.Background(), telemetry(types.MetricMoisture, 41.5, now.Add(-time.Minute)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reading.Health != types.SensorHealthOK {
		t.Errorf("empty health must default to ok, got %q", reading.Health)
	}
	if len(f.readings.inserted) != 1 {
		t.Fatalf("expected 1 stored reading, got %d", len(f.readings.inserted))
	}
	snap, ok := f.svc.Cache().Get("plot_1", types.MetricMoisture)
	if !ok || snap.Value != 41.5 {
		t.Errorf("snapshot not promoted: %+v ok=%v", snap, ok)
	}
}

func TestAccept_MissingPlotID(t *testing.T) {
	f := newFixture()
	msg := telemetry(types.MetricMoisture, 41.5, now)
	msg.PlotID = ""

	_, err := f.svc.Accept(context.Background(), msg)
	assertCode(t, err, types.ErrCodeValidationMissingField)
}

func TestAccept_UnknownMetric(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Accept(context.Background(), telemetry(types.Metric("humidity"), 50, now))
	assertCode(t, err, types.ErrCodeValidationInvalidMetric)
	if len(f.readings.inserted) != 0 {
		t.Error("rejected reading must not be stored")
	}
}

func TestAccept_OutOfBoundsValue(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Accept(context.Background(), telemetry(types.MetricMoisture, 140, now))
	assertCode(t, err, types.ErrCodeReadingInvalid)
}

func TestAccept_FutureTimestamp(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Accept(context.Background(), telemetry(types.MetricMoisture, 40, now.Add(10*time.Minute)))
	assertCode(t, err, types.ErrCodeReadingInvalid)
}

func TestAccept_WithinClockSkewTolerated(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Accept(context.Background(), telemetry(types.MetricMoisture, 40, now.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("reading within skew tolerance must be accepted: %v", err)
	}
}

func TestAccept_StaleAgainstSnapshot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 40, now.Add(-time.Minute))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}

	_, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 35, now.Add(-2*time.Minute)))
	assertCode(t, err, types.ErrCodeReadingStale)

	// Equal timestamp is also stale.
	_, err = f.svc.Accept(ctx, telemetry(types.MetricMoisture, 35, now.Add(-time.Minute)))
	assertCode(t, err, types.ErrCodeReadingStale)

	if len(f.readings.inserted) != 1 {
		t.Errorf("stale readings must not be stored, have %d", len(f.readings.inserted))
	}
}

func TestAccept_UnknownPlotRejected(t *testing.T) {
	f := newFixture()
	msg := telemetry(types.MetricMoisture, 40, now)
	msg.PlotID = "plot_missing"

	_, err := f.svc.Accept(context.Background(), msg)
	assertCode(t, err, types.ErrCodeNotFoundPlot)
}

func TestAccept_LowBatteryRaisesOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricBattery, 10, now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricBattery, 9, now.Add(-time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.anomalies.created) != 1 {
		t.Fatalf("expected exactly one low_battery anomaly, got %d", len(f.anomalies.created))
	}
	if f.anomalies.created[0].Type != types.AnomalyLowBattery {
		t.Errorf("anomaly type = %q", f.anomalies.created[0].Type)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != types.NotifyLowBattery {
		t.Errorf("expected one low_battery event, got %+v", f.publisher.events)
	}
}

func TestAccept_HealthyBatteryRaisesNothing(t *testing.T) {
	f := newFixture()

	if _, err := f.svc.Accept(context.Background(), telemetry(types.MetricBattery, 80, now.Add(-time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.anomalies.created) != 0 {
		t.Errorf("healthy battery must not raise, got %d anomalies", len(f.anomalies.created))
	}
}

func TestAccept_TemperatureSpikeRaisedOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricTemperature, 108, now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricTemperature, 112, now.Add(-time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.anomalies.created) != 1 {
		t.Fatalf("expected exactly one temperature_spike anomaly, got %d", len(f.anomalies.created))
	}
	if f.anomalies.created[0].Type != types.AnomalyTemperatureSpike {
		t.Errorf("anomaly type = %q", f.anomalies.created[0].Type)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != types.NotifyThresholdBreach {
		t.Errorf("expected one threshold_breach event, got %+v", f.publisher.events)
	}
}

func TestAccept_TemperatureRecoveryResolvesSpike(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricTemperature, 110, now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricTemperature, 88, now.Add(-time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.anomalies.resolved) != 1 {
		t.Fatalf("expected spike anomaly resolved on recovery, got %v", f.anomalies.resolved)
	}
}

func TestAccept_MoistureJumpRaisesLeak(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 30, now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 55, now.Add(-time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.anomalies.created) != 1 {
		t.Fatalf("expected one leak anomaly, got %d", len(f.anomalies.created))
	}
	a := f.anomalies.created[0]
	if a.Type != types.AnomalyLeak || a.Severity != types.SeverityCritical {
		t.Errorf("anomaly = type %q severity %q, want leak/critical", a.Type, a.Severity)
	}
	if len(f.publisher.events) != 1 || f.publisher.events[0].Type != types.NotifyLeakDetected {
		t.Errorf("expected one leak_detected event, got %+v", f.publisher.events)
	}
}

func TestAccept_GradualMoistureRiseIsNotALeak(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 30, now.Add(-3*time.Minute))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 38, now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 45, now.Add(-time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.anomalies.created) != 0 {
		t.Errorf("gradual rise must not raise a leak, got %+v", f.anomalies.created)
	}
}

// ============================================================
// Test: Ingest Metrics
// ============================================================

func TestAccept_RecordsIngestResults(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 40, now.Add(-2*time.Minute))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 140, now.Add(-time.Minute))); err == nil {
		t.Fatal("expected out-of-bounds rejection")
	}
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 35, now.Add(-3*time.Minute))); err == nil {
		t.Fatal("expected stale rejection")
	}

	want := []string{"accepted", "rejected_invalid", "rejected_stale"}
	if len(f.metrics.results) != len(want) {
		t.Fatalf("results = %v, want %v", f.metrics.results, want)
	}
	for i, r := range want {
		if f.metrics.results[i] != r {
			t.Errorf("results[%d] = %q, want %q", i, f.metrics.results[i], r)
		}
	}
}

// ============================================================
// Test: Dropout Detection
// ============================================================

func TestCheckDropouts_RaisesAfterTimeout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 40, now.Add(-time.Hour))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}

	if err := f.svc.CheckDropouts(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.anomalies.created) != 1 || f.anomalies.created[0].Type != types.AnomalySensorDropout {
		t.Fatalf("expected one sensor_dropout anomaly, got %+v", f.anomalies.created)
	}

	// Second sweep with the anomaly still open must not duplicate it.
	if err := f.svc.CheckDropouts(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.anomalies.created) != 1 {
		t.Errorf("dropout raised again while open, have %d anomalies", len(f.anomalies.created))
	}
}

func TestCheckDropouts_SilentPlotIgnored(t *testing.T) {
	f := newFixture()

	// plot_1 has never reported; there is nothing to compare against.
	if err := f.svc.CheckDropouts(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.anomalies.created) != 0 {
		t.Errorf("never-reported plot must not raise, got %d anomalies", len(f.anomalies.created))
	}
}

func TestCheckDropouts_RecentTelemetryIsFine(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 40, now.Add(-5*time.Minute))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}
	if err := f.svc.CheckDropouts(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.anomalies.created) != 0 {
		t.Errorf("recent telemetry must not raise a dropout, got %d", len(f.anomalies.created))
	}
}

func TestAccept_ResumedTelemetryResolvesDropout(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 40, now.Add(-time.Hour))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}
	if err := f.svc.CheckDropouts(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.anomalies.created) != 1 {
		t.Fatalf("expected dropout anomaly, got %d", len(f.anomalies.created))
	}

	// Fresh telemetry arrives after the gap.
	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 38, now.Add(-time.Second))); err != nil {
		t.Fatalf("resume reading failed: %v", err)
	}
	if len(f.anomalies.resolved) != 1 {
		t.Fatalf("expected dropout anomaly resolved, got %v", f.anomalies.resolved)
	}
}

// ============================================================
// Test: Warm
// ============================================================

func TestWarm_LoadsLatestReadings(t *testing.T) {
	f := newFixture()
	f.readings.latest["plot_1"] = []*types.SensorReading{
		{PlotID: "plot_1", Metric: types.MetricMoisture, Value: 33, RecordedAt: now.Add(-10 * time.Minute)},
		{PlotID: "plot_1", Metric: types.MetricBattery, Value: 77, RecordedAt: now.Add(-10 * time.Minute)},
	}

	if err := f.svc.Warm(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, ok := f.svc.Cache().Get("plot_1", types.MetricMoisture)
	if !ok || snap.Value != 33 {
		t.Errorf("moisture snapshot not warmed: %+v ok=%v", snap, ok)
	}
	if _, ok := f.svc.Cache().Get("plot_1", types.MetricBattery); !ok {
		t.Error("battery snapshot not warmed")
	}
}

func TestWarm_NeverRollsBackFreshSnapshot(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Accept(ctx, telemetry(types.MetricMoisture, 40, now.Add(-time.Minute))); err != nil {
		t.Fatalf("seed reading failed: %v", err)
	}
	f.readings.latest["plot_1"] = []*types.SensorReading{
		{PlotID: "plot_1", Metric: types.MetricMoisture, Value: 20, RecordedAt: now.Add(-time.Hour)},
	}

	if err := f.svc.Warm(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	snap, _ := f.svc.Cache().Get("plot_1", types.MetricMoisture)
	if snap.Value != 40 {
		t.Errorf("re-warm rolled snapshot back to %v", snap.Value)
	}
}

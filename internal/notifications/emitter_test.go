package notifications

import (
	"context"
	"errors"
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

type mockStore struct {
	created   []*types.NotificationRecord
	last      map[string]*types.NotificationRecord // plotID + type
	createErr error
	lastErr   error
}

func newMockStore() *mockStore {
	return &mockStore{last: make(map[string]*types.NotificationRecord)}
}

func lastKey(plotID string, t types.NotificationType) string {
	return plotID + "/" + string(t)
}

func (m *mockStore) Create(_ context.Context, n *types.NotificationRecord) error {
	if m.createErr != nil {
		return m.createErr
	}
	n.ID = "ntf_1"
	m.created = append(m.created, n)
	return nil
}

func (m *mockStore) LastOfType(_ context.Context, plotID string, t types.NotificationType) (*types.NotificationRecord, error) {
	if m.lastErr != nil {
		return nil, m.lastErr
	}
	return m.last[lastKey(plotID, t)], nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

var now = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newEmitter(store *mockStore) *Emitter {
	cfg := config.NotificationConfig{DedupWindow: time.Hour}
	return NewEmitter(store, cfg, fixedClock{now: now}, discardLogger())
}

func anomalyEvent() types.EngineEvent {
	return types.EngineEvent{
		PlotID:     "plot_1",
		PlotName:   "North Bed",
		Type:       types.NotifyLowBattery,
		Severity:   types.SeverityWarning,
		Message:    "sensor battery at 10%",
		AnomalyID:  "anm_1",
		OccurredAt: now,
	}
}

func wateringEvent() types.EngineEvent {
	return types.EngineEvent{
		PlotID:     "plot_1",
		PlotName:   "North Bed",
		Type:       types.NotifyWateringDone,
		Severity:   types.SeverityInfo,
		Message:    "watering completed on North Bed",
		EventID:    "evt_1",
		OccurredAt: now,
	}
}

func envelope() types.EventEnvelope {
	return types.EventEnvelope{EventID: "evt_env_1", EventType: "anomaly.low_battery", Timestamp: now}
}

// ============================================================
// Tests
// ============================================================

func TestHandleEngineEvent_StoresNotification(t *testing.T) {
	store := newMockStore()
	e := newEmitter(store)

	if err := e.HandleEngineEvent(context.Background(), envelope(), anomalyEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(store.created))
	}
	n := store.created[0]
	if n.Type != types.NotifyLowBattery || n.Severity != types.SeverityWarning {
		t.Errorf("notification = %+v", n)
	}
	if n.PlotID == nil || *n.PlotID != "plot_1" {
		t.Error("plot reference missing")
	}
	if n.Payload["anomaly_id"] != "anm_1" || n.Payload["source_event_id"] != "evt_env_1" {
		t.Errorf("payload cross-references missing: %+v", n.Payload)
	}
	if n.Payload["plot_name"] != "North Bed" {
		t.Errorf("plot_name missing from payload: %+v", n.Payload)
	}
}

func TestHandleEngineEvent_DedupSuppressesWithinWindow(t *testing.T) {
	store := newMockStore()
	store.last[lastKey("plot_1", types.NotifyLowBattery)] = &types.NotificationRecord{
		ID: "ntf_prev", Type: types.NotifyLowBattery, CreatedAt: now.Add(-30 * time.Minute),
	}
	e := newEmitter(store)

	if err := e.HandleEngineEvent(context.Background(), envelope(), anomalyEvent()); err != nil {
		t.Fatalf("suppression must return nil so the message deletes: %v", err)
	}
	if len(store.created) != 0 {
		t.Errorf("suppressed event stored %d notifications", len(store.created))
	}
}

func TestHandleEngineEvent_EmitsAfterWindowExpires(t *testing.T) {
	store := newMockStore()
	store.last[lastKey("plot_1", types.NotifyLowBattery)] = &types.NotificationRecord{
		ID: "ntf_prev", Type: types.NotifyLowBattery, CreatedAt: now.Add(-2 * time.Hour),
	}
	e := newEmitter(store)

	if err := e.HandleEngineEvent(context.Background(), envelope(), anomalyEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 1 {
		t.Errorf("expected notification after window expiry, got %d", len(store.created))
	}
}

func TestHandleEngineEvent_WateringLifecycleAlwaysEmits(t *testing.T) {
	store := newMockStore()
	store.last[lastKey("plot_1", types.NotifyWateringDone)] = &types.NotificationRecord{
		ID: "ntf_prev", Type: types.NotifyWateringDone, CreatedAt: now.Add(-time.Minute),
	}
	e := newEmitter(store)

	if err := e.HandleEngineEvent(context.Background(), envelope(), wateringEvent()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.created) != 1 {
		t.Errorf("watering lifecycle must never dedup, got %d notifications", len(store.created))
	}
	if store.created[0].Payload["watering_event_id"] != "evt_1" {
		t.Errorf("payload = %+v", store.created[0].Payload)
	}
}

func TestHandleEngineEvent_StoreErrorPropagatesForRedelivery(t *testing.T) {
	store := newMockStore()
	store.createErr = errors.New("database down")
	e := newEmitter(store)

	if err := e.HandleEngineEvent(context.Background(), envelope(), anomalyEvent()); err == nil {
		t.Fatal("store failure must propagate so the message redelivers")
	}
}

func TestDedupable(t *testing.T) {
	cases := []struct {
		t    types.NotificationType
		want bool
	}{
		{types.NotifyLowBattery, true},
		{types.NotifySensorDropout, true},
		{types.NotifyLeakDetected, true},
		{types.NotifyConnectivityLost, true},
		{types.NotifyThresholdBreach, true},
		{types.NotifyWateringDone, false},
		{types.NotifyWateringSkipped, false},
		{types.NotifyWateringAborted, false},
	}
	for _, c := range cases {
		if got := dedupable(c.t); got != c.want {
			t.Errorf("dedupable(%q) = %v, want %v", c.t, got, c.want)
		}
	}
}

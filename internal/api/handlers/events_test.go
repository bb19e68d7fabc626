package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miraqua/internal/types"
)

// =============================================================================
// Mock Implementations for Event and Reading Handlers
// =============================================================================

type mockEventSource struct {
	events   []*types.WateringEvent
	last     *types.WateringEvent
	listFrom time.Time
	listTo   time.Time
	limit    int
}

func (m *mockEventSource) ListByPlot(_ context.Context, _ string, from, to time.Time, limit int) ([]*types.WateringEvent, error) {
	m.listFrom = from
	m.listTo = to
	m.limit = limit
	return m.events, nil
}

func (m *mockEventSource) LastForPlot(_ context.Context, _ string) (*types.WateringEvent, error) {
	return m.last, nil
}

type mockReadingSource struct {
	readings []*types.SensorReading
}

func (m *mockReadingSource) LatestPerMetric(_ context.Context, _ string) ([]*types.SensorReading, error) {
	return m.readings, nil
}

func newEventRouter(events *mockEventSource, plots *mockPlotRepo) chi.Router {
	r := chi.NewRouter()
	NewEventHandler(events, plots, testLogger()).RegisterRoutes(r)
	return r
}

// =============================================================================
// Event List Tests
// =============================================================================

func TestEventList_ExplicitRange(t *testing.T) {
	started := testNow.Add(-time.Hour)
	src := &mockEventSource{
		events: []*types.WateringEvent{{
			ID: "evt_1", PlotID: "plt_1", StartedAt: &started,
			DurationMin: 20, Trigger: types.TriggerScheduled, Outcome: types.OutcomeCompleted,
		}},
	}
	r := newEventRouter(src, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/events?from=2026-03-01&to=2026-03-02&limit=50", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "evt_1")
	assert.Equal(t, 50, src.limit)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), src.listFrom)
	// The to bound is inclusive through end of day.
	assert.Equal(t, time.Date(2026, 3, 2, 23, 59, 59, 0, time.UTC), src.listTo)
}

func TestEventList_EmptyIsArrayNotNull(t *testing.T) {
	r := newEventRouter(&mockEventSource{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/events", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestEventList_ReversedRangeRejected(t *testing.T) {
	r := newEventRouter(&mockEventSource{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/events?from=2026-03-08&to=2026-03-02", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidDateRange), errorCode(t, rec))
}

func TestEventList_UnknownPlot(t *testing.T) {
	plots := &mockPlotRepo{
		getFn: func(context.Context, string) (*types.Plot, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlot, "plot not found", nil)
		},
	}
	r := newEventRouter(&mockEventSource{}, plots)

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_missing/events", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Event Latest Tests
// =============================================================================

func TestEventLatest_ReturnsMostRecent(t *testing.T) {
	src := &mockEventSource{
		last: &types.WateringEvent{ID: "evt_9", PlotID: "plt_1", Outcome: types.OutcomeCompleted},
	}
	r := newEventRouter(src, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/events/latest", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "evt_9")
}

func TestEventLatest_NoHistory(t *testing.T) {
	r := newEventRouter(&mockEventSource{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/events/latest", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, string(types.ErrCodeNotFoundEvent), errorCode(t, rec))
}

// =============================================================================
// Latest Readings Tests
// =============================================================================

func TestReadingsLatest_KeyedByMetric(t *testing.T) {
	src := &mockReadingSource{
		readings: []*types.SensorReading{
			{ID: 1, PlotID: "plt_1", Metric: types.MetricMoisture, Value: 42, RecordedAt: testNow},
			{ID: 2, PlotID: "plt_1", Metric: types.MetricBattery, Value: 88, RecordedAt: testNow},
		},
	}
	r := chi.NewRouter()
	NewReadingHandler(src, &mockPlotRepo{}, testLogger()).RegisterRoutes(r)

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/readings/latest", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"moisture"`)
	assert.Contains(t, rec.Body.String(), `"battery"`)
	assert.Contains(t, rec.Body.String(), `"plot_id":"plt_1"`)
}

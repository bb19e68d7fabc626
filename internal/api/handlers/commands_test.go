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
// Mock Implementations for Command Handler
// =============================================================================

type mockCommandQueue struct {
	enqueued   []*types.ManualCommand
	hasPending bool
	enqueueErr error
}

func (m *mockCommandQueue) Enqueue(_ context.Context, c *types.ManualCommand) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	c.ID = "cmd_1"
	m.enqueued = append(m.enqueued, c)
	return nil
}

func (m *mockCommandQueue) HasPending(_ context.Context, _ string) (bool, error) {
	return m.hasPending, nil
}

type mockCommandEvents struct {
	lastManual *types.WateringEvent
}

func (m *mockCommandEvents) LastByTrigger(_ context.Context, _ string, trigger types.Trigger) (*types.WateringEvent, error) {
	if trigger == types.TriggerManual {
		return m.lastManual, nil
	}
	return nil, nil
}

func newCommandRouter(queue *mockCommandQueue, events *mockCommandEvents, plots *mockPlotRepo) chi.Router {
	r := chi.NewRouter()
	h := NewCommandHandler(queue, events, plots, 30*time.Minute,
		testValidator(), fixedClock{now: testNow}, testLogger())
	h.RegisterRoutes(r)
	return r
}

// =============================================================================
// WaterNow Tests
// =============================================================================

func TestWaterNow_QueuesCommand(t *testing.T) {
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, &mockCommandEvents{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{
		"duration_minutes": 10,
	})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, queue.enqueued, 1)
	cmd := queue.enqueued[0]
	assert.Equal(t, types.CommandStart, cmd.Action)
	assert.Equal(t, "plt_1", cmd.PlotID)
	assert.Equal(t, 10, cmd.DurationMin)
	assert.Equal(t, testNow, cmd.RequestedAt)
}

func TestWaterNow_EmptyBodyUsesPlotDefault(t *testing.T) {
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, &mockCommandEvents{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{})

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, queue.enqueued, 1)
	// Zero duration defers to the plot's configured duration at consume time.
	assert.Zero(t, queue.enqueued[0].DurationMin)
}

func TestWaterNow_ArchivedPlotConflicts(t *testing.T) {
	archived := activePlot("plt_1")
	at := testNow.Add(-time.Hour)
	archived.ArchivedAt = &at
	plots := &mockPlotRepo{
		getFn: func(context.Context, string) (*types.Plot, error) { return archived, nil },
	}
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, &mockCommandEvents{}, plots)

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictPlotArchived), errorCode(t, rec))
	assert.Empty(t, queue.enqueued)
}

func TestWaterNow_CooldownActive(t *testing.T) {
	started := testNow.Add(-10 * time.Minute)
	events := &mockCommandEvents{
		lastManual: &types.WateringEvent{
			ID: "evt_prev", PlotID: "plt_1", Trigger: types.TriggerManual,
			StartedAt: &started, CreatedAt: started,
		},
	}
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, events, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, string(types.ErrCodeCooldownActive), errorCode(t, rec))
	assert.Empty(t, queue.enqueued)
}

func TestWaterNow_CooldownElapsed(t *testing.T) {
	started := testNow.Add(-time.Hour)
	events := &mockCommandEvents{
		lastManual: &types.WateringEvent{
			ID: "evt_prev", PlotID: "plt_1", Trigger: types.TriggerManual,
			StartedAt: &started, CreatedAt: started,
		},
	}
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, events, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{})

	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Len(t, queue.enqueued, 1)
}

func TestWaterNow_AlreadyQueuedConflicts(t *testing.T) {
	queue := &mockCommandQueue{hasPending: true}
	r := newCommandRouter(queue, &mockCommandEvents{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictCommandInProgress), errorCode(t, rec))
	assert.Empty(t, queue.enqueued)
}

func TestWaterNow_DurationOutOfRange(t *testing.T) {
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, &mockCommandEvents{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/water-now", map[string]any{
		"duration_minutes": 500,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, queue.enqueued)
}

// =============================================================================
// Stop Tests
// =============================================================================

func TestStop_QueuesStopCommand(t *testing.T) {
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, &mockCommandEvents{}, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/stop", nil)

	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Len(t, queue.enqueued, 1)
	assert.Equal(t, types.CommandStop, queue.enqueued[0].Action)
}

func TestStop_UnknownPlot(t *testing.T) {
	plots := &mockPlotRepo{
		getFn: func(context.Context, string) (*types.Plot, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlot, "plot not found", nil)
		},
	}
	queue := &mockCommandQueue{}
	r := newCommandRouter(queue, &mockCommandEvents{}, plots)

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/stop", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, queue.enqueued)
}

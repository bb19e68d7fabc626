package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"miraqua/internal/core"
	"miraqua/internal/types"
)

// defaultHistoryDays is the lookback when GET .../events has no range.
const defaultHistoryDays = 30

// EventSource provides watering history access.
// Satisfied by db.EventRepository.
type EventSource interface {
	ListByPlot(ctx context.Context, plotID string, from, to time.Time, limit int) ([]*types.WateringEvent, error)
	LastForPlot(ctx context.Context, plotID string) (*types.WateringEvent, error)
}

// EventHandler serves watering event history.
type EventHandler struct {
	events EventSource
	plots  SchedulePlotSource
	logger *slog.Logger
}

// NewEventHandler creates a new EventHandler.
func NewEventHandler(events EventSource, plots SchedulePlotSource, l *slog.Logger) *EventHandler {
	if l == nil {
		l = slog.Default()
	}
	return &EventHandler{events: events, plots: plots, logger: l}
}

// RegisterRoutes mounts event routes under /plots/{id}.
func (h *EventHandler) RegisterRoutes(r chi.Router) {
	r.Route("/plots/{id}/events", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/latest", h.Latest)
	})
}

// List handles GET /v1/plots/{id}/events?from&to&limit. Results are newest
// first, ordered by actual start time.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -defaultHistoryDays)
	to := now

	if s := q.Get("from"); s != "" {
		t, err := types.ParseDate(s)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		from = t
	}
	if s := q.Get("to"); s != "" {
		t, err := types.ParseDate(s)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		to = t.AddDate(0, 0, 1).Add(-time.Second)
	}
	if to.Before(from) {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDateRange,
			"to must not precede from", nil))
		return
	}

	limit := 0
	if s := q.Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	events, err := h.events.ListByPlot(r.Context(), plot.ID, from, to, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if events == nil {
		events = []*types.WateringEvent{}
	}
	core.JSON(w, r, http.StatusOK, events)
}

// Latest handles GET /v1/plots/{id}/events/latest: the most recent event of
// any trigger, or 404 when the plot has no history.
func (h *EventHandler) Latest(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	event, err := h.events.LastForPlot(r.Context(), plot.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if event == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundEvent,
			"plot has no watering history", nil))
		return
	}
	core.JSON(w, r, http.StatusOK, event)
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"miraqua/internal/core"
	"miraqua/internal/types"
)

// ReadingSource provides per-plot latest readings.
// Satisfied by db.ReadingRepository.
type ReadingSource interface {
	LatestPerMetric(ctx context.Context, plotID string) ([]*types.SensorReading, error)
}

// ReadingHandler serves the latest accepted reading per telemetry channel.
// The API reads the durable readings table rather than the ingest worker's
// in-memory cache; both hold the same last-known-good values.
type ReadingHandler struct {
	readings ReadingSource
	plots    SchedulePlotSource
	logger   *slog.Logger
}

// NewReadingHandler creates a new ReadingHandler.
func NewReadingHandler(readings ReadingSource, plots SchedulePlotSource, l *slog.Logger) *ReadingHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ReadingHandler{readings: readings, plots: plots, logger: l}
}

// RegisterRoutes mounts reading routes under /plots/{id}.
func (h *ReadingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plots/{id}/readings/latest", h.Latest)
}

// Latest handles GET /v1/plots/{id}/readings/latest: the newest accepted
// reading for each metric the plot has ever reported, keyed by metric name.
func (h *ReadingHandler) Latest(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	readings, err := h.readings.LatestPerMetric(r.Context(), plot.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	byMetric := make(map[string]*types.SensorReading, len(readings))
	for _, reading := range readings {
		byMetric[string(reading.Metric)] = reading
	}
	core.JSON(w, r, http.StatusOK, map[string]any{
		"plot_id":  plot.ID,
		"readings": byMetric,
	})
}

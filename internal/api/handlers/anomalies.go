package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"miraqua/internal/core"
	"miraqua/internal/types"
)

// AnomalySource provides anomaly access and lifecycle transitions.
// Satisfied by db.AnomalyRepository.
type AnomalySource interface {
	GetByID(ctx context.Context, id string) (*types.Anomaly, error)
	List(ctx context.Context, plotID string, unresolvedOnly bool, limit int) ([]*types.Anomaly, error)
	Acknowledge(ctx context.Context, id string) error
	Resolve(ctx context.Context, id string) error
}

// AnomalyHandler serves anomaly queries and the acknowledge/resolve
// transitions.
type AnomalyHandler struct {
	anomalies AnomalySource
	logger    *slog.Logger
}

// NewAnomalyHandler creates a new AnomalyHandler.
func NewAnomalyHandler(anomalies AnomalySource, l *slog.Logger) *AnomalyHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AnomalyHandler{anomalies: anomalies, logger: l}
}

// RegisterRoutes mounts anomaly routes on the provided chi.Router.
func (h *AnomalyHandler) RegisterRoutes(r chi.Router) {
	r.Route("/anomalies", func(r chi.Router) {
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/ack", h.Acknowledge)
			r.Post("/resolve", h.Resolve)
		})
	})
}

// List handles GET /v1/anomalies?plot_id&unresolved&limit, newest first.
func (h *AnomalyHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unresolvedOnly := q.Get("unresolved") == "true"

	limit := 0
	if s := q.Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	anomalies, err := h.anomalies.List(r.Context(), q.Get("plot_id"), unresolvedOnly, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if anomalies == nil {
		anomalies = []*types.Anomaly{}
	}
	core.JSON(w, r, http.StatusOK, anomalies)
}

// Get handles GET /v1/anomalies/{id}.
func (h *AnomalyHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, err := h.anomalies.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

// Acknowledge handles POST /v1/anomalies/{id}/ack. Idempotent.
func (h *AnomalyHandler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.anomalies.Acknowledge(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	a, err := h.anomalies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

// Resolve handles POST /v1/anomalies/{id}/resolve. Resolving twice fails
// with conflict_anomaly_resolved.
func (h *AnomalyHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.anomalies.Resolve(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "anomaly resolved by user",
		slog.String("anomaly_id", id))

	a, err := h.anomalies.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, a)
}

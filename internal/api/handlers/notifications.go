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

// defaultNotificationDays is the lookback when GET .../notifications has no
// since parameter.
const defaultNotificationDays = 7

// NotificationSource provides notification history access.
// Satisfied by db.NotificationRepository.
type NotificationSource interface {
	ListByPlot(ctx context.Context, plotID string, since time.Time, limit int) ([]*types.NotificationRecord, error)
}

// NotificationHandler serves per-plot notification history.
type NotificationHandler struct {
	notifications NotificationSource
	plots         SchedulePlotSource
	logger        *slog.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(notifications NotificationSource, plots SchedulePlotSource, l *slog.Logger) *NotificationHandler {
	if l == nil {
		l = slog.Default()
	}
	return &NotificationHandler{notifications: notifications, plots: plots, logger: l}
}

// RegisterRoutes mounts notification routes under /plots/{id}.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plots/{id}/notifications", h.List)
}

// List handles GET /v1/plots/{id}/notifications?since=YYYY-MM-DD&limit=N,
// newest first.
func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	q := r.URL.Query()
	since := time.Now().UTC().AddDate(0, 0, -defaultNotificationDays)
	if s := q.Get("since"); s != "" {
		t, err := types.ParseDate(s)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		since = t
	}

	limit := 0
	if s := q.Get("limit"); s != "" {
		limit, _ = strconv.Atoi(s)
	}

	notifications, err := h.notifications.ListByPlot(r.Context(), plot.ID, since, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if notifications == nil {
		notifications = []*types.NotificationRecord{}
	}
	core.JSON(w, r, http.StatusOK, notifications)
}

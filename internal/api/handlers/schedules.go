package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"miraqua/internal/core"
	"miraqua/internal/types"
)

// defaultEffectiveDays is the projection span when GET .../schedule/effective
// is called without a range.
const defaultEffectiveDays = 7

// maxEffectiveDays bounds the projection span a single request may ask for.
const maxEffectiveDays = 31

// ScheduleService is the schedule domain contract for this handler.
// Satisfied by schedule.Store.
type ScheduleService interface {
	Rules(ctx context.Context, plotID string) ([]*types.ScheduleRule, error)
	ReplaceRules(ctx context.Context, plot *types.Plot, rules []*types.ScheduleRule) error
	CreateOverride(ctx context.Context, o *types.ScheduleOverride) error
	Overrides(ctx context.Context, plotID, from, to string) ([]*types.ScheduleOverride, error)
	EffectiveEvents(ctx context.Context, plot *types.Plot, from, to time.Time) ([]types.EffectiveEvent, error)
}

// SchedulePlotSource resolves the plot a schedule request targets.
type SchedulePlotSource interface {
	GetByID(ctx context.Context, id string) (*types.Plot, error)
}

// ScheduleRuleInput is one rule in a PUT .../schedule/rules request.
type ScheduleRuleInput struct {
	Days         []string `json:"days,omitempty" validate:"dive,weekday"`
	IntervalDays int      `json:"interval_days,omitempty" validate:"gte=0,lte=30"`
	AnchorDate   string   `json:"anchor_date,omitempty"`
	StartTime    string   `json:"start_time" validate:"required,time_of_day"`
	DurationMin  int      `json:"duration_minutes" validate:"required,gt=0,lte=240"`
	Flexible     bool     `json:"flexible"`
	Enabled      *bool    `json:"enabled,omitempty"`
}

// ReplaceRulesRequest is the request body for PUT /v1/plots/{id}/schedule/rules.
// The rule set replaces the plot's rules atomically; config_version guards
// against concurrent editors.
type ReplaceRulesRequest struct {
	Rules         []ScheduleRuleInput `json:"rules" validate:"max=10,dive"`
	ConfigVersion int                 `json:"config_version" validate:"required,gt=0"`
}

// CreateOverrideRequest is the request body for POST /v1/plots/{id}/schedule/overrides.
type CreateOverrideRequest struct {
	Date           string               `json:"date" validate:"required"`
	Action         types.OverrideAction `json:"action" validate:"required,oneof=skip reschedule adjust"`
	NewStartTime   string               `json:"new_start_time,omitempty" validate:"omitempty,time_of_day"`
	NewDurationMin int                  `json:"new_duration_minutes,omitempty" validate:"omitempty,gt=0,lte=240"`
	Note           string               `json:"note,omitempty" validate:"max=500"`
}

// ScheduleView aggregates a plot's rules and upcoming overrides.
type ScheduleView struct {
	PlotID        string                    `json:"plot_id"`
	ConfigVersion int                       `json:"config_version"`
	Rules         []*types.ScheduleRule     `json:"rules"`
	Overrides     []*types.ScheduleOverride `json:"overrides"`
}

// ScheduleHandler manages schedule rules, overrides, and the effective
// schedule projection.
type ScheduleHandler struct {
	schedules ScheduleService
	plots     SchedulePlotSource
	validator *core.Validator
	logger    *slog.Logger
}

// NewScheduleHandler creates a new ScheduleHandler with the provided
// dependencies.
func NewScheduleHandler(schedules ScheduleService, plots SchedulePlotSource, v *core.Validator, l *slog.Logger) *ScheduleHandler {
	if l == nil {
		l = slog.Default()
	}
	return &ScheduleHandler{schedules: schedules, plots: plots, validator: v, logger: l}
}

// RegisterRoutes mounts schedule routes under /plots/{id}/schedule.
func (h *ScheduleHandler) RegisterRoutes(r chi.Router) {
	r.Route("/plots/{id}/schedule", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/rules", h.ReplaceRules)
		r.Post("/overrides", h.CreateOverride)
		r.Get("/effective", h.Effective)
	})
}

// Get handles GET /v1/plots/{id}/schedule: current rules plus overrides for
// the next 31 days.
func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	rules, err := h.schedules.Rules(r.Context(), plot.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	today := time.Now().UTC()
	overrides, err := h.schedules.Overrides(r.Context(), plot.ID,
		today.Format("2006-01-02"),
		today.AddDate(0, 0, maxEffectiveDays).Format("2006-01-02"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if rules == nil {
		rules = []*types.ScheduleRule{}
	}
	if overrides == nil {
		overrides = []*types.ScheduleOverride{}
	}
	core.JSON(w, r, http.StatusOK, ScheduleView{
		PlotID:        plot.ID,
		ConfigVersion: plot.ConfigVersion,
		Rules:         rules,
		Overrides:     overrides,
	})
}

// ReplaceRules handles PUT /v1/plots/{id}/schedule/rules. The whole rule set
// is validated (including the no-overlap check) and replaced atomically.
func (h *ScheduleHandler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRulesRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if plot.ArchivedAt != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeConflictPlotArchived,
			"archived plots cannot be modified", nil))
		return
	}
	plot.ConfigVersion = req.ConfigVersion

	rules := make([]*types.ScheduleRule, 0, len(req.Rules))
	for _, in := range req.Rules {
		enabled := true
		if in.Enabled != nil {
			enabled = *in.Enabled
		}
		rules = append(rules, &types.ScheduleRule{
			PlotID:       plot.ID,
			Days:         types.Weekdays(in.Days),
			IntervalDays: in.IntervalDays,
			AnchorDate:   in.AnchorDate,
			StartTime:    in.StartTime,
			DurationMin:  in.DurationMin,
			Flexible:     in.Flexible,
			Enabled:      enabled,
		})
	}

	if err := h.schedules.ReplaceRules(r.Context(), plot, rules); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, map[string]any{
		"plot_id":    plot.ID,
		"rule_count": len(rules),
	})
}

// CreateOverride handles POST /v1/plots/{id}/schedule/overrides. At most one
// override may exist per plot per date; a duplicate fails with
// conflict_duplicate_override.
func (h *ScheduleHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var req CreateOverrideRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if plot.ArchivedAt != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeConflictPlotArchived,
			"archived plots cannot be modified", nil))
		return
	}

	o := &types.ScheduleOverride{
		PlotID:         plot.ID,
		Date:           req.Date,
		Action:         req.Action,
		NewStartTime:   req.NewStartTime,
		NewDurationMin: req.NewDurationMin,
		Reason:         types.OverrideReasonManual,
		Note:           req.Note,
	}
	if err := h.schedules.CreateOverride(r.Context(), o); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "schedule override created",
		slog.String("plot_id", plot.ID),
		slog.String("date", o.Date),
		slog.String("action", string(o.Action)),
	)
	core.JSON(w, r, http.StatusCreated, o)
}

// Effective handles GET /v1/plots/{id}/schedule/effective?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Without a range it projects the next seven days.
func (h *ScheduleHandler) Effective(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	from, to, err := effectiveRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	events, err := h.schedules.EffectiveEvents(r.Context(), plot, from, to)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if events == nil {
		events = []types.EffectiveEvent{}
	}
	core.JSON(w, r, http.StatusOK, map[string]any{
		"plot_id": plot.ID,
		"from":    from.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
		"events":  events,
	})
}

// effectiveRange parses and bounds the projection window.
func effectiveRange(fromStr, toStr string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, defaultEffectiveDays).Add(-time.Second)

	if fromStr != "" {
		t, err := types.ParseDate(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = t
	}
	if toStr != "" {
		t, err := types.ParseDate(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		// Inclusive end of day.
		to = t.AddDate(0, 0, 1).Add(-time.Second)
	}

	if to.Before(from) {
		return time.Time{}, time.Time{}, types.NewAppError(types.ErrCodeValidationInvalidDateRange,
			"to must not precede from", nil)
	}
	if to.Sub(from) > maxEffectiveDays*24*time.Hour {
		return time.Time{}, time.Time{}, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDateRange,
			"projection range too wide", nil,
			map[string]any{"max_days": maxEffectiveDays})
	}
	return from, to, nil
}

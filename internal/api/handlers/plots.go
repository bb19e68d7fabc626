// Package handlers contains the HTTP handler implementations for the
// irrigation API. Each handler depends on locally-defined interfaces rather
// than concrete repositories so tests can inject fakes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"miraqua/internal/core"
	"miraqua/internal/types"
)

// PlotRepo defines the data access contract for plot operations.
// Mirrors the concrete db.PlotRepository methods used by this handler.
type PlotRepo interface {
	Create(ctx context.Context, p *types.Plot) error
	GetByID(ctx context.Context, id string) (*types.Plot, error)
	ListActive(ctx context.Context) ([]*types.Plot, error)
	Update(ctx context.Context, p *types.Plot) error
	Archive(ctx context.Context, id, reason string) error
}

// CreatePlotRequest is the request body for POST /v1/plots.
type CreatePlotRequest struct {
	Name                 string            `json:"name" validate:"required,max=200"`
	Location             types.Location    `json:"location" validate:"required"`
	AreaSqFt             float64           `json:"area_sq_ft" validate:"required,gt=0"`
	Soil                 types.SoilType    `json:"soil_type" validate:"required,oneof=loam clay sand silt peat chalk"`
	Crop                 types.CropProfile `json:"crop_profile"`
	MoistureThresholdPct float64           `json:"moisture_threshold_pct" validate:"gte=0,lte=100"`
	WateringDurationMin  int               `json:"watering_duration_minutes" validate:"required,gt=0,lte=240"`
	RainSkipThresholdPct float64           `json:"rain_skip_threshold_pct" validate:"gte=0,lte=100"`
}

// UpdatePlotRequest is the request body for PATCH /v1/plots/{id}. All fields
// are optional; ConfigVersion is required and must match the stored row.
type UpdatePlotRequest struct {
	Name                 *string           `json:"name,omitempty" validate:"omitempty,max=200"`
	Location             *types.Location   `json:"location,omitempty"`
	AreaSqFt             *float64          `json:"area_sq_ft,omitempty" validate:"omitempty,gt=0"`
	Soil                 *types.SoilType   `json:"soil_type,omitempty" validate:"omitempty,oneof=loam clay sand silt peat chalk"`
	Crop                 *types.CropProfile `json:"crop_profile,omitempty"`
	MoistureThresholdPct *float64          `json:"moisture_threshold_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	WateringDurationMin  *int              `json:"watering_duration_minutes,omitempty" validate:"omitempty,gt=0,lte=240"`
	RainSkipThresholdPct *float64          `json:"rain_skip_threshold_pct,omitempty" validate:"omitempty,gte=0,lte=100"`
	Status               *types.PlotStatus `json:"status,omitempty" validate:"omitempty,oneof=active paused"`
	ConfigVersion        int               `json:"config_version" validate:"required,gt=0"`
}

// ArchivePlotRequest is the request body for POST /v1/plots/{id}/archive.
type ArchivePlotRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

// PlotHandler manages plot CRUD and lifecycle.
type PlotHandler struct {
	plots     PlotRepo
	validator *core.Validator
	logger    *slog.Logger
}

// NewPlotHandler creates a new PlotHandler with the provided dependencies.
func NewPlotHandler(plots PlotRepo, v *core.Validator, l *slog.Logger) *PlotHandler {
	if l == nil {
		l = slog.Default()
	}
	return &PlotHandler{plots: plots, validator: v, logger: l}
}

// RegisterRoutes mounts plot routes on the provided chi.Router.
func (h *PlotHandler) RegisterRoutes(r chi.Router) {
	r.Route("/plots", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Post("/archive", h.Archive)
		})
	})
}

// Create handles POST /v1/plots.
func (h *PlotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreatePlotRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	plot := &types.Plot{
		Name:                 req.Name,
		Location:             req.Location,
		AreaSqFt:             req.AreaSqFt,
		Soil:                 req.Soil,
		Crop:                 req.Crop,
		MoistureThresholdPct: req.MoistureThresholdPct,
		WateringDurationMin:  req.WateringDurationMin,
		RainSkipThresholdPct: req.RainSkipThresholdPct,
	}
	if err := h.plots.Create(r.Context(), plot); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "plot created",
		slog.String("plot_id", plot.ID),
		slog.String("name", plot.Name),
	)
	core.JSON(w, r, http.StatusCreated, plot)
}

// List handles GET /v1/plots. Archived plots are excluded.
func (h *PlotHandler) List(w http.ResponseWriter, r *http.Request) {
	plots, err := h.plots.ListActive(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if plots == nil {
		plots = []*types.Plot{}
	}
	core.JSON(w, r, http.StatusOK, plots)
}

// Get handles GET /v1/plots/{id}. Archived plots are returned so history
// views keep working; callers inspect status.
func (h *PlotHandler) Get(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, plot)
}

// Update handles PATCH /v1/plots/{id}. Partial update with optimistic
// concurrency: the request's config_version must match the stored row or
// the update is rejected with conflict_schedule_version.
func (h *PlotHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlotRequest
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

	applyPlotUpdate(plot, &req)
	plot.ConfigVersion = req.ConfigVersion

	if err := h.plots.Update(r.Context(), plot); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "plot updated",
		slog.String("plot_id", plot.ID),
		slog.Int("config_version", plot.ConfigVersion),
	)
	core.JSON(w, r, http.StatusOK, plot)
}

// Archive handles POST /v1/plots/{id}/archive. Soft delete: the plot drops
// out of engine evaluation but its history remains queryable.
func (h *PlotHandler) Archive(w http.ResponseWriter, r *http.Request) {
	var req ArchivePlotRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.plots.Archive(r.Context(), id, req.Reason); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "plot archived",
		slog.String("plot_id", id),
		slog.String("reason", req.Reason),
	)
	core.JSON(w, r, http.StatusOK, map[string]any{"id": id, "status": types.PlotStatusArchived})
}

func applyPlotUpdate(plot *types.Plot, req *UpdatePlotRequest) {
	if req.Name != nil {
		plot.Name = *req.Name
	}
	if req.Location != nil {
		plot.Location = *req.Location
	}
	if req.AreaSqFt != nil {
		plot.AreaSqFt = *req.AreaSqFt
	}
	if req.Soil != nil {
		plot.Soil = *req.Soil
	}
	if req.Crop != nil {
		plot.Crop = *req.Crop
	}
	if req.MoistureThresholdPct != nil {
		plot.MoistureThresholdPct = *req.MoistureThresholdPct
	}
	if req.WateringDurationMin != nil {
		plot.WateringDurationMin = *req.WateringDurationMin
	}
	if req.RainSkipThresholdPct != nil {
		plot.RainSkipThresholdPct = *req.RainSkipThresholdPct
	}
	if req.Status != nil {
		plot.Status = *req.Status
	}
}

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

// CommandQueue is the durable manual-command hand-off to the Decision
// Engine. Satisfied by db.CommandRepository.
type CommandQueue interface {
	Enqueue(ctx context.Context, c *types.ManualCommand) error
	HasPending(ctx context.Context, plotID string) (bool, error)
}

// CommandEventSource provides the watering history needed for cooldown
// checks. Satisfied by db.EventRepository.
type CommandEventSource interface {
	LastByTrigger(ctx context.Context, plotID string, trigger types.Trigger) (*types.WateringEvent, error)
}

// WaterNowRequest is the request body for POST /v1/plots/{id}/water-now.
// Duration defaults to the plot's configured watering duration.
type WaterNowRequest struct {
	DurationMin int `json:"duration_minutes,omitempty" validate:"omitempty,gt=0,lte=240"`
}

// CommandHandler accepts manual watering commands. Commands are queued for
// the engine rather than executed inline: the engine owns the controller
// connection and the in-flight run registry.
type CommandHandler struct {
	commands  CommandQueue
	events    CommandEventSource
	plots     PlotRepo
	cooldown  time.Duration
	validator *core.Validator
	clock     types.Clock
	logger    *slog.Logger
}

// NewCommandHandler creates a new CommandHandler. cooldown is the minimum
// spacing between manual waterings per plot.
func NewCommandHandler(
	commands CommandQueue,
	events CommandEventSource,
	plots PlotRepo,
	cooldown time.Duration,
	v *core.Validator,
	clock types.Clock,
	l *slog.Logger,
) *CommandHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if l == nil {
		l = slog.Default()
	}
	return &CommandHandler{
		commands:  commands,
		events:    events,
		plots:     plots,
		cooldown:  cooldown,
		validator: v,
		clock:     clock,
		logger:    l,
	}
}

// RegisterRoutes mounts command routes under /plots/{id}.
func (h *CommandHandler) RegisterRoutes(r chi.Router) {
	r.Route("/plots/{id}", func(r chi.Router) {
		r.Post("/water-now", h.WaterNow)
		r.Post("/stop", h.Stop)
	})
}

// WaterNow handles POST /v1/plots/{id}/water-now.
//
// Rejections, in order:
//   - archived plot        -> conflict_plot_archived
//   - cooldown not elapsed -> cooldown_active (429)
//   - command already queued -> conflict_command_in_progress
//
// The engine re-checks the cooldown at consume time, so a command that
// slips past a race here is still dropped safely.
func (h *CommandHandler) WaterNow(w http.ResponseWriter, r *http.Request) {
	var req WaterNowRequest
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
			"archived plots cannot be watered", nil))
		return
	}

	if err := h.checkCooldown(r.Context(), plot.ID); err != nil {
		core.Error(w, r, err)
		return
	}

	pending, err := h.commands.HasPending(r.Context(), plot.ID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if pending {
		core.Error(w, r, types.NewAppError(types.ErrCodeConflictCommandInProgress,
			"a command for this plot is already queued", nil))
		return
	}

	cmd := &types.ManualCommand{
		PlotID:      plot.ID,
		Action:      types.CommandStart,
		DurationMin: req.DurationMin,
		RequestedAt: h.clock.Now(),
	}
	if err := h.commands.Enqueue(r.Context(), cmd); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "manual watering queued",
		slog.String("plot_id", plot.ID),
		slog.String("command_id", cmd.ID),
		slog.Int("duration_minutes", cmd.DurationMin),
	)
	core.JSON(w, r, http.StatusAccepted, cmd)
}

// Stop handles POST /v1/plots/{id}/stop. Queues a stop command; if nothing
// is running when the engine consumes it, the command is a no-op.
func (h *CommandHandler) Stop(w http.ResponseWriter, r *http.Request) {
	plot, err := h.plots.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	cmd := &types.ManualCommand{
		PlotID:      plot.ID,
		Action:      types.CommandStop,
		RequestedAt: h.clock.Now(),
	}
	if err := h.commands.Enqueue(r.Context(), cmd); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "stop command queued",
		slog.String("plot_id", plot.ID),
		slog.String("command_id", cmd.ID),
	)
	core.JSON(w, r, http.StatusAccepted, cmd)
}

// checkCooldown rejects a manual start when the last manual watering is too
// recent. The reference point is the actual start time when available, else
// the event's creation time.
func (h *CommandHandler) checkCooldown(ctx context.Context, plotID string) error {
	last, err := h.events.LastByTrigger(ctx, plotID, types.TriggerManual)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}

	ref := last.CreatedAt
	if last.StartedAt != nil {
		ref = *last.StartedAt
	}
	elapsed := h.clock.Now().Sub(ref)
	if elapsed >= h.cooldown {
		return nil
	}

	return types.NewAppErrorWithDetails(types.ErrCodeCooldownActive,
		"manual watering cooldown has not elapsed", nil,
		map[string]any{
			"retry_after_seconds": int((h.cooldown - elapsed).Seconds()),
			"last_started_at":     ref,
		})
}

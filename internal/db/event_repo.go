package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"miraqua/internal/types"
)

// EventRepository provides data access for the watering_events table.
//
// Events are append-only historical records. A pending event transitions to
// exactly one terminal outcome (completed/aborted/skipped) and is immutable
// afterwards; UpdateOutcome enforces this at the SQL level.
type EventRepository struct {
	db DBTX
}

// NewEventRepository creates a new EventRepository backed by the given
// database connection (pool or transaction).
func NewEventRepository(db DBTX) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `e.id, e.plot_id, e.scheduled_for, e.started_at, e.completed_at,
	e.duration_minutes, e.volume_gallons, e.trigger, e.outcome, e.reason, e.created_at`

func scanEvent(row pgx.Row) (*types.WateringEvent, error) {
	var e types.WateringEvent
	var reason *string
	err := row.Scan(
		&e.ID,
		&e.PlotID,
		&e.ScheduledFor,
		&e.StartedAt,
		&e.CompletedAt,
		&e.DurationMin,
		&e.VolumeGal,
		&e.Trigger,
		&e.Outcome,
		&reason,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if reason != nil {
		e.Reason = types.SkipReason(*reason)
	}
	return &e, nil
}

// Create inserts a new watering event. The ID is generated here with an
// evt_ prefix.
func (r *EventRepository) Create(ctx context.Context, e *types.WateringEvent) error {
	e.ID = "evt_" + uuid.New().String()
	var reason *string
	if e.Reason != "" {
		s := string(e.Reason)
		reason = &s
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO watering_events (
			id, plot_id, scheduled_for, started_at, completed_at,
			duration_minutes, volume_gallons, trigger, outcome, reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		e.ID, e.PlotID, e.ScheduledFor, e.StartedAt, e.CompletedAt,
		e.DurationMin, e.VolumeGal, e.Trigger, e.Outcome, reason,
	).Scan(&e.CreatedAt)
	if err != nil {
		return dbError("inserting watering event", err)
	}
	return nil
}

// MarkStarted stamps the actual start time on a pending event once the
// controller accepts the start command.
func (r *EventRepository) MarkStarted(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE watering_events SET started_at = $2
		WHERE id = $1 AND outcome = $3`,
		id, at, types.OutcomePending)
	if err != nil {
		return dbError("marking watering event started", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundEvent,
			"no pending watering event with that id", nil)
	}
	return nil
}

// UpdateOutcome transitions a pending event to a terminal outcome. The WHERE
// clause restricts the transition to pending rows so completed history can
// never be rewritten; a no-op update returns not_found_watering_event.
func (r *EventRepository) UpdateOutcome(ctx context.Context, id string, outcome types.Outcome, reason types.SkipReason, completedAt *time.Time) error {
	var reasonVal *string
	if reason != "" {
		s := string(reason)
		reasonVal = &s
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE watering_events
		SET outcome = $2, reason = COALESCE($3, reason), completed_at = $4
		WHERE id = $1 AND outcome = $5`,
		id, outcome, reasonVal, completedAt, types.OutcomePending)
	if err != nil {
		return dbError("updating watering event outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundEvent,
			"no pending watering event with that id", nil)
	}
	return nil
}

// ListByPlot returns events for a plot within [from, to], newest first.
func (r *EventRepository) ListByPlot(ctx context.Context, plotID string, from, to time.Time, limit int) ([]*types.WateringEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+` FROM watering_events e
		WHERE e.plot_id = $1 AND e.created_at >= $2 AND e.created_at <= $3
		ORDER BY COALESCE(e.started_at, e.created_at) DESC
		LIMIT $4`, plotID, from, to, limit)
	if err != nil {
		return nil, dbError("listing watering events", err)
	}
	defer rows.Close()

	var events []*types.WateringEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, dbError("scanning watering event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating watering events", err)
	}
	return events, nil
}

// LastByTrigger returns the most recent event for a plot with the given
// trigger, or nil if none exists. The engine uses this for manual cooldown
// checks and "last watered" state.
func (r *EventRepository) LastByTrigger(ctx context.Context, plotID string, trigger types.Trigger) (*types.WateringEvent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM watering_events e
		WHERE e.plot_id = $1 AND e.trigger = $2
		ORDER BY COALESCE(e.started_at, e.created_at) DESC
		LIMIT 1`, plotID, trigger)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("querying last watering event", err)
	}
	return e, nil
}

// LastForPlot returns the most recent event for a plot regardless of trigger,
// or nil if the plot has no history.
func (r *EventRepository) LastForPlot(ctx context.Context, plotID string) (*types.WateringEvent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM watering_events e
		WHERE e.plot_id = $1
		ORDER BY COALESCE(e.started_at, e.created_at) DESC
		LIMIT 1`, plotID)
	e, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("querying last watering event", err)
	}
	return e, nil
}

// HasEventForSlot reports whether the plot already has an event recorded for
// the given scheduled slot. The engine uses this to avoid double-processing a
// slot across ticks.
func (r *EventRepository) HasEventForSlot(ctx context.Context, plotID string, scheduledFor time.Time) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM watering_events
			WHERE plot_id = $1 AND scheduled_for = $2
		)`, plotID, scheduledFor).Scan(&exists)
	if err != nil {
		return false, dbError("checking watering slot", err)
	}
	return exists, nil
}

// StalePending returns pending events whose expected completion time is
// before the cutoff. Expected completion is the run start (started_at, or
// created_at when the start was never stamped) plus the run duration, so an
// in-flight run is never reported stale before its timer could have elapsed.
// The watchdog aborts these so no event stays pending indefinitely.
func (r *EventRepository) StalePending(ctx context.Context, cutoff time.Time) ([]*types.WateringEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+eventColumns+` FROM watering_events e
		WHERE e.outcome = $1
		  AND COALESCE(e.started_at, e.created_at) + make_interval(mins => e.duration_minutes) < $2
		ORDER BY e.created_at`, types.OutcomePending, cutoff)
	if err != nil {
		return nil, dbError("querying stale pending events", err)
	}
	defer rows.Close()

	var events []*types.WateringEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, dbError("scanning watering event", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating watering events", err)
	}
	return events, nil
}

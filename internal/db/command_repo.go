package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"miraqua/internal/types"
)

// CommandRepository provides data access for the manual_commands table.
//
// Manual commands are the durable hand-off between the API ("water now",
// "stop") and the Decision Engine. The API enqueues; the engine consumes
// exactly once by stamping consumed_at.
type CommandRepository struct {
	db DBTX
}

// NewCommandRepository creates a new CommandRepository backed by the given
// database connection (pool or transaction).
func NewCommandRepository(db DBTX) *CommandRepository {
	return &CommandRepository{db: db}
}

const commandColumns = `c.id, c.plot_id, c.action, c.duration_minutes, c.requested_at, c.consumed_at`

func scanCommand(row pgx.Row) (*types.ManualCommand, error) {
	var c types.ManualCommand
	err := row.Scan(
		&c.ID,
		&c.PlotID,
		&c.Action,
		&c.DurationMin,
		&c.RequestedAt,
		&c.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Enqueue inserts a pending manual command. The ID is generated here with a
// cmd_ prefix.
func (r *CommandRepository) Enqueue(ctx context.Context, c *types.ManualCommand) error {
	c.ID = "cmd_" + uuid.New().String()
	err := r.db.QueryRow(ctx, `
		INSERT INTO manual_commands (id, plot_id, action, duration_minutes, requested_at)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING requested_at`,
		c.ID, c.PlotID, c.Action, c.DurationMin, c.RequestedAt,
	).Scan(&c.RequestedAt)
	if err != nil {
		return dbError("enqueuing manual command", err)
	}
	return nil
}

// ConsumePending atomically claims the oldest unconsumed command for a plot,
// or returns nil if none is pending. The UPDATE...RETURNING makes the claim
// race-free across concurrent engine cycles.
func (r *CommandRepository) ConsumePending(ctx context.Context, plotID string) (*types.ManualCommand, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE manual_commands SET consumed_at = now()
		WHERE id = (
			SELECT id FROM manual_commands
			WHERE plot_id = $1 AND consumed_at IS NULL
			ORDER BY requested_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, plot_id, action, duration_minutes, requested_at, consumed_at`, plotID)
	c, err := scanCommand(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("consuming manual command", err)
	}
	return c, nil
}

// HasPending reports whether the plot has an unconsumed command.
func (r *CommandRepository) HasPending(ctx context.Context, plotID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM manual_commands
			WHERE plot_id = $1 AND consumed_at IS NULL
		)`, plotID).Scan(&exists)
	if err != nil {
		return false, dbError("checking pending commands", err)
	}
	return exists, nil
}

// PurgeConsumed removes consumed commands older than the cutoff. Maintenance
// only; pending commands are never purged.
func (r *CommandRepository) PurgeConsumed(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM manual_commands
		WHERE consumed_at IS NOT NULL AND consumed_at < $1`, before)
	if err != nil {
		return 0, dbError("purging consumed commands", err)
	}
	return tag.RowsAffected(), nil
}

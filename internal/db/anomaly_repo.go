package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"miraqua/internal/types"
)

// AnomalyRepository provides data access for the anomalies table.
//
// Anomalies form an audit trail: rows are created on detection, mutated only
// by acknowledge/resolve transitions, and never deleted.
type AnomalyRepository struct {
	db DBTX
}

// NewAnomalyRepository creates a new AnomalyRepository backed by the given
// database connection (pool or transaction).
func NewAnomalyRepository(db DBTX) *AnomalyRepository {
	return &AnomalyRepository{db: db}
}

const anomalyColumns = `a.id, a.plot_id, a.type, a.severity, a.message,
	a.acknowledged_at, a.resolved_at, a.created_at`

func scanAnomaly(row pgx.Row) (*types.Anomaly, error) {
	var a types.Anomaly
	err := row.Scan(
		&a.ID,
		&a.PlotID,
		&a.Type,
		&a.Severity,
		&a.Message,
		&a.AcknowledgedAt,
		&a.ResolvedAt,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new anomaly. The ID is generated here with an anm_ prefix.
func (r *AnomalyRepository) Create(ctx context.Context, a *types.Anomaly) error {
	a.ID = "anm_" + uuid.New().String()
	err := r.db.QueryRow(ctx, `
		INSERT INTO anomalies (id, plot_id, type, severity, message)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING created_at`,
		a.ID, a.PlotID, a.Type, a.Severity, a.Message,
	).Scan(&a.CreatedAt)
	if err != nil {
		return dbError("inserting anomaly", err)
	}
	return nil
}

// OpenByType returns the unresolved anomaly of the given type for a plot, or
// nil if none is open. Detection paths use this to raise each condition
// exactly once rather than once per tick.
func (r *AnomalyRepository) OpenByType(ctx context.Context, plotID string, t types.AnomalyType) (*types.Anomaly, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies a
		WHERE a.plot_id = $1 AND a.type = $2 AND a.resolved_at IS NULL
		ORDER BY a.created_at DESC
		LIMIT 1`, plotID, t)
	a, err := scanAnomaly(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("querying open anomaly", err)
	}
	return a, nil
}

// GetByID returns an anomaly by ID.
func (r *AnomalyRepository) GetByID(ctx context.Context, id string) (*types.Anomaly, error) {
	row := r.db.QueryRow(ctx, `SELECT `+anomalyColumns+` FROM anomalies a WHERE a.id = $1`, id)
	a, err := scanAnomaly(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundAnomaly, "anomaly not found", err)
	}
	if err != nil {
		return nil, dbError("querying anomaly", err)
	}
	return a, nil
}

// List returns anomalies, optionally filtered by plot and unresolved-only,
// newest first.
func (r *AnomalyRepository) List(ctx context.Context, plotID string, unresolvedOnly bool, limit int) ([]*types.Anomaly, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies a
		WHERE ($1 = '' OR a.plot_id = $1)
		  AND (NOT $2 OR a.resolved_at IS NULL)
		ORDER BY a.created_at DESC
		LIMIT $3`, plotID, unresolvedOnly, limit)
	if err != nil {
		return nil, dbError("listing anomalies", err)
	}
	defer rows.Close()

	var anomalies []*types.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, dbError("scanning anomaly", err)
		}
		anomalies = append(anomalies, a)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating anomalies", err)
	}
	return anomalies, nil
}

// Acknowledge marks an anomaly as seen by the user. Idempotent: a second
// acknowledge is a no-op on an already-acknowledged row.
func (r *AnomalyRepository) Acknowledge(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE anomalies SET acknowledged_at = COALESCE(acknowledged_at, now())
		WHERE id = $1`, id)
	if err != nil {
		return dbError("acknowledging anomaly", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAnomaly, "anomaly not found", nil)
	}
	return nil
}

// Resolve closes an anomaly. Resolving an already-resolved anomaly fails
// with conflict_anomaly_resolved so callers notice double transitions.
func (r *AnomalyRepository) Resolve(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE anomalies SET resolved_at = now()
		WHERE id = $1 AND resolved_at IS NULL`, id)
	if err != nil {
		return dbError("resolving anomaly", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return types.NewAppError(types.ErrCodeConflictAnomalyResolved,
			"anomaly is already resolved", nil)
	}
	return nil
}

package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"

	"miraqua/internal/types"
)

// PlotRepository provides data access for the plots table.
//
// Plots are soft-deleted: archiving sets archived_at and the reason but never
// removes the row, because historical readings and watering events reference
// it.
type PlotRepository struct {
	db DBTX
}

// NewPlotRepository creates a new PlotRepository backed by the given database
// connection (pool or transaction).
func NewPlotRepository(db DBTX) *PlotRepository {
	return &PlotRepository{db: db}
}

// plotColumns is the standard set of columns selected for plot queries.
const plotColumns = `p.id, p.name,
	p.location_lat, p.location_lon, p.location_display_name,
	p.area_sq_ft, p.soil_type, p.crop_profile,
	p.moisture_threshold_pct, p.watering_duration_minutes, p.rain_skip_threshold_pct,
	p.status, p.config_version,
	p.created_at, p.updated_at, p.archived_at, p.archived_reason`

// scanPlot scans a single plot row. The columns must match plotColumns order.
func scanPlot(row pgx.Row) (*types.Plot, error) {
	var p types.Plot
	var (
		displayName    *string
		archivedReason *string
	)

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Location.Lat,
		&p.Location.Lon,
		&displayName,
		&p.AreaSqFt,
		&p.Soil,
		&p.Crop,
		&p.MoistureThresholdPct,
		&p.WateringDurationMin,
		&p.RainSkipThresholdPct,
		&p.Status,
		&p.ConfigVersion,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.ArchivedAt,
		&archivedReason,
	)
	if err != nil {
		return nil, err
	}

	if displayName != nil {
		p.Location.DisplayName = *displayName
	}
	if archivedReason != nil {
		p.ArchivedReason = *archivedReason
	}

	return &p, nil
}

// Create inserts a new plot. The ID is generated here with a plt_ prefix.
func (r *PlotRepository) Create(ctx context.Context, p *types.Plot) error {
	if err := p.Validate(); err != nil {
		return err
	}

	p.ID = "plt_" + uuid.New().String()
	p.Status = types.PlotStatusActive
	p.ConfigVersion = 1

	var displayName *string
	if p.Location.DisplayName != "" {
		displayName = &p.Location.DisplayName
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO plots (
			id, name, location_lat, location_lon, location_display_name,
			area_sq_ft, soil_type, crop_profile,
			moisture_threshold_pct, watering_duration_minutes, rain_skip_threshold_pct,
			status, config_version
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Location.Lat, p.Location.Lon, displayName,
		p.AreaSqFt, p.Soil, p.Crop,
		p.MoistureThresholdPct, p.WateringDurationMin, p.RainSkipThresholdPct,
		p.Status, p.ConfigVersion,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return dbError("inserting plot", err)
	}
	return nil
}

// GetByID returns a plot by ID, including archived plots (callers decide
// whether archived is acceptable).
func (r *PlotRepository) GetByID(ctx context.Context, id string) (*types.Plot, error) {
	row := r.db.QueryRow(ctx, `SELECT `+plotColumns+` FROM plots p WHERE p.id = $1`, id)
	p, err := scanPlot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundPlot, "plot not found", err)
	}
	if err != nil {
		return nil, dbError("querying plot", err)
	}
	return p, nil
}

// ListActive returns all plots eligible for engine evaluation.
func (r *PlotRepository) ListActive(ctx context.Context) ([]*types.Plot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+plotColumns+` FROM plots p
		WHERE p.status = $1 AND p.archived_at IS NULL
		ORDER BY p.created_at`, types.PlotStatusActive)
	if err != nil {
		return nil, dbError("listing plots", err)
	}
	defer rows.Close()

	var plots []*types.Plot
	for rows.Next() {
		p, err := scanPlot(rows)
		if err != nil {
			return nil, dbError("scanning plot", err)
		}
		plots = append(plots, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating plots", err)
	}
	return plots, nil
}

// Update persists configuration changes with optimistic concurrency: the
// plot's ConfigVersion must match the stored row or the update is rejected
// with conflict_schedule_version.
func (r *PlotRepository) Update(ctx context.Context, p *types.Plot) error {
	if err := p.Validate(); err != nil {
		return err
	}

	var displayName *string
	if p.Location.DisplayName != "" {
		displayName = &p.Location.DisplayName
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE plots SET
			name = $2, location_lat = $3, location_lon = $4, location_display_name = $5,
			area_sq_ft = $6, soil_type = $7, crop_profile = $8,
			moisture_threshold_pct = $9, watering_duration_minutes = $10,
			rain_skip_threshold_pct = $11, status = $12,
			config_version = config_version + 1, updated_at = now()
		WHERE id = $1 AND config_version = $13 AND archived_at IS NULL`,
		p.ID, p.Name, p.Location.Lat, p.Location.Lon, displayName,
		p.AreaSqFt, p.Soil, p.Crop,
		p.MoistureThresholdPct, p.WateringDurationMin,
		p.RainSkipThresholdPct, p.Status, p.ConfigVersion,
	)
	if err != nil {
		return dbError("updating plot", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing plot from a version race.
		if _, getErr := r.GetByID(ctx, p.ID); getErr != nil {
			return getErr
		}
		return types.NewAppError(types.ErrCodeConflictScheduleVersion,
			"plot was modified concurrently; reload and retry", nil)
	}
	p.ConfigVersion++
	return nil
}

// Archive soft-deletes a plot. Archived plots are excluded from engine
// evaluation but remain referenced by historical readings and events.
func (r *PlotRepository) Archive(ctx context.Context, id, reason string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE plots SET status = $2, archived_at = now(), archived_reason = $3, updated_at = now()
		WHERE id = $1 AND archived_at IS NULL`,
		id, types.PlotStatusArchived, reason)
	if err != nil {
		return dbError("archiving plot", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); getErr != nil {
			return getErr
		}
		return types.NewAppError(types.ErrCodeConflictPlotArchived, "plot is already archived", nil)
	}
	return nil
}

// TouchUpdated bumps updated_at without changing configuration. Used by
// maintenance jobs that want freshness tracking without a version bump.
func (r *PlotRepository) TouchUpdated(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE plots SET updated_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return dbError("touching plot", err)
	}
	return nil
}

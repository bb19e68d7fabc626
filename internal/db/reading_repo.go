package db

import (
	"context"
	"time"

	"miraqua/internal/types"
)

// ReadingRepository provides data access for the sensor_readings table.
//
// The table is an append-only log: rows are inserted by Sensor Ingest, read
// by the API and the archiver, and deleted only by the archiver after the
// batch has been durably written to cold storage.
type ReadingRepository struct {
	db DBTX
}

// NewReadingRepository creates a new ReadingRepository backed by the given
// database connection (pool or transaction).
func NewReadingRepository(db DBTX) *ReadingRepository {
	return &ReadingRepository{db: db}
}

// Insert appends one accepted reading.
func (r *ReadingRepository) Insert(ctx context.Context, reading *types.SensorReading) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO sensor_readings (plot_id, metric, value, recorded_at, health)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id`,
		reading.PlotID, reading.Metric, reading.Value, reading.RecordedAt, reading.Health,
	).Scan(&reading.ID)
	if err != nil {
		return dbError("inserting sensor reading", err)
	}
	return nil
}

// LatestPerMetric returns the most recent reading for each metric of a plot.
// Used to warm the ingest cache on startup and by the readings API.
func (r *ReadingRepository) LatestPerMetric(ctx context.Context, plotID string) ([]*types.SensorReading, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (metric) id, plot_id, metric, value, recorded_at, health
		FROM sensor_readings
		WHERE plot_id = $1
		ORDER BY metric, recorded_at DESC`, plotID)
	if err != nil {
		return nil, dbError("querying latest readings", err)
	}
	defer rows.Close()

	var readings []*types.SensorReading
	for rows.Next() {
		var reading types.SensorReading
		if err := rows.Scan(&reading.ID, &reading.PlotID, &reading.Metric,
			&reading.Value, &reading.RecordedAt, &reading.Health); err != nil {
			return nil, dbError("scanning sensor reading", err)
		}
		readings = append(readings, &reading)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating sensor readings", err)
	}
	return readings, nil
}

// ListOlderThan returns up to limit readings recorded before the cutoff,
// oldest first. The archiver drains the table in these batches.
func (r *ReadingRepository) ListOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*types.SensorReading, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, plot_id, metric, value, recorded_at, health
		FROM sensor_readings
		WHERE recorded_at < $1
		ORDER BY recorded_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, dbError("querying aged readings", err)
	}
	defer rows.Close()

	var readings []*types.SensorReading
	for rows.Next() {
		var reading types.SensorReading
		if err := rows.Scan(&reading.ID, &reading.PlotID, &reading.Metric,
			&reading.Value, &reading.RecordedAt, &reading.Health); err != nil {
			return nil, dbError("scanning sensor reading", err)
		}
		readings = append(readings, &reading)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating sensor readings", err)
	}
	return readings, nil
}

// DeleteByIDs removes archived readings by primary key. Called only after
// the archive batch has been flushed and synced.
func (r *ReadingRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sensor_readings WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, dbError("deleting archived readings", err)
	}
	return tag.RowsAffected(), nil
}

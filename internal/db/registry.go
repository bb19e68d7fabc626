package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"miraqua/internal/config"
)

// Registry bundles all repository instances behind a single connection pool.
// Services receive only the repositories they need; the registry exists for
// wiring in main() and for graceful shutdown.
type Registry struct {
	pool *pgxpool.Pool

	Plots         *PlotRepository
	Schedules     *ScheduleRepository
	Readings      *ReadingRepository
	Events        *EventRepository
	Anomalies     *AnomalyRepository
	Notifications *NotificationRepository
	Commands      *CommandRepository
}

// NewRegistry creates a connection pool from the database configuration,
// verifies connectivity, and constructs all repositories.
func NewRegistry(ctx context.Context, cfg config.DatabaseConfig) (*Registry, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL.Reveal())
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}

	poolCfg.MaxConns = int32(cfg.MaxConns)
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Registry{
		pool:          pool,
		Plots:         NewPlotRepository(pool),
		Schedules:     NewScheduleRepository(pool),
		Readings:      NewReadingRepository(pool),
		Events:        NewEventRepository(pool),
		Anomalies:     NewAnomalyRepository(pool),
		Notifications: NewNotificationRepository(pool),
		Commands:      NewCommandRepository(pool),
	}, nil
}

// Pool exposes the underlying pool for transaction management and health
// checks.
func (r *Registry) Pool() *pgxpool.Pool {
	return r.pool
}

// Ping verifies database connectivity. Used by the readiness endpoint.
func (r *Registry) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close releases the connection pool.
func (r *Registry) Close() error {
	r.pool.Close()
	return nil
}

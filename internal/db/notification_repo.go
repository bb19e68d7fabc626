package db

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"miraqua/internal/types"
)

// NotificationRepository provides data access for the notifications table.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new NotificationRepository backed by
// the given database connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = `n.id, n.plot_id, n.type, n.severity, n.message, n.payload, n.created_at`

func scanNotification(row pgx.Row) (*types.NotificationRecord, error) {
	var n types.NotificationRecord
	err := row.Scan(
		&n.ID,
		&n.PlotID,
		&n.Type,
		&n.Severity,
		&n.Message,
		&n.Payload,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// Create inserts a new notification record. The ID is generated here with an
// ntf_ prefix.
func (r *NotificationRepository) Create(ctx context.Context, n *types.NotificationRecord) error {
	n.ID = "ntf_" + uuid.New().String()
	err := r.db.QueryRow(ctx, `
		INSERT INTO notifications (id, plot_id, type, severity, message, payload)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		n.ID, n.PlotID, n.Type, n.Severity, n.Message, n.Payload,
	).Scan(&n.CreatedAt)
	if err != nil {
		return dbError("inserting notification", err)
	}
	return nil
}

// LastOfType returns the most recent notification of the given type for a
// plot, or nil if none exists. The emitter uses this for rolling-window
// deduplication.
func (r *NotificationRepository) LastOfType(ctx context.Context, plotID string, t types.NotificationType) (*types.NotificationRecord, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+notificationColumns+` FROM notifications n
		WHERE n.plot_id = $1 AND n.type = $2
		ORDER BY n.created_at DESC
		LIMIT 1`, plotID, t)
	n, err := scanNotification(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("querying last notification", err)
	}
	return n, nil
}

// ListByPlot returns notifications for a plot created after the given time,
// newest first.
func (r *NotificationRepository) ListByPlot(ctx context.Context, plotID string, since time.Time, limit int) ([]*types.NotificationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+` FROM notifications n
		WHERE n.plot_id = $1 AND n.created_at > $2
		ORDER BY n.created_at DESC
		LIMIT $3`, plotID, since, limit)
	if err != nil {
		return nil, dbError("listing notifications", err)
	}
	defer rows.Close()

	var notifications []*types.NotificationRecord
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, dbError("scanning notification", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating notifications", err)
	}
	return notifications, nil
}

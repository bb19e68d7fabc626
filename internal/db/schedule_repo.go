package db

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"miraqua/internal/types"
)

// ScheduleRepository provides data access for schedule_rules and
// schedule_overrides.
//
// Writes are serialized per plot via the plots.config_version optimistic
// check: ReplaceRules requires the caller's expected version and rejects the
// write with conflict_schedule_version when another writer got there first.
type ScheduleRepository struct {
	db DBTX
}

// NewScheduleRepository creates a new ScheduleRepository backed by the given
// database connection (pool or transaction).
func NewScheduleRepository(db DBTX) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

const ruleColumns = `r.id, r.plot_id, r.days, r.interval_days, r.anchor_date,
	r.start_time, r.duration_minutes, r.flexible, r.enabled, r.created_at, r.updated_at`

func scanRule(row pgx.Row) (*types.ScheduleRule, error) {
	var rule types.ScheduleRule
	var anchor *string
	err := row.Scan(
		&rule.ID,
		&rule.PlotID,
		&rule.Days,
		&rule.IntervalDays,
		&anchor,
		&rule.StartTime,
		&rule.DurationMin,
		&rule.Flexible,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if anchor != nil {
		rule.AnchorDate = *anchor
	}
	return &rule, nil
}

// ListRules returns all enabled rules for a plot ordered by start time.
func (r *ScheduleRepository) ListRules(ctx context.Context, plotID string) ([]*types.ScheduleRule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+ruleColumns+` FROM schedule_rules r
		WHERE r.plot_id = $1 AND r.enabled
		ORDER BY r.start_time`, plotID)
	if err != nil {
		return nil, dbError("listing schedule rules", err)
	}
	defer rows.Close()

	var rules []*types.ScheduleRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, dbError("scanning schedule rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating schedule rules", err)
	}
	return rules, nil
}

// ReplaceRules atomically replaces the plot's rule set. The expectedVersion
// must match plots.config_version; the version bump, the delete, and the
// inserts run in one transaction so concurrent schedule editors lose cleanly
// with conflict_schedule_version and a mid-sequence failure leaves the old
// rule set and version untouched.
//
// The caller is responsible for pre-validating the rule set (including the
// no-overlap invariant); this method only persists.
func (r *ScheduleRepository) ReplaceRules(ctx context.Context, plotID string, expectedVersion int, rules []*types.ScheduleRule) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return dbError("beginning rule replacement", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE plots SET config_version = config_version + 1, updated_at = now()
		WHERE id = $1 AND config_version = $2 AND archived_at IS NULL`,
		plotID, expectedVersion)
	if err != nil {
		return dbError("bumping plot version", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictScheduleVersion,
			"schedule was modified concurrently; reload and retry", nil)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM schedule_rules WHERE plot_id = $1`, plotID); err != nil {
		return dbError("clearing schedule rules", err)
	}

	for _, rule := range rules {
		rule.ID = "rul_" + uuid.New().String()
		rule.PlotID = plotID
		rule.Enabled = true
		var anchor *string
		if rule.AnchorDate != "" {
			anchor = &rule.AnchorDate
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO schedule_rules (
				id, plot_id, days, interval_days, anchor_date,
				start_time, duration_minutes, flexible, enabled
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING created_at, updated_at`,
			rule.ID, rule.PlotID, rule.Days, rule.IntervalDays, anchor,
			rule.StartTime, rule.DurationMin, rule.Flexible, rule.Enabled,
		).Scan(&rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return dbError("inserting schedule rule", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return dbError("committing rule replacement", err)
	}
	return nil
}

const overrideColumns = `o.id, o.plot_id, o.date, o.action,
	o.new_start_time, o.new_duration_minutes, o.reason, o.note, o.created_at`

func scanOverride(row pgx.Row) (*types.ScheduleOverride, error) {
	var o types.ScheduleOverride
	var (
		newStart *string
		note     *string
	)
	err := row.Scan(
		&o.ID,
		&o.PlotID,
		&o.Date,
		&o.Action,
		&newStart,
		&o.NewDurationMin,
		&o.Reason,
		&note,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if newStart != nil {
		o.NewStartTime = *newStart
	}
	if note != nil {
		o.Note = *note
	}
	return &o, nil
}

// CreateOverride inserts a date-scoped schedule exception. A unique index on
// (plot_id, date) enforces the one-override-per-date invariant; violations
// surface as conflict_duplicate_override.
func (r *ScheduleRepository) CreateOverride(ctx context.Context, o *types.ScheduleOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}

	o.ID = "ovr_" + uuid.New().String()
	var newStart *string
	if o.NewStartTime != "" {
		newStart = &o.NewStartTime
	}
	var note *string
	if o.Note != "" {
		note = &o.Note
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO schedule_overrides (
			id, plot_id, date, action, new_start_time, new_duration_minutes, reason, note
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		o.ID, o.PlotID, o.Date, o.Action, newStart, o.NewDurationMin, o.Reason, note,
	).Scan(&o.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppErrorWithDetails(types.ErrCodeConflictDuplicateOverride,
				"an override already exists for this plot and date", err,
				map[string]any{"plot_id": o.PlotID, "date": o.Date})
		}
		return dbError("inserting schedule override", err)
	}
	return nil
}

// OverrideForDate returns the plot's override for the given date, or nil if
// none exists.
func (r *ScheduleRepository) OverrideForDate(ctx context.Context, plotID, date string) (*types.ScheduleOverride, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+overrideColumns+` FROM schedule_overrides o
		WHERE o.plot_id = $1 AND o.date = $2`, plotID, date)
	o, err := scanOverride(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError("querying schedule override", err)
	}
	return o, nil
}

// ListOverrides returns all overrides for a plot within [from, to] inclusive,
// dates as YYYY-MM-DD.
func (r *ScheduleRepository) ListOverrides(ctx context.Context, plotID, from, to string) ([]*types.ScheduleOverride, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+overrideColumns+` FROM schedule_overrides o
		WHERE o.plot_id = $1 AND o.date >= $2 AND o.date <= $3
		ORDER BY o.date`, plotID, from, to)
	if err != nil {
		return nil, dbError("listing schedule overrides", err)
	}
	defer rows.Close()

	var overrides []*types.ScheduleOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, dbError("scanning schedule override", err)
		}
		overrides = append(overrides, o)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("iterating schedule overrides", err)
	}
	return overrides, nil
}

// PurgeExpiredOverrides removes overrides whose date is strictly before the
// given cutoff date (YYYY-MM-DD). Overrides expire once their target date has
// passed; maintenance calls this periodically.
func (r *ScheduleRepository) PurgeExpiredOverrides(ctx context.Context, before string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM schedule_overrides WHERE date < $1`, before)
	if err != nil {
		return 0, dbError("purging expired overrides", err)
	}
	return tag.RowsAffected(), nil
}

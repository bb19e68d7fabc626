package types

import (
	"time"
)

// Location represents a geographic coordinate with an optional display name.
type Location struct {
	Lat         float64 `json:"lat" db:"location_lat"`
	Lon         float64 `json:"lon" db:"location_lon"`
	DisplayName string  `json:"display_name,omitempty" db:"location_display_name"`
}

// Key returns the cache key used for per-location forecast coalescing.
// Coordinates are truncated to ~1km resolution so that neighboring plots
// share a forecast window.
func (l Location) Key() string {
	return gridKey(l.Lat, l.Lon)
}

// CropProfile describes the crop growing on a plot and its water needs.
// Stored as a JSONB column on the plots table.
type CropProfile struct {
	Species        string  `json:"species"`
	RootDepthIn    float64 `json:"root_depth_in"`
	IdealMoistMin  float64 `json:"ideal_moisture_min_pct"`
	IdealMoistMax  float64 `json:"ideal_moisture_max_pct"`
	MaxDurationMin int     `json:"max_duration_minutes,omitempty"`
}

// Plot is the core domain entity: a managed growing area with its own
// irrigation configuration. It owns its ScheduleRules and Overrides
// exclusively; readings and watering events reference it but are owned by
// the ingest and dispatch pipelines.
type Plot struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`

	// Identity
	Location Location    `json:"location" db:"-"`
	AreaSqFt float64     `json:"area_sq_ft" db:"area_sq_ft"`
	Soil     SoilType    `json:"soil_type" db:"soil_type"`
	Crop     CropProfile `json:"crop_profile" db:"crop_profile"`

	// Decision configuration
	MoistureThresholdPct float64 `json:"moisture_threshold_pct" db:"moisture_threshold_pct"`
	WateringDurationMin  int     `json:"watering_duration_minutes" db:"watering_duration_minutes"`
	RainSkipThresholdPct float64 `json:"rain_skip_threshold_pct" db:"rain_skip_threshold_pct"`

	// Meta
	Status        PlotStatus `json:"status" db:"status"`
	ConfigVersion int        `json:"-" db:"config_version"`

	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty" db:"archived_at"`
	ArchivedReason string     `json:"archived_reason,omitempty" db:"archived_reason"`
}

// SafetyCapMinutes returns the maximum watering duration the engine may
// dispatch for this plot when moisture gating is unavailable. Falls back to
// the configured watering duration when the crop profile has no cap.
func (p *Plot) SafetyCapMinutes() int {
	if p.Crop.MaxDurationMin > 0 && p.Crop.MaxDurationMin < p.WateringDurationMin {
		return p.Crop.MaxDurationMin
	}
	return p.WateringDurationMin
}

// ScheduleRule is a recurring watering specification for a plot.
// Days lists lowercase weekday names ("monday".."sunday"); an empty Days with
// IntervalDays > 0 means "every N days" anchored at AnchorDate.
type ScheduleRule struct {
	ID           string   `json:"id" db:"id"`
	PlotID       string   `json:"plot_id" db:"plot_id"`
	Days         Weekdays `json:"days,omitempty" db:"days"`
	IntervalDays int      `json:"interval_days,omitempty" db:"interval_days"`
	AnchorDate   string   `json:"anchor_date,omitempty" db:"anchor_date"`
	StartTime    string   `json:"start_time" db:"start_time"` // "HH:MM", plot-local
	DurationMin  int      `json:"duration_minutes" db:"duration_minutes"`
	Flexible     bool     `json:"flexible" db:"flexible"` // skip-eligible vs fixed daily
	Enabled      bool     `json:"enabled" db:"enabled"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// ScheduleOverride is a date-scoped exception to a ScheduleRule.
// At most one override may exist per plot per date.
type ScheduleOverride struct {
	ID     string         `json:"id" db:"id"`
	PlotID string         `json:"plot_id" db:"plot_id"`
	Date   string         `json:"date" db:"date"` // "YYYY-MM-DD", plot-local
	Action OverrideAction `json:"action" db:"action"`

	// Reschedule/adjust parameters; unused for skip.
	NewStartTime   string `json:"new_start_time,omitempty" db:"new_start_time"`
	NewDurationMin int    `json:"new_duration_minutes,omitempty" db:"new_duration_minutes"`

	Reason    OverrideReason `json:"reason" db:"reason"`
	Note      string         `json:"note,omitempty" db:"note"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
}

// SensorReading is one accepted telemetry sample. Append-only: readings are
// never mutated, only superseded by newer readings.
type SensorReading struct {
	ID         int64        `json:"id" db:"id"`
	PlotID     string       `json:"plot_id" db:"plot_id"`
	Metric     Metric       `json:"metric" db:"metric"`
	Value      float64      `json:"value" db:"value"`
	RecordedAt time.Time    `json:"recorded_at" db:"recorded_at"`
	Health     SensorHealth `json:"health" db:"health"`
}

// ReadingSnapshot is the "last known good" value for one plot+metric, kept in
// the ingest cache and consumed by the Decision Engine.
type ReadingSnapshot struct {
	PlotID     string    `json:"plot_id"`
	Metric     Metric    `json:"metric"`
	Value      float64   `json:"value"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Stale reports whether the snapshot is older than maxAge at time now.
func (s ReadingSnapshot) Stale(now time.Time, maxAge time.Duration) bool {
	return now.Sub(s.RecordedAt) > maxAge
}

// WateringEvent is the historical record of an actual or skipped irrigation
// action. Immutable once its outcome is terminal. Totally ordered per plot by
// actual start time.
type WateringEvent struct {
	ID           string     `json:"id" db:"id"`
	PlotID       string     `json:"plot_id" db:"plot_id"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty" db:"scheduled_for"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	DurationMin  int        `json:"duration_minutes" db:"duration_minutes"`
	VolumeGal    float64    `json:"volume_gallons" db:"volume_gallons"`
	Trigger      Trigger    `json:"trigger" db:"trigger"`
	Outcome      Outcome    `json:"outcome" db:"outcome"`
	Reason       SkipReason `json:"reason,omitempty" db:"reason"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Terminal reports whether the event has reached a final outcome.
func (e *WateringEvent) Terminal() bool {
	switch e.Outcome {
	case OutcomeCompleted, OutcomeAborted, OutcomeSkipped:
		return true
	}
	return false
}

// Anomaly is a detected abnormal condition requiring user attention.
// Mutated only by acknowledge/resolve transitions; never deleted.
type Anomaly struct {
	ID             string      `json:"id" db:"id"`
	PlotID         *string     `json:"plot_id,omitempty" db:"plot_id"`
	Type           AnomalyType `json:"type" db:"type"`
	Severity       Severity    `json:"severity" db:"severity"`
	Message        string      `json:"message" db:"message"`
	AcknowledgedAt *time.Time  `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time  `json:"resolved_at,omitempty" db:"resolved_at"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
}

// ForecastPoint is one normalized hourly forecast sample.
// Units are fixed internally: °F, inches, percentage probability.
type ForecastPoint struct {
	Timestamp       time.Time `json:"timestamp"`
	PrecipProbPct   float64   `json:"precip_probability_pct"`
	PrecipAmountIn  float64   `json:"precip_amount_in"`
	TemperatureDegF float64   `json:"temperature_f"`
}

// ForecastWindow is a normalized per-location forecast covering at least the
// next 48 hours. Stale entries are replaced on refresh, not accumulated.
type ForecastWindow struct {
	LocationKey string          `json:"location_key"`
	FetchedAt   time.Time       `json:"fetched_at"`
	Hourly      []ForecastPoint `json:"hourly"`
}

// MaxPrecipProb returns the highest precipitation probability within
// [from, from+window], or 0 if the window holds no points in that range.
func (w *ForecastWindow) MaxPrecipProb(from time.Time, window time.Duration) float64 {
	until := from.Add(window)
	max := 0.0
	for _, p := range w.Hourly {
		if p.Timestamp.Before(from) || p.Timestamp.After(until) {
			continue
		}
		if p.PrecipProbPct > max {
			max = p.PrecipProbPct
		}
	}
	return max
}

// ManualCommand is a pending user-initiated actuation request (water-now or
// stop) consumed by the Decision Engine. Consumed-at marks it processed.
type ManualCommand struct {
	ID          string         `json:"id" db:"id"`
	PlotID      string         `json:"plot_id" db:"plot_id"`
	Action      CommandAction  `json:"action" db:"action"`
	DurationMin int            `json:"duration_minutes,omitempty" db:"duration_minutes"`
	RequestedAt time.Time      `json:"requested_at" db:"requested_at"`
	ConsumedAt  *time.Time     `json:"consumed_at,omitempty" db:"consumed_at"`
}

// EffectiveEvent is one entry of the effective schedule computed by the
// Schedule Store: the rule-derived watering slot for a date after applying
// the date's override, if any. A pure projection; never persisted.
type EffectiveEvent struct {
	PlotID      string     `json:"plot_id"`
	Date        string     `json:"date"`
	StartAt     time.Time  `json:"start_at"`
	DurationMin int        `json:"duration_minutes"`
	RuleID      string     `json:"rule_id,omitempty"`
	OverrideID  string     `json:"override_id,omitempty"`
	Skipped     bool       `json:"skipped"`
	SkipReason  SkipReason `json:"skip_reason,omitempty"`
	Flexible    bool       `json:"flexible"`
}

// NotificationRecord is a stored user-facing notification derived from engine
// or ingest state transitions.
type NotificationRecord struct {
	ID        string           `json:"id" db:"id"`
	PlotID    *string          `json:"plot_id,omitempty" db:"plot_id"`
	Type      NotificationType `json:"type" db:"type"`
	Severity  Severity         `json:"severity" db:"severity"`
	Message   string           `json:"message" db:"message"`
	Payload   JSONMap          `json:"payload,omitempty" db:"payload"`
	CreatedAt time.Time        `json:"created_at" db:"created_at"`
}

package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// validWeekdays is the accepted set of lowercase weekday names for
// ScheduleRule.Days.
var validWeekdays = map[string]struct{}{
	"monday": {}, "tuesday": {}, "wednesday": {}, "thursday": {},
	"friday": {}, "saturday": {}, "sunday": {},
}

// ValidWeekday reports whether day is an accepted lowercase weekday name.
func ValidWeekday(day string) bool {
	_, ok := validWeekdays[day]
	return ok
}

// ParseTimeOfDay parses a "HH:MM" wall-clock string into hour and minute
// components. Returns an AppError with code validation_invalid_time_of_day on
// malformed input.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, NewAppError(ErrCodeValidationInvalidTimeOfDay,
			fmt.Sprintf("time of day %q must be HH:MM", s), nil)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, NewAppError(ErrCodeValidationInvalidTimeOfDay,
			fmt.Sprintf("time of day %q has invalid hour", s), err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, NewAppError(ErrCodeValidationInvalidTimeOfDay,
			fmt.Sprintf("time of day %q has invalid minute", s), err)
	}
	return hour, minute, nil
}

// ParseDate parses a "YYYY-MM-DD" calendar date. Returns an AppError with
// code validation_invalid_date_range on malformed input.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, NewAppError(ErrCodeValidationInvalidDateRange,
			fmt.Sprintf("date %q must be YYYY-MM-DD", s), err)
	}
	return t, nil
}

// Validate implements the Validator interface for Plot.
func (p *Plot) Validate() error {
	if p.Name == "" {
		return NewAppError(ErrCodeValidationMissingField, "plot name is required", nil)
	}
	if p.MoistureThresholdPct < 0 || p.MoistureThresholdPct > 100 {
		return NewAppErrorWithDetails(ErrCodeValidationInvalidThreshold,
			"moisture threshold must be between 0 and 100", nil,
			map[string]any{"moisture_threshold_pct": p.MoistureThresholdPct})
	}
	if p.AreaSqFt <= 0 {
		return NewAppError(ErrCodeValidationInvalidArea, "plot area must be positive", nil)
	}
	if p.WateringDurationMin <= 0 {
		return NewAppError(ErrCodeValidationInvalidDuration, "watering duration must be positive", nil)
	}
	if p.RainSkipThresholdPct < 0 || p.RainSkipThresholdPct > 100 {
		return NewAppError(ErrCodeValidationInvalidThreshold,
			"rain-skip threshold must be between 0 and 100", nil)
	}
	if p.Location.Lat < -90 || p.Location.Lat > 90 {
		return NewAppError(ErrCodeValidationInvalidLat, "latitude out of range", nil)
	}
	if p.Location.Lon < -180 || p.Location.Lon > 180 {
		return NewAppError(ErrCodeValidationInvalidLon, "longitude out of range", nil)
	}
	return nil
}

// Validate implements the Validator interface for ScheduleRule.
func (r *ScheduleRule) Validate() error {
	if r.PlotID == "" {
		return NewAppError(ErrCodeValidationMissingField, "rule plot_id is required", nil)
	}
	if r.DurationMin <= 0 {
		return NewAppError(ErrCodeValidationInvalidDuration, "rule duration must be positive", nil)
	}
	if len(r.Days) == 0 && r.IntervalDays <= 0 {
		return NewAppError(ErrCodeValidationMissingField,
			"rule must specify days of week or an interval", nil)
	}
	for _, d := range r.Days {
		if !ValidWeekday(d) {
			return NewAppErrorWithDetails(ErrCodeValidationInvalidWeekday,
				"unknown weekday in rule", nil, map[string]any{"day": d})
		}
	}
	if r.IntervalDays > 0 && r.AnchorDate != "" {
		if _, err := ParseDate(r.AnchorDate); err != nil {
			return err
		}
	}
	if _, _, err := ParseTimeOfDay(r.StartTime); err != nil {
		return err
	}
	return nil
}

// Validate implements the Validator interface for ScheduleOverride.
func (o *ScheduleOverride) Validate() error {
	if o.PlotID == "" {
		return NewAppError(ErrCodeValidationMissingField, "override plot_id is required", nil)
	}
	if _, err := ParseDate(o.Date); err != nil {
		return err
	}
	switch o.Action {
	case OverrideSkip:
	case OverrideReschedule:
		if _, _, err := ParseTimeOfDay(o.NewStartTime); err != nil {
			return err
		}
	case OverrideAdjust:
		if o.NewDurationMin <= 0 {
			return NewAppError(ErrCodeValidationInvalidDuration,
				"adjust override requires a positive new duration", nil)
		}
	default:
		return NewAppErrorWithDetails(ErrCodeValidationMissingField,
			"override action must be skip, reschedule, or adjust", nil,
			map[string]any{"action": string(o.Action)})
	}
	switch o.Reason {
	case OverrideReasonManual, OverrideReasonWeather, OverrideReasonEngine:
	default:
		return NewAppErrorWithDetails(ErrCodeValidationMissingField,
			"override reason must be manual, weather, or engine", nil,
			map[string]any{"reason": string(o.Reason)})
	}
	return nil
}

// MetricBounds returns the physically plausible [min, max] for a metric.
// Unknown metrics return ok=false and must be rejected by the ingest layer.
func MetricBounds(m Metric) (min, max float64, ok bool) {
	switch m {
	case MetricMoisture:
		return MoistureMinPct, MoistureMaxPct, true
	case MetricTemperature:
		return TemperatureMinF, TemperatureMaxF, true
	case MetricBattery:
		return BatteryMinPct, BatteryMaxPct, true
	case MetricSignal:
		return SignalMinDBm, SignalMaxDBm, true
	default:
		return 0, 0, false
	}
}

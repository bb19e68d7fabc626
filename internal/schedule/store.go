// Package schedule owns the watering calendar for a plot: recurring rules,
// date-scoped overrides, and the effective-schedule projection consumed by
// the Decision Engine and the API.
//
// The projection is deterministic: given the same rules, overrides, and date
// range it always yields the same events, so callers may recompute it at any
// time instead of persisting derived slots.
package schedule

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"miraqua/internal/types"
)

// Source is the persistence contract the store depends on. Satisfied by
// db.ScheduleRepository.
type Source interface {
	ListRules(ctx context.Context, plotID string) ([]*types.ScheduleRule, error)
	ReplaceRules(ctx context.Context, plotID string, expectedVersion int, rules []*types.ScheduleRule) error
	CreateOverride(ctx context.Context, o *types.ScheduleOverride) error
	OverrideForDate(ctx context.Context, plotID, date string) (*types.ScheduleOverride, error)
	ListOverrides(ctx context.Context, plotID, from, to string) ([]*types.ScheduleOverride, error)
}

// Store validates and persists schedule configuration and computes the
// effective schedule.
type Store struct {
	src    Source
	clock  types.Clock
	logger *slog.Logger
}

// NewStore creates a schedule store. A nil clock defaults to the real clock.
func NewStore(src Source, clock types.Clock, logger *slog.Logger) *Store {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{src: src, clock: clock, logger: logger}
}

// overlapHorizonDays is how far ahead the no-overlap check simulates. Covers
// every weekday pattern and all practical interval rules; two rules that
// never collide within four weeks are treated as non-overlapping.
const overlapHorizonDays = 28

// ReplaceRules validates the incoming rule set and atomically replaces the
// plot's rules. The plot's ConfigVersion guards against concurrent editors.
func (s *Store) ReplaceRules(ctx context.Context, plot *types.Plot, rules []*types.ScheduleRule) error {
	for _, rule := range rules {
		rule.PlotID = plot.ID
		if err := rule.Validate(); err != nil {
			return err
		}
	}
	if err := ValidateNoOverlap(rules, s.clock.Now()); err != nil {
		return err
	}

	if err := s.src.ReplaceRules(ctx, plot.ID, plot.ConfigVersion, rules); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "schedule rules replaced",
		slog.String("plot_id", plot.ID),
		slog.Int("rule_count", len(rules)),
	)
	return nil
}

// CreateOverride records a date-scoped exception. The repository enforces the
// one-override-per-date invariant.
func (s *Store) CreateOverride(ctx context.Context, o *types.ScheduleOverride) error {
	if err := o.Validate(); err != nil {
		return err
	}
	today := s.clock.Now().Format("2006-01-02")
	if o.Date < today {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidDateRange,
			"override date must not be in the past", nil,
			map[string]any{"date": o.Date})
	}
	return s.src.CreateOverride(ctx, o)
}

// Rules returns the plot's enabled rules.
func (s *Store) Rules(ctx context.Context, plotID string) ([]*types.ScheduleRule, error) {
	return s.src.ListRules(ctx, plotID)
}

// Overrides returns the plot's overrides within [from, to] inclusive.
func (s *Store) Overrides(ctx context.Context, plotID, from, to string) ([]*types.ScheduleOverride, error) {
	return s.src.ListOverrides(ctx, plotID, from, to)
}

// EffectiveEvents computes the effective schedule for a plot over [from, to]:
// every rule-derived slot in the range with the date's override applied. An
// override affects the event, never the rule; skip produces a Skipped entry
// rather than removing it, so clients can render "skipped today" states.
func (s *Store) EffectiveEvents(ctx context.Context, plot *types.Plot, from, to time.Time) ([]types.EffectiveEvent, error) {
	rules, err := s.src.ListRules(ctx, plot.ID)
	if err != nil {
		return nil, err
	}

	fromDate := from.Format("2006-01-02")
	toDate := to.Format("2006-01-02")
	overrides, err := s.src.ListOverrides(ctx, plot.ID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	overrideByDate := make(map[string]*types.ScheduleOverride, len(overrides))
	for _, o := range overrides {
		overrideByDate[o.Date] = o
	}

	return Project(plot.ID, rules, overrideByDate, from, to), nil
}

// Project computes the effective schedule from in-memory inputs. Pure; the
// engine and tests call it directly.
func Project(plotID string, rules []*types.ScheduleRule, overrideByDate map[string]*types.ScheduleOverride, from, to time.Time) []types.EffectiveEvent {
	var events []types.EffectiveEvent

	day := startOfDay(from)
	for !day.After(to) {
		date := day.Format("2006-01-02")
		ovr := overrideByDate[date]

		for _, rule := range rules {
			if !rule.Enabled || !RuleAppliesOn(rule, day) {
				continue
			}

			ev := types.EffectiveEvent{
				PlotID:      plotID,
				Date:        date,
				StartAt:     slotTime(rule.StartTime, day),
				DurationMin: rule.DurationMin,
				RuleID:      rule.ID,
				Flexible:    rule.Flexible,
			}
			if ovr != nil {
				applyOverride(&ev, ovr, day)
			}

			if ev.StartAt.Before(from) || ev.StartAt.After(to) {
				continue
			}
			events = append(events, ev)
		}

		day = day.AddDate(0, 0, 1)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].StartAt.Before(events[j].StartAt)
	})
	return events
}

// applyOverride mutates the event per the override action. Exactly one of
// rule and override semantics wins per field: skip marks the event, never
// deletes it; reschedule moves the start within the same date; adjust only
// changes duration.
func applyOverride(ev *types.EffectiveEvent, o *types.ScheduleOverride, day time.Time) {
	ev.OverrideID = o.ID
	switch o.Action {
	case types.OverrideSkip:
		ev.Skipped = true
		ev.SkipReason = types.ReasonUserOverride
	case types.OverrideReschedule:
		ev.StartAt = slotTime(o.NewStartTime, day)
	case types.OverrideAdjust:
		if o.NewDurationMin > 0 {
			ev.DurationMin = o.NewDurationMin
		}
	}
}

// RuleAppliesOn reports whether a rule fires on the given calendar day.
// Weekday rules match by lowercase weekday name; interval rules fire every
// IntervalDays starting at the anchor date (falling back to the rule's
// creation date when no anchor is set).
func RuleAppliesOn(rule *types.ScheduleRule, day time.Time) bool {
	if len(rule.Days) > 0 {
		return rule.Days.Contains(weekdayName(day.Weekday()))
	}
	if rule.IntervalDays <= 0 {
		return false
	}

	anchor := startOfDay(rule.CreatedAt)
	if rule.AnchorDate != "" {
		if t, err := types.ParseDate(rule.AnchorDate); err == nil {
			anchor = t
		}
	}
	days := int(startOfDay(day).Sub(anchor).Hours() / 24)
	return days >= 0 && days%rule.IntervalDays == 0
}

// ValidateNoOverlap rejects rule sets where two enabled rules would produce
// time-overlapping slots on the same day. The check simulates four weeks
// forward from the given reference time.
func ValidateNoOverlap(rules []*types.ScheduleRule, now time.Time) error {
	type slot struct {
		ruleIdx    int
		start, end time.Time
	}

	day := startOfDay(now)
	for i := 0; i < overlapHorizonDays; i++ {
		var slots []slot
		for idx, rule := range rules {
			if !RuleAppliesOn(rule, day) {
				continue
			}
			start := slotTime(rule.StartTime, day)
			slots = append(slots, slot{
				ruleIdx: idx,
				start:   start,
				end:     start.Add(time.Duration(rule.DurationMin) * time.Minute),
			})
		}

		for a := 0; a < len(slots); a++ {
			for b := a + 1; b < len(slots); b++ {
				if slots[a].start.Before(slots[b].end) && slots[b].start.Before(slots[a].end) {
					return types.NewAppErrorWithDetails(types.ErrCodeValidationOverlappingRules,
						"schedule rules produce overlapping watering windows", nil,
						map[string]any{
							"date":         day.Format("2006-01-02"),
							"first_start":  slots[a].start.Format("15:04"),
							"second_start": slots[b].start.Format("15:04"),
						})
				}
			}
		}

		day = day.AddDate(0, 0, 1)
	}
	return nil
}

// slotTime combines an "HH:MM" wall-clock time with a calendar day. The time
// string is validated upstream; a malformed value degrades to midnight.
func slotTime(hhmm string, day time.Time) time.Time {
	hour, minute, err := types.ParseTimeOfDay(hhmm)
	if err != nil {
		hour, minute = 0, 0
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, day.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// weekdayName maps time.Weekday to the lowercase names stored in rules.
func weekdayName(d time.Weekday) string {
	switch d {
	case time.Monday:
		return "monday"
	case time.Tuesday:
		return "tuesday"
	case time.Wednesday:
		return "wednesday"
	case time.Thursday:
		return "thursday"
	case time.Friday:
		return "friday"
	case time.Saturday:
		return "saturday"
	default:
		return "sunday"
	}
}

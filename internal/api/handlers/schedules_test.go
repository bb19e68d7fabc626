package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"miraqua/internal/types"
)

// =============================================================================
// Mock Implementations for Schedule Handler
// =============================================================================

type mockScheduleService struct {
	rules     []*types.ScheduleRule
	overrides []*types.ScheduleOverride
	events    []types.EffectiveEvent

	replacedRules []*types.ScheduleRule
	replacedPlot  *types.Plot
	createdOvr    *types.ScheduleOverride
	replaceErr    error
	createErr     error
}

func (m *mockScheduleService) Rules(_ context.Context, _ string) ([]*types.ScheduleRule, error) {
	return m.rules, nil
}

func (m *mockScheduleService) ReplaceRules(_ context.Context, plot *types.Plot, rules []*types.ScheduleRule) error {
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.replacedPlot = plot
	m.replacedRules = rules
	return nil
}

func (m *mockScheduleService) CreateOverride(_ context.Context, o *types.ScheduleOverride) error {
	if m.createErr != nil {
		return m.createErr
	}
	o.ID = "ovr_1"
	m.createdOvr = o
	return nil
}

func (m *mockScheduleService) Overrides(_ context.Context, _, _, _ string) ([]*types.ScheduleOverride, error) {
	return m.overrides, nil
}

func (m *mockScheduleService) EffectiveEvents(_ context.Context, _ *types.Plot, _, _ time.Time) ([]types.EffectiveEvent, error) {
	return m.events, nil
}

func newScheduleRouter(svc *mockScheduleService, plots *mockPlotRepo) chi.Router {
	r := chi.NewRouter()
	NewScheduleHandler(svc, plots, testValidator(), testLogger()).RegisterRoutes(r)
	return r
}

func validRulesBody() map[string]any {
	return map[string]any{
		"rules": []map[string]any{
			{
				"days":             []string{"monday", "thursday"},
				"start_time":       "06:30",
				"duration_minutes": 20,
				"flexible":         true,
			},
		},
		"config_version": 1,
	}
}

// =============================================================================
// ReplaceRules Tests
// =============================================================================

func TestReplaceRules_Success(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPut, "/plots/plt_1/schedule/rules", validRulesBody())

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, svc.replacedRules, 1)
	rule := svc.replacedRules[0]
	assert.Equal(t, "plt_1", rule.PlotID)
	assert.Equal(t, types.Weekdays{"monday", "thursday"}, rule.Days)
	assert.True(t, rule.Enabled, "enabled must default to true")
	assert.True(t, rule.Flexible)
	// The request's version rides on the plot for the optimistic check.
	assert.Equal(t, 1, svc.replacedPlot.ConfigVersion)
}

func TestReplaceRules_InvalidWeekday(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	body := validRulesBody()
	body["rules"].([]map[string]any)[0]["days"] = []string{"funday"}
	rec := doJSON(t, r, http.MethodPut, "/plots/plt_1/schedule/rules", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.replacedRules)
}

func TestReplaceRules_InvalidStartTime(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	body := validRulesBody()
	body["rules"].([]map[string]any)[0]["start_time"] = "25:99"
	rec := doJSON(t, r, http.MethodPut, "/plots/plt_1/schedule/rules", body)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceRules_TooManyRules(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	var rules []map[string]any
	for i := 0; i < 11; i++ {
		rules = append(rules, map[string]any{
			"days":             []string{"monday"},
			"start_time":       "06:30",
			"duration_minutes": 20,
		})
	}
	rec := doJSON(t, r, http.MethodPut, "/plots/plt_1/schedule/rules", map[string]any{
		"rules":          rules,
		"config_version": 1,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReplaceRules_OverlapRejected(t *testing.T) {
	svc := &mockScheduleService{
		replaceErr: types.NewAppError(types.ErrCodeValidationOverlappingRules,
			"schedule rules produce overlapping watering windows", nil),
	}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPut, "/plots/plt_1/schedule/rules", validRulesBody())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationOverlappingRules), errorCode(t, rec))
}

func TestReplaceRules_ArchivedPlotConflicts(t *testing.T) {
	archived := activePlot("plt_1")
	at := testNow.Add(-time.Hour)
	archived.ArchivedAt = &at
	plots := &mockPlotRepo{
		getFn: func(context.Context, string) (*types.Plot, error) { return archived, nil },
	}
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, plots)

	rec := doJSON(t, r, http.MethodPut, "/plots/plt_1/schedule/rules", validRulesBody())

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Nil(t, svc.replacedRules)
}

// =============================================================================
// CreateOverride Tests
// =============================================================================

func TestCreateOverride_Success(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/schedule/overrides", map[string]any{
		"date":   "2026-03-05",
		"action": "skip",
		"note":   "house guests",
	})

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, svc.createdOvr)
	assert.Equal(t, types.OverrideSkip, svc.createdOvr.Action)
	assert.Equal(t, types.OverrideReasonManual, svc.createdOvr.Reason)
	assert.Equal(t, "plt_1", svc.createdOvr.PlotID)
}

func TestCreateOverride_InvalidAction(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/schedule/overrides", map[string]any{
		"date":   "2026-03-05",
		"action": "cancel",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, svc.createdOvr)
}

func TestCreateOverride_DuplicateConflicts(t *testing.T) {
	svc := &mockScheduleService{
		createErr: types.NewAppError(types.ErrCodeConflictDuplicateOverride,
			"an override already exists for this date", nil),
	}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodPost, "/plots/plt_1/schedule/overrides", map[string]any{
		"date":   "2026-03-05",
		"action": "skip",
	})

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, string(types.ErrCodeConflictDuplicateOverride), errorCode(t, rec))
}

// =============================================================================
// Effective Schedule Tests
// =============================================================================

func TestEffective_DefaultRange(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/schedule/effective", nil)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestEffective_ExplicitRange(t *testing.T) {
	svc := &mockScheduleService{
		events: []types.EffectiveEvent{{PlotID: "plt_1", Date: "2026-03-05"}},
	}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/schedule/effective?from=2026-03-02&to=2026-03-08", nil)

	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "2026-03-05")
}

func TestEffective_ReversedRangeRejected(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/schedule/effective?from=2026-03-08&to=2026-03-02", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, string(types.ErrCodeValidationInvalidDateRange), errorCode(t, rec))
}

func TestEffective_RangeTooWideRejected(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/schedule/effective?from=2026-03-01&to=2026-05-01", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEffective_MalformedDateRejected(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/schedule/effective?from=03-02-2026", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// Schedule View Tests
// =============================================================================

func TestScheduleGet_EmptyCollectionsAreArrays(t *testing.T) {
	svc := &mockScheduleService{}
	r := newScheduleRouter(svc, &mockPlotRepo{})

	rec := doJSON(t, r, http.MethodGet, "/plots/plt_1/schedule", nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"rules":[]`)
	assert.Contains(t, rec.Body.String(), `"overrides":[]`)
}

package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationInvalidJSON      ErrorCode = "validation_invalid_json"
	ErrCodeValidationMissingField     ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidThreshold ErrorCode = "validation_threshold_out_of_range"
	ErrCodeValidationInvalidDuration  ErrorCode = "validation_invalid_duration"
	ErrCodeValidationInvalidArea      ErrorCode = "validation_invalid_area"
	ErrCodeValidationInvalidMetric    ErrorCode = "validation_invalid_metric"
	ErrCodeValidationInvalidTimeOfDay ErrorCode = "validation_invalid_time_of_day"
	ErrCodeValidationInvalidWeekday   ErrorCode = "validation_invalid_weekday"
	ErrCodeValidationOverlappingRules ErrorCode = "validation_overlapping_rules"
	ErrCodeValidationInvalidDateRange ErrorCode = "validation_invalid_date_range"
	ErrCodeValidationInvalidLat       ErrorCode = "validation_invalid_latitude"
	ErrCodeValidationInvalidLon       ErrorCode = "validation_invalid_longitude"

	// Ingest rejections (400)
	ErrCodeReadingStale   ErrorCode = "reading_stale"
	ErrCodeReadingInvalid ErrorCode = "reading_out_of_bounds"

	// Not Found (404)
	ErrCodeNotFoundPlot     ErrorCode = "not_found_plot"
	ErrCodeNotFoundRule     ErrorCode = "not_found_schedule_rule"
	ErrCodeNotFoundOverride ErrorCode = "not_found_schedule_override"
	ErrCodeNotFoundEvent    ErrorCode = "not_found_watering_event"
	ErrCodeNotFoundAnomaly  ErrorCode = "not_found_anomaly"

	// Conflict (409)
	ErrCodeConflictScheduleVersion   ErrorCode = "conflict_schedule_version"
	ErrCodeConflictDuplicateOverride ErrorCode = "conflict_duplicate_override"
	ErrCodeConflictCommandInProgress ErrorCode = "conflict_command_in_progress"
	ErrCodeConflictPlotArchived      ErrorCode = "conflict_plot_archived"
	ErrCodeConflictAnomalyResolved   ErrorCode = "conflict_anomaly_resolved"

	// Cooldown (429)
	ErrCodeCooldownActive ErrorCode = "cooldown_active"

	// Dispatch (502)
	ErrCodeDispatchTransient  ErrorCode = "dispatch_failed_transient"
	ErrCodeDispatchPersistent ErrorCode = "dispatch_failed_persistent"
	ErrCodeDispatchCancelled  ErrorCode = "dispatch_cancelled"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB          ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected  ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamForecast    ErrorCode = "upstream_forecast_unavailable"
	ErrCodeUpstreamController  ErrorCode = "upstream_controller_unavailable"
	ErrCodeUpstreamRateLimited ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamQueue       ErrorCode = "upstream_queue_unavailable"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "reading_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case s == string(ErrCodeCooldownActive):
		return http.StatusTooManyRequests // 429
	case strings.HasPrefix(s, "dispatch_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
// This is useful for adding context without mutating the original error.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// HasCode reports whether err is (or wraps) an AppError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

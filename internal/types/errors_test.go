package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationInvalidThreshold,
		Message: "moisture threshold must be between 0 and 100",
	}

	expected := "validation_threshold_out_of_range: moisture threshold must be between 0 and 100"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := &AppError{
		Code:    ErrCodeInternalDB,
		Message: "failed to query plots",
		Err:     underlying,
	}

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", appErr.Unwrap(), underlying)
	}
}

// TestAppErrorErrorsAs verifies that errors.As can extract AppError from a chain.
func TestAppErrorErrorsAs(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundPlot, "plot not found", nil)
	wrapped := fmt.Errorf("handler failed: %w", appErr)

	var target *AppError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodeNotFoundPlot {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodeNotFoundPlot)
	}
}

// TestHasCode verifies code matching through wrapped error chains.
func TestHasCode(t *testing.T) {
	appErr := NewAppError(ErrCodeCooldownActive, "manual watering cooldown active", nil)
	wrapped := fmt.Errorf("command rejected: %w", appErr)

	if !HasCode(wrapped, ErrCodeCooldownActive) {
		t.Error("HasCode should match the wrapped AppError code")
	}
	if HasCode(wrapped, ErrCodeNotFoundPlot) {
		t.Error("HasCode must not match a different code")
	}
	if HasCode(errors.New("plain"), ErrCodeCooldownActive) {
		t.Error("HasCode must be false for non-AppError chains")
	}
	if HasCode(nil, ErrCodeCooldownActive) {
		t.Error("HasCode must be false for nil")
	}
}

// TestWithDetailsDoesNotMutate verifies WithDetails returns a copy.
func TestWithDetailsDoesNotMutate(t *testing.T) {
	base := NewAppErrorWithDetails(ErrCodeReadingInvalid, "value out of bounds", nil,
		map[string]any{"metric": "moisture"})

	enriched := base.WithDetails(map[string]any{"value": 140.0})

	if len(base.Details) != 1 {
		t.Errorf("original details mutated: %v", base.Details)
	}
	if enriched.Details["metric"] != "moisture" || enriched.Details["value"] != 140.0 {
		t.Errorf("merged details = %v", enriched.Details)
	}
}

// TestHTTPStatusMapping verifies every error code family maps to its status.
func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidDateRange, http.StatusBadRequest},
		{ErrCodeReadingStale, http.StatusBadRequest},
		{ErrCodeReadingInvalid, http.StatusBadRequest},
		{ErrCodeNotFoundPlot, http.StatusNotFound},
		{ErrCodeNotFoundEvent, http.StatusNotFound},
		{ErrCodeConflictScheduleVersion, http.StatusConflict},
		{ErrCodeConflictPlotArchived, http.StatusConflict},
		{ErrCodeCooldownActive, http.StatusTooManyRequests},
		{ErrCodeDispatchTransient, http.StatusBadGateway},
		{ErrCodeUpstreamForecast, http.StatusBadGateway},
		{ErrCodeUpstreamQueue, http.StatusBadGateway},
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrorCode("something_novel"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := c.code.HTTPStatus(); got != c.want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", c.code, got, c.want)
		}
	}
}

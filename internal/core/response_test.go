package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"miraqua/internal/types"
)

// --- JSON helper tests ---

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(w, r, http.StatusOK, map[string]string{"name": "North Bed"})

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["name"] != "North Bed" {
		t.Errorf("expected name=North Bed, got %v", body["name"])
	}
}

func TestJSON_MarshalFailureFallsBack(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	// Channels are not JSON-marshallable.
	JSON(w, r, http.StatusOK, map[string]any{"ch": make(chan int)})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 fallback, got %d", w.Code)
	}
	var body APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("fallback body does not decode: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("fallback code = %q", body.Error.Code)
	}
}

// --- Error helper tests ---

func TestError_AppErrorStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req_42"))

	appErr := types.NewAppErrorWithDetails(types.ErrCodeNotFoundPlot, "plot not found", nil,
		map[string]any{"plot_id": "plt_missing"})
	Error(w, r, appErr)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
	var body APIErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Error.Code != "not_found_plot" {
		t.Errorf("code = %q", body.Error.Code)
	}
	if body.Error.RequestID != "req_42" {
		t.Errorf("request_id = %q", body.Error.RequestID)
	}
	if body.Error.Details["plot_id"] != "plt_missing" {
		t.Errorf("details = %v", body.Error.Details)
	}
}

func TestError_WrappedAppError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	wrapped := errors.Join(errors.New("outer"),
		types.NewAppError(types.ErrCodeCooldownActive, "cooldown active", nil))
	Error(w, r, wrapped)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
}

func TestError_UnknownErrorIs500WithGenericMessage(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("pq: connection refused to db-internal.local"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "db-internal") {
		t.Error("internal error detail leaked to the client")
	}
}

// --- DecodeJSON tests ---

type decodeTarget struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func decodeRequest(body string) (*httptest.ResponseRecorder, *http.Request) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	return w, r
}

func TestDecodeJSON_Success(t *testing.T) {
	w, r := decodeRequest(`{"name":"moisture","value":42.5}`)

	var dst decodeTarget
	if err := DecodeJSON(w, r, &dst); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dst.Name != "moisture" || dst.Value != 42.5 {
		t.Errorf("decoded = %+v", dst)
	}
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	w, r := decodeRequest("")

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	if !types.HasCode(err, types.ErrCodeValidationInvalidJSON) {
		t.Fatalf("expected validation_invalid_json, got %v", err)
	}
}

func TestDecodeJSON_MalformedJSON(t *testing.T) {
	w, r := decodeRequest(`{"name": `)

	var dst decodeTarget
	if err := DecodeJSON(w, r, &dst); !types.HasCode(err, types.ErrCodeValidationInvalidJSON) {
		t.Fatalf("expected validation_invalid_json, got %v", err)
	}
}

func TestDecodeJSON_UnknownFieldRejected(t *testing.T) {
	w, r := decodeRequest(`{"name":"moisture","surprise":true}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	if !types.HasCode(err, types.ErrCodeValidationInvalidJSON) {
		t.Fatalf("expected validation_invalid_json, got %v", err)
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) && !strings.Contains(appErr.Message, "unknown field") {
		t.Errorf("message = %q", appErr.Message)
	}
}

func TestDecodeJSON_WrongTypeCarriesFieldDetail(t *testing.T) {
	w, r := decodeRequest(`{"name":"moisture","value":"high"}`)

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if appErr.Details["field"] != "value" {
		t.Errorf("details = %v", appErr.Details)
	}
}

func TestDecodeJSON_TrailingValueRejected(t *testing.T) {
	w, r := decodeRequest(`{"name":"a"}{"name":"b"}`)

	var dst decodeTarget
	if err := DecodeJSON(w, r, &dst); !types.HasCode(err, types.ErrCodeValidationInvalidJSON) {
		t.Fatalf("expected validation_invalid_json, got %v", err)
	}
}

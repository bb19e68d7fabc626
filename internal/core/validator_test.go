package core

import (
	"errors"
	"log/slog"
	"os"
	"testing"

	"miraqua/internal/types"
)

func newTestValidator() *Validator {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
	return NewValidator(logger)
}

type ruleRequest struct {
	StartTime string   `validate:"required,time_of_day"`
	Days      []string `validate:"dive,weekday"`
	Metric    string   `validate:"omitempty,metric"`
}

func TestValidateStruct_Valid(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct(ruleRequest{
		StartTime: "06:30",
		Days:      []string{"monday", "sunday"},
		Metric:    "moisture",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateStruct_CustomTimeOfDayTag(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct(ruleRequest{StartTime: "25:00"})
	if !types.HasCode(err, types.ErrCodeValidationMissingField) {
		t.Fatalf("expected validation error, got %v", err)
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if _, ok := appErr.Details["starttime"]; !ok {
		t.Errorf("details missing starttime key: %v", appErr.Details)
	}
}

func TestValidateStruct_CustomWeekdayTag(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct(ruleRequest{
		StartTime: "06:30",
		Days:      []string{"monday", "funday"},
	})
	if err == nil {
		t.Fatal("expected weekday validation failure")
	}
}

func TestValidateStruct_CustomMetricTag(t *testing.T) {
	v := newTestValidator()

	if err := v.ValidateStruct(ruleRequest{StartTime: "06:30", Metric: "humidity"}); err == nil {
		t.Fatal("expected metric validation failure")
	}
	if err := v.ValidateStruct(ruleRequest{StartTime: "06:30", Metric: "battery"}); err != nil {
		t.Fatalf("known metric rejected: %v", err)
	}
}

func TestValidateStruct_NonStructValue(t *testing.T) {
	v := newTestValidator()

	err := v.ValidateStruct("not a struct")
	if !types.HasCode(err, types.ErrCodeInternalUnexpected) {
		t.Fatalf("expected internal_unexpected_error, got %v", err)
	}
}

func TestValidateStruct_NestedFieldKeys(t *testing.T) {
	type inner struct {
		Lat float64 `validate:"required,gte=-90,lte=90"`
	}
	type outer struct {
		Location inner `validate:"required"`
	}

	v := newTestValidator()
	err := v.ValidateStruct(outer{Location: inner{Lat: 120}})

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %v", err)
	}
	if _, ok := appErr.Details["location.lat"]; !ok {
		t.Errorf("expected lowercased nested key, details = %v", appErr.Details)
	}
}

package core

import (
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"miraqua/internal/types"
)

// Validator wraps go-playground/validator with irrigation-specific rules
// registered as custom tags.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags used by
// request structs:
//
//	time_of_day - "HH:MM" 24-hour wall-clock time
//	weekday     - lowercase weekday name ("monday".."sunday")
//	metric      - a known sensor metric
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Registration only fails for empty tag names; these are constants.
	_ = v.RegisterValidation("time_of_day", func(fl validator.FieldLevel) bool {
		_, _, err := types.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		return types.ValidWeekday(fl.Field().String())
	})
	_ = v.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
		_, _, ok := types.MetricBounds(types.Metric(fl.Field().String()))
		return ok
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates a request struct and converts any failures into a
// single *types.AppError carrying a per-field details map. Fields are keyed
// by their lowercased struct path so clients can attribute errors.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed a non-struct.
		v.logger.Error("validator invoked with non-struct value", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "internal validation failure", err)
	}

	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fieldKey(fe)] = ruleMessage(fe)
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		details,
	)
}

// fieldKey derives a stable lowercase key from a field error, dropping the
// root struct name ("CreatePlotRequest.Location.Latitude" -> "location.latitude").
func fieldKey(fe validator.FieldError) string {
	parts := strings.Split(fe.Namespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.ToLower(strings.Join(parts, "."))
}

// ruleMessage renders a short human-readable reason for a failed rule.
func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "time_of_day":
		return "must be a time of day in HH:MM format"
	case "weekday":
		return "must be a lowercase weekday name"
	case "metric":
		return "must be a known sensor metric"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed validation rule: " + fe.Tag()
	}
}

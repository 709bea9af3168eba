package core

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"obrador/internal/types"
)

// ValidationError describes a single failed validation rule on a field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult aggregates blocking errors and non-blocking warnings for
// a validated request.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []string
}

// IsValid reports whether the result carries no blocking errors. Warnings
// do not block.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the domain-specific tags
// used by request DTOs.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom validation tags:
//
//	team_role  - one of owner/admin/editor
//	plan_tier  - one of free/basic/pro/lifetime
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())

	// Registration only fails for empty tag names; these are constants.
	_ = v.RegisterValidation("team_role", func(fl validator.FieldLevel) bool {
		return types.TeamRole(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("plan_tier", func(fl validator.FieldLevel) bool {
		return types.PlanTier(fl.Field().String()).Valid()
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct runs tag-based validation on a request DTO. On failure it
// returns a *types.AppError (400) whose details carry the per-field errors.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	invalid, ok := err.(validator.ValidationErrors)
	if !ok {
		// InvalidValidationError: the caller passed a non-struct.
		v.logger.Error("validator invoked on non-struct value", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "validation failed", err)
	}

	result := ValidationResult{}
	for _, fe := range invalid {
		result.Errors = append(result.Errors, ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Code:    fe.Tag(),
			Message: messageForTag(fe),
		})
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		map[string]any{"fields": result.Errors},
	)
}

// messageForTag renders a human-readable message for a failed rule.
func messageForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "team_role":
		return "must be one of: owner, admin, editor"
	case "plan_tier":
		return "must be one of: free, basic, pro, lifetime"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	default:
		return fmt.Sprintf("failed rule %q", fe.Tag())
	}
}

package types

import (
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
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationInvalidBody  ErrorCode = "validation_invalid_body"
	ErrCodeValidationInvalidRole  ErrorCode = "validation_invalid_role"
	ErrCodeValidationInvalidPrice ErrorCode = "validation_invalid_price_id"

	// Auth (401)
	ErrCodeAuthTokenMissing   ErrorCode = "auth_token_missing"
	ErrCodeAuthTokenInvalid   ErrorCode = "auth_token_invalid"
	ErrCodeAuthSessionExpired ErrorCode = "auth_session_expired"
	ErrCodeAuthInvalidCreds   ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthUserNotFound   ErrorCode = "auth_user_not_found"

	// Permission (403)
	ErrCodePermissionNoBusiness ErrorCode = "permission_no_business"
	ErrCodePermissionNotMember  ErrorCode = "permission_not_member"
	ErrCodePermissionRole       ErrorCode = "permission_role_insufficient"
	ErrCodePermissionPlan       ErrorCode = "permission_plan_insufficient"
	ErrCodePermissionFeature    ErrorCode = "permission_feature_unavailable"
	ErrCodePermissionCSRF       ErrorCode = "permission_csrf_invalid"

	// Quotas (403)
	ErrCodeLimitOrders    ErrorCode = "limit_orders_exceeded"
	ErrCodeLimitCustomers ErrorCode = "limit_customers_exceeded"
	ErrCodeLimitRecipes   ErrorCode = "limit_recipes_exceeded"

	// Payment (402)
	ErrCodePaymentRequired ErrorCode = "payment_subscription_inactive"

	// Not Found (404)
	ErrCodeNotFoundBusiness   ErrorCode = "not_found_business"
	ErrCodeNotFoundBilling    ErrorCode = "not_found_billing_record"
	ErrCodeNotFoundUser       ErrorCode = "not_found_user"
	ErrCodeNotFoundOrder      ErrorCode = "not_found_order"
	ErrCodeNotFoundCustomer   ErrorCode = "not_found_customer"
	ErrCodeNotFoundRecipe     ErrorCode = "not_found_recipe"
	ErrCodeNotFoundInvitation ErrorCode = "not_found_invitation"
	ErrCodeNotFoundMember     ErrorCode = "not_found_member"

	// Conflict (409)
	ErrCodeConflictEmail      ErrorCode = "conflict_email_exists"
	ErrCodeConflictInvitation ErrorCode = "conflict_invitation_exists"
	ErrCodeConflictOwner      ErrorCode = "conflict_owner_exists"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB            ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected    ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamStripe        ErrorCode = "upstream_stripe_unavailable"
	ErrCodeUpstreamEmailProvider ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamUnavailable   ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited   ErrorCode = "upstream_rate_limited"

	// Webhook signature failures surface as 400 to the sender.
	ErrCodeWebhookSignature ErrorCode = "validation_webhook_signature"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Used by the API layer to translate AppErrors into HTTP responses.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized // 401
	case strings.HasPrefix(s, "payment_"):
		return http.StatusPaymentRequired // 402
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "limit_"):
		return http.StatusForbidden // 403
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the service.
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

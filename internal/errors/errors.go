package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"

	// Provider connection lifecycle
	ErrCodeNotConnected        ErrorCode = "NOT_CONNECTED"
	ErrCodeOAuthDenied         ErrorCode = "OAUTH_DENIED"
	ErrCodeInvalidState        ErrorCode = "INVALID_OAUTH_STATE"
	ErrCodeRefreshTokenInvalid ErrorCode = "REFRESH_TOKEN_INVALID"

	// Upstream provider
	ErrCodeUpstreamRateLimited ErrorCode = "UPSTREAM_RATE_LIMITED"
	ErrCodeUpstream            ErrorCode = "UPSTREAM_ERROR"

	// Rate Limiting (our own limits, not the provider's)
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase     ErrorCode = "DATABASE_ERROR"
	ErrCodeServerConfig ErrorCode = "SERVER_CONFIG_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

// NotConnected reports that the user has no provider connection. It is an
// expected state, not a failure: the UI responds with a connect affordance.
func NotConnected() *AppError {
	return New(ErrCodeNotConnected, "Fitbit account is not connected")
}

func OAuthDenied() *AppError {
	return New(ErrCodeOAuthDenied, "Consent was declined at the provider")
}

func InvalidState() *AppError {
	return New(ErrCodeInvalidState, "OAuth state is invalid, expired, or already used")
}

// RefreshTokenInvalid means the stored refresh token was rejected by the
// provider. The token record has been removed; the user must reconnect.
func RefreshTokenInvalid() *AppError {
	return New(ErrCodeRefreshTokenInvalid, "Stored credentials were revoked; reconnect required")
}

func UpstreamRateLimited() *AppError {
	return New(ErrCodeUpstreamRateLimited, "Provider rate limit reached; showing cached data")
}

func Upstream(detail string, cause error) *AppError {
	return Wrap(ErrCodeUpstream, fmt.Sprintf("Provider request failed: %s", detail), cause)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func ServerConfig(message string) *AppError {
	return New(ErrCodeServerConfig, message)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying the given code.
func HasCode(err error, code ErrorCode) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

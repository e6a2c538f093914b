// AngelaMos | 2026
// errors.go

package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("token invalid")
	ErrTokenRevoked   = errors.New("token revoked")
	ErrSessionExpired = errors.New("session expired")

	ErrRefreshTokenExpired = errors.New("refresh token expired")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrAccountLocked  = errors.New("account locked")
	ErrConflict       = errors.New("conflict")
)

// Stable error codes returned in the response envelope.
const (
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeTokenInvalid        = "TOKEN_INVALID"
	CodeTokenRevoked        = "TOKEN_REVOKED"
	CodeSessionExpired      = "SESSION_EXPIRED"
	CodeRefreshTokenExpired = "REFRESH_TOKEN_EXPIRED"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeUserInactive        = "USER_INACTIVE"
	CodeAccountExpired      = "ACCOUNT_EXPIRED"
	CodeAccountLocked       = "ACCOUNT_LOCKED"
	CodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	CodeInvalidCode         = "INVALID_CODE"
	CodeCodeExpired         = "CODE_EXPIRED"
	CodePermissionDenied    = "PERMISSION_DENIED"
	CodeNotFound            = "NOT_FOUND"
	CodeDuplicateResource   = "DUPLICATE_RESOURCE"
	CodeOverrideConflict    = "OVERRIDE_CONFLICT"
	CodeLastRole            = "LAST_ROLE"
	CodeSystemProtected     = "SYSTEM_PROTECTED"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeInternalError       = "INTERNAL_SERVER_ERROR"
	CodeUnauthorized        = "UNAUTHORIZED"
)

type AppError struct {
	Err     error
	Message string
	Status  int
	Code    string
	Details map[string]any
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NewAppError(err error, message string, status int, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Status:  status,
		Code:    code,
	}
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

func UnauthorizedError(message string) *AppError {
	if message == "" {
		message = "authentication required"
	}
	return NewAppError(
		ErrUnauthorized,
		message,
		http.StatusUnauthorized,
		CodeUnauthorized,
	)
}

func InvalidCredentialsError() *AppError {
	return NewAppError(
		ErrUnauthorized,
		"invalid username or password",
		http.StatusUnauthorized,
		CodeInvalidCredentials,
	)
}

func ForbiddenError(message string) *AppError {
	if message == "" {
		message = "insufficient permissions"
	}
	return NewAppError(
		ErrForbidden,
		message,
		http.StatusForbidden,
		CodePermissionDenied,
	)
}

func TokenExpiredError() *AppError {
	return NewAppError(
		ErrTokenExpired,
		"token has expired",
		http.StatusUnauthorized,
		CodeTokenExpired,
	)
}

func TokenInvalidError() *AppError {
	return NewAppError(
		ErrTokenInvalid,
		"token is invalid",
		http.StatusUnauthorized,
		CodeTokenInvalid,
	)
}

func TokenRevokedError() *AppError {
	return NewAppError(
		ErrTokenRevoked,
		"token has been revoked",
		http.StatusUnauthorized,
		CodeTokenRevoked,
	)
}

func RefreshTokenExpiredError() *AppError {
	return NewAppError(
		ErrRefreshTokenExpired,
		"refresh token has expired, please log in again",
		http.StatusUnauthorized,
		CodeRefreshTokenExpired,
	)
}

func SessionExpiredError() *AppError {
	return NewAppError(
		ErrSessionExpired,
		"session has expired, please log in again",
		http.StatusUnauthorized,
		CodeSessionExpired,
	)
}

func AccountLockedError() *AppError {
	return NewAppError(
		ErrAccountLocked,
		"account is locked, contact an administrator",
		http.StatusLocked,
		CodeAccountLocked,
	)
}

func RateLimitedError(message string) *AppError {
	if message == "" {
		message = "too many requests, try again later"
	}
	return NewAppError(
		ErrRateLimited,
		message,
		http.StatusTooManyRequests,
		CodeRateLimitExceeded,
	)
}

func NotFoundError(resource string) *AppError {
	return NewAppError(
		ErrNotFound,
		fmt.Sprintf("%s not found", resource),
		http.StatusNotFound,
		CodeNotFound,
	)
}

func DuplicateError(resource string) *AppError {
	return NewAppError(
		ErrDuplicateKey,
		fmt.Sprintf("%s already exists", resource),
		http.StatusConflict,
		CodeDuplicateResource,
	)
}

func ConflictError(message, code string) *AppError {
	return NewAppError(ErrConflict, message, http.StatusConflict, code)
}

func ValidationError(message string) *AppError {
	return NewAppError(
		ErrInvalidInput,
		message,
		http.StatusUnprocessableEntity,
		CodeValidationError,
	)
}

func FormatValidationError(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return "invalid request"
	}

	messages := make([]string, 0, len(validationErrs))
	for _, fieldErr := range validationErrs {
		messages = append(messages, formatFieldError(fieldErr))
	}

	return strings.Join(messages, "; ")
}

func formatFieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

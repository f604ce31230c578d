package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrAuthentication      ErrorType = "AUTHENTICATION_ERROR"
	ErrAuthorization       ErrorType = "AUTHORIZATION_ERROR"
	ErrValidation          ErrorType = "VALIDATION_ERROR"
	ErrRateLimit           ErrorType = "RATE_LIMIT_EXCEEDED"
	ErrInsufficientBalance ErrorType = "INSUFFICIENT_BALANCE"
	ErrExchange            ErrorType = "EXCHANGE_ERROR"
	ErrDatabase            ErrorType = "DATABASE_ERROR"
	ErrNotFound            ErrorType = "NOT_FOUND"
	ErrConflict            ErrorType = "CONFLICT"
	ErrReadOnly            ErrorType = "READ_ONLY"
	ErrInternal            ErrorType = "INTERNAL_ERROR"
)

// Reason refines an error type with a stable machine-readable cause.
type Reason string

const (
	ReasonMissingCredentials Reason = "missing-credentials"
	ReasonBadTimestamp       Reason = "bad-timestamp"
	ReasonStaleOrFuture      Reason = "stale-or-future"
	ReasonInvalidIdentity    Reason = "invalid-identity"
	ReasonBadSignature       Reason = "bad-signature"
	ReasonNotCancelable      Reason = "not-cancelable"
	ReasonInvalidInput       Reason = "invalid-input"
	ReasonUnknownVenue       Reason = "unknown-venue"
	ReasonMissingPermission  Reason = "missing-permission"
	ReasonBodyTooLarge       Reason = "body-too-large"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType      `json:"code"`
	Reason     Reason         `json:"reason,omitempty"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Suggestion string         `json:"suggestion,omitempty"`
	HTTPStatus int            `json:"-"`
	Cause      error          `json:"-"`

	// RetryAfterSeconds is only set on rate limit rejections.
	RetryAfterSeconds int `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func (e *AppError) WithReason(r Reason) *AppError {
	e.Reason = r
	return e
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func NewAuthentication(reason Reason, msg string) *AppError {
	return New(ErrAuthentication, msg, nil).WithReason(reason)
}

func NewAuthorization(msg string) *AppError {
	return New(ErrAuthorization, msg, nil).WithReason(ReasonMissingPermission)
}

func NewValidation(reason Reason, msg string) *AppError {
	return New(ErrValidation, msg, nil).WithReason(reason)
}

func NewRateLimit(limit, observed, retryAfterSeconds int) *AppError {
	e := New(ErrRateLimit, "rate limit exceeded", nil).
		WithDetail("limit", limit).
		WithDetail("observed", observed).
		WithDetail("retry_after", retryAfterSeconds)
	e.RetryAfterSeconds = retryAfterSeconds
	return e
}

func NewInsufficientBalance(msg string, cause error) *AppError {
	return New(ErrInsufficientBalance, msg, cause)
}

func NewExchange(msg string, cause error) *AppError {
	return New(ErrExchange, msg, cause)
}

func NewDatabase(msg string, cause error) *AppError {
	return New(ErrDatabase, msg, cause)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// Is reports whether err carries an AppError of the given type.
func Is(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// HasReason reports whether err carries an AppError with the given reason.
func HasReason(err error, r Reason) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason == r
	}
	return false
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrAuthentication:
		return http.StatusUnauthorized
	case ErrAuthorization:
		return http.StatusForbidden
	case ErrValidation:
		return http.StatusBadRequest
	case ErrRateLimit:
		return http.StatusTooManyRequests
	case ErrInsufficientBalance:
		return http.StatusUnprocessableEntity
	case ErrExchange:
		return http.StatusBadGateway
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict:
		return http.StatusConflict
	case ErrReadOnly:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrAuthentication:
		return "Check API key, timestamp and signature."
	case ErrRateLimit:
		return "Retry after the indicated number of seconds."
	case ErrInsufficientBalance:
		return "Top up the venue account or reduce the order amount."
	case ErrExchange:
		return "Retry later; the order state will be reconciled."
	case ErrReadOnly:
		return "Trading is halted, wait for recovery."
	default:
		return ""
	}
}

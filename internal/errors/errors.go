// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/pscheid92/opinionpulse/internal/domain"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeCooldown indicates an active vote cooldown (HTTP 429)
	TypeCooldown ErrorType = "cooldown_active"
	// TypeUnauthenticated indicates no signed-in user (HTTP 401)
	TypeUnauthenticated ErrorType = "unauthenticated"
	// TypeUnauthorized indicates an action on someone else's resource (HTTP 403)
	TypeUnauthorized ErrorType = "unauthorized"
	// TypeNotFound indicates resource not found (HTTP 404)
	TypeNotFound ErrorType = "not_found"
	// TypeConflict indicates a concurrent mutation in progress (HTTP 409)
	TypeConflict ErrorType = "conflict"
	// TypeStoreUnavailable indicates the document store is unreachable (HTTP 503)
	TypeStoreUnavailable ErrorType = "store_unavailable"
	// TypeInternal indicates server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeCooldown:
		return http.StatusTooManyRequests
	case TypeUnauthenticated:
		return http.StatusUnauthorized
	case TypeUnauthorized:
		return http.StatusForbidden
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeStoreUnavailable:
		return http.StatusServiceUnavailable
	case TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{
		Type:    TypeValidation,
		Message: message,
		Context: make(map[string]any),
	}
}

// CooldownError creates a cooldown-active error carrying the remaining wait.
func CooldownError(remaining time.Duration) *Error {
	return &Error{
		Type:    TypeCooldown,
		Message: "vote cooldown active",
		Context: map[string]any{"remaining_seconds": int64(remaining.Seconds())},
	}
}

// UnauthenticatedError creates an unauthenticated error (HTTP 401).
func UnauthenticatedError() *Error {
	return &Error{
		Type:    TypeUnauthenticated,
		Message: "authentication required",
		Context: make(map[string]any),
	}
}

// UnauthorizedError creates an unauthorized error (HTTP 403).
func UnauthorizedError(message string) *Error {
	return &Error{
		Type:    TypeUnauthorized,
		Message: message,
		Context: make(map[string]any),
	}
}

// NotFoundError creates a new not-found error (HTTP 404).
func NotFoundError(message string) *Error {
	return &Error{
		Type:    TypeNotFound,
		Message: message,
		Context: make(map[string]any),
	}
}

// ConflictError creates a new conflict error (HTTP 409).
func ConflictError(message string) *Error {
	return &Error{
		Type:    TypeConflict,
		Message: message,
		Context: make(map[string]any),
	}
}

// StoreUnavailableError creates a store-unavailable error (HTTP 503).
func StoreUnavailableError(cause error) *Error {
	return &Error{
		Type:    TypeStoreUnavailable,
		Message: "document store unavailable",
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithField is an alias for WithContext (chainable).
func (e *Error) WithField(key string, value any) *Error {
	return e.WithContext(key, value)
}

// ErrorResponse represents the JSON structure sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts an Error to an ErrorResponse for JSON serialization.
func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{
		Error:   e.Message,
		Type:    e.Type,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error. Domain
// sentinel errors map onto their taxonomy type; anything else becomes an
// internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return UnauthenticatedError()
	case errors.Is(err, domain.ErrUnauthorized):
		return UnauthorizedError("not allowed")
	case errors.Is(err, domain.ErrNotFound):
		return NotFoundError("not found")
	case errors.Is(err, domain.ErrMutationInProgress):
		return ConflictError("concurrent mutation in progress")
	case errors.Is(err, domain.ErrStoreUnavailable):
		return StoreUnavailableError(err)
	default:
		return InternalError("internal server error", err)
	}
}

package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different types of errors surfaced by the ranking core
type ErrorType string

const (
	// ErrorTypeInvalidArgument indicates malformed request parameters
	ErrorTypeInvalidArgument ErrorType = "INVALID_ARGUMENT"

	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeUnauthenticated indicates a user-scoped strategy was requested without a user
	ErrorTypeUnauthenticated ErrorType = "UNAUTHENTICATED"

	// ErrorTypeDeadlineExceeded indicates the caller deadline expired
	ErrorTypeDeadlineExceeded ErrorType = "DEADLINE_EXCEEDED"

	// ErrorTypeUnavailable indicates storage or cache could not be reached
	ErrorTypeUnavailable ErrorType = "UNAVAILABLE"

	// ErrorTypeCorruptedCache indicates a cached value had the wrong type
	ErrorTypeCorruptedCache ErrorType = "CORRUPTED_CACHE"

	// ErrorTypeInternal indicates a bug; never retried
	ErrorTypeInternal ErrorType = "INTERNAL"
)

// DefaultRetryAfter is the hint attached to Unavailable errors when no better estimate exists
const DefaultRetryAfter = 30 * time.Second

// AppError represents an application error
type AppError struct {
	Type       ErrorType
	Message    string
	Err        error
	RetryAfter time.Duration
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidArgument,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewUnauthenticatedError creates a new unauthenticated error
func NewUnauthenticatedError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeUnauthenticated,
		Message: message,
	}
}

// NewDeadlineExceededError creates a new deadline error
func NewDeadlineExceededError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeDeadlineExceeded,
		Message: message,
		Err:     err,
	}
}

// NewUnavailableError creates a new unavailable error with a retry hint
func NewUnavailableError(message string, err error, retryAfter time.Duration) *AppError {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	return &AppError{
		Type:       ErrorTypeUnavailable,
		Message:    message,
		Err:        err,
		RetryAfter: retryAfter,
	}
}

// NewCorruptedCacheError creates a new corrupted cache error
func NewCorruptedCacheError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeCorruptedCache,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// FromContext converts a finished context into a typed error. Returns nil while ctx is live.
func FromContext(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	return NewDeadlineExceededError("request deadline exceeded", err)
}

// TypeOf returns the ErrorType carried by err.
// Bare context errors map to DEADLINE_EXCEEDED, anything else untyped is INTERNAL.
func TypeOf(err error) ErrorType {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrorTypeDeadlineExceeded
	}
	return ErrorTypeInternal
}

// Is reports whether err carries the given type
func Is(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// RetryAfterOf returns the retry hint of an Unavailable error, or zero
func RetryAfterOf(err error) time.Duration {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Type == ErrorTypeUnavailable {
		return appErr.RetryAfter
	}
	return 0
}

// Package apperrors defines the error kinds surfaced by the service layer.
// Callers classify failures with errors.Is against the sentinels below.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrAborted reports transactional contention or a timeout. The operation
	// left no state behind and may be retried.
	ErrAborted = errors.New("aborted")
)

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// Is reports ValidationError as ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError creates a new ValidationError with the given field and message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Kind returns the sentinel matching err, or nil when err is unclassified.
func Kind(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrConflict,
		ErrNotFound,
		ErrUnauthorized,
		ErrForbidden,
		ErrAborted,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

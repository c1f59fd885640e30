package models

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a missing dataset, consumer, or link.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ValidationError reports malformed input: bad chunking options, an
// out-of-range link weight, an embedding call on empty text. It is surfaced
// immediately and never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// BackendUnavailableError reports an embedding backend network or process
// failure. Callers may retry with backoff.
type BackendUnavailableError struct {
	Backend string
	Err     error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("embedding backend %s unavailable: %v", e.Backend, e.Err)
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err represents a transient backend failure.
func IsRetryable(err error) bool {
	var b *BackendUnavailableError
	return errors.As(err, &b)
}

// DimensionMismatchError reports a vector whose dimensionality does not match
// the dataset's established dimension. Fatal for the ingestion batch; never
// coerced.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: got %d, expected %d", e.Got, e.Want)
}

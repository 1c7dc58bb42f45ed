package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for element and batch failures.
var (
	ErrInvalidElement     = errors.New("invalid element")
	ErrThrottled          = errors.New("request rate too large")
	ErrTransientNetwork   = errors.New("transient network failure")
	ErrValidation         = errors.New("validation failed")
	ErrFatalConfiguration = errors.New("fatal configuration error")
	ErrClosed             = errors.New("executor closed")

	ErrConflict        = errors.New("element with the same id already exists")
	ErrNotFound        = errors.New("element not found")
	ErrMissingEndpoint = errors.New("edge endpoint vertex not found")
	ErrTooLarge        = errors.New("element exceeds maximum batch size")
)

// InvalidElementError rejects a malformed element before batching.
type InvalidElementError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *InvalidElementError) Error() string {
	if e.Wrapped != nil && !errors.Is(e.Wrapped, ErrInvalidElement) {
		return fmt.Sprintf("invalid element: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
	}
	return fmt.Sprintf("invalid element: %s (value=%q)", e.Field, e.Value)
}

func (e *InvalidElementError) Unwrap() []error {
	if e.Wrapped == nil || errors.Is(e.Wrapped, ErrInvalidElement) {
		return []error{ErrInvalidElement}
	}
	return []error{ErrInvalidElement, e.Wrapped}
}

// NewInvalidElementError creates an InvalidElementError.
func NewInvalidElementError(field, value string) *InvalidElementError {
	return &InvalidElementError{Field: field, Value: value, Wrapped: ErrInvalidElement}
}

// ThrottledError is returned by a store when the partition's throughput is
// exhausted. RetryAfter is the store's back-off hint, zero if unknown.
type ThrottledError struct {
	RetryAfter time.Duration
	Charge     float64
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", ErrThrottled, e.RetryAfter)
	}
	return ErrThrottled.Error()
}

func (e *ThrottledError) Unwrap() error { return ErrThrottled }

// TransientNetworkError wraps a connectivity failure that may succeed on retry.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransientNetwork, e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() []error { return []error{ErrTransientNetwork, e.Err} }

// ValidationError is a non-retryable, per-element rejection from the store.
type ValidationError struct {
	Ref     Ref
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Ref, e.Wrapped)
}

func (e *ValidationError) Unwrap() []error { return []error{ErrValidation, e.Wrapped} }

// NewValidationError creates a ValidationError.
func NewValidationError(ref Ref, wrapped error) *ValidationError {
	return &ValidationError{Ref: ref, Wrapped: wrapped}
}

// FatalConfigurationError aborts a whole operation, e.g. when the collection
// or its throughput offer cannot be found.
type FatalConfigurationError struct {
	Resource string
	Err      error
}

func (e *FatalConfigurationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrFatalConfiguration, e.Resource)
	}
	return fmt.Sprintf("%s: %s: %v", ErrFatalConfiguration, e.Resource, e.Err)
}

func (e *FatalConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrFatalConfiguration}
	}
	return []error{ErrFatalConfiguration, e.Err}
}

// IsRetryable reports whether err is worth retrying: throttling and transient
// network failures are, everything else is not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrThrottled) || errors.Is(err, ErrTransientNetwork)
}

// IsFatal reports whether err must abort the operation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatalConfiguration)
}

// RetryAfter extracts the store's back-off hint from a throttling error.
func RetryAfter(err error) time.Duration {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

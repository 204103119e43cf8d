package errors

import (
	"errors"
	"fmt"
)

// Common error types used across the distbucket library

var (
	// ErrStoreUnavailable indicates a transport or connection failure talking to the shared store.
	// It never means the request was rate limited.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrBadScript indicates the atomic script is missing or invalid on the store
	ErrBadScript = errors.New("bad script")

	// ErrVersionConflict indicates a conditional write lost against a concurrent writer
	ErrVersionConflict = errors.New("version conflict")

	// ErrContentionExceeded indicates that version conflicts exhausted the retry bound
	ErrContentionExceeded = errors.New("contention exceeded")

	// ErrInvalidRequest indicates caller misuse, such as a non-positive token count
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidConfiguration indicates invalid configuration parameters
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrCorruptState indicates a stored bucket value that cannot be decoded
	ErrCorruptState = errors.New("corrupt bucket state")
)

// IsStoreFailure returns true if the error came from the store rather than
// from a rate limiting decision or caller misuse.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrBadScript) ||
		errors.Is(err, ErrCorruptState)
}

// ValidationError describes an invalid parameter.
type ValidationError struct {
	Module string
	Field  string
	Value  interface{}
	Reason string
	Hint   string

	kind error
}

// NewValidationError creates a ValidationError that wraps ErrInvalidConfiguration.
func NewValidationError(module, field string, value interface{}, reason string) *ValidationError {
	return &ValidationError{
		Module: module,
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}

// NewRequestError creates a ValidationError that wraps ErrInvalidRequest.
func NewRequestError(module, field string, value interface{}, reason string) *ValidationError {
	err := NewValidationError(module, field, value, reason)
	err.kind = ErrInvalidRequest
	return err
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: invalid %s=%v (%s)", e.Module, e.Field, e.Value, e.Reason)
	if e.Hint != "" {
		msg += " - " + e.Hint
	}
	return msg
}

// Unwrap returns ErrInvalidConfiguration, or ErrInvalidRequest for request errors.
func (e *ValidationError) Unwrap() error {
	if e.kind != nil {
		return e.kind
	}
	return ErrInvalidConfiguration
}

// WithHint attaches a remediation hint and returns the same instance.
func (e *ValidationError) WithHint(hint string) *ValidationError {
	e.Hint = hint
	return e
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}

// OperationError describes a failed operation on a module, usually a store adapter.
type OperationError struct {
	Module    string
	Operation string
	Cause     error
	Context   string
}

// NewOperationError creates an OperationError.
func NewOperationError(module, operation string, cause error) *OperationError {
	return &OperationError{
		Module:    module,
		Operation: operation,
		Cause:     cause,
	}
}

func (e *OperationError) Error() string {
	msg := fmt.Sprintf("%s.%s failed: %v", e.Module, e.Operation, e.Cause)
	if e.Context != "" {
		msg += " (" + e.Context + ")"
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Cause
}

// WithContext attaches additional context and returns the same instance.
func (e *OperationError) WithContext(context string) *OperationError {
	e.Context = context
	return e
}

// Classify wraps cause so that it matches kind under errors.Is while keeping
// the original error in the chain.
func Classify(kind, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return fmt.Errorf("%w: %w", kind, cause)
}

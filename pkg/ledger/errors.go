package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the plan id does not exist on the ledger.
	ErrNotFound = errors.New("plan not found")

	// ErrRejected means the wallet declined to sign the operation. Transient;
	// the user may simply retry.
	ErrRejected = errors.New("wallet rejected the request")

	// ErrNotActive means a payment was attempted on a plan the ledger no
	// longer accepts payments for. The caller's guards should have prevented
	// the attempt.
	ErrNotActive = errors.New("plan is not active")
)

// ValidationError means an input violated the chosen level's bounds before
// submission. Recovered locally; the operation is simply not offered.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NetworkError wraps a transport failure talking to the ledger. Retry is left
// to the caller.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable marks network errors as safe to retry.
func (e *NetworkError) Retryable() bool { return true }

package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected marks calls the ledger refused to apply.
	ErrRejected = errors.New("ledger: call rejected")
	// ErrBlockNotFound is returned when a block locator does not resolve.
	ErrBlockNotFound = errors.New("ledger: block not found")
)

// RejectionError carries the module-level reason for a rejected call. The
// reason is opaque to the stores: stale nonces, stale created heights,
// unauthorised signers and duplicate ids all surface the same way.
type RejectionError struct {
	Module string
	Method string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("ledger: %s call rejected: %s", e.Module, e.Reason)
	}
	return fmt.Sprintf("ledger: %s.%s rejected: %s", e.Module, e.Method, e.Reason)
}

// Unwrap allows errors.Is(err, ErrRejected).
func (e *RejectionError) Unwrap() error {
	return ErrRejected
}

// Reject builds a RejectionError.
func Reject(module, method string, reason error) *RejectionError {
	msg := "unspecified"
	if reason != nil {
		msg = reason.Error()
	}
	return &RejectionError{Module: module, Method: method, Reason: msg}
}

// nonRetryable is implemented by local validation errors.
type nonRetryable interface {
	NonRetryable() bool
}

// IsRetryable reports whether resubmitting the same call could succeed.
// Rejections are never retryable as-is: a nonce or created mismatch fails
// again until the caller refetches the current state.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRejected) {
		return false
	}
	var nr nonRetryable
	if errors.As(err, &nr) && nr.NonRetryable() {
		return false
	}
	return true
}

// ValidationError wraps a local contract violation detected before any
// network call.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped sentinel.
func (e *ValidationError) Unwrap() error { return e.Err }

// NonRetryable marks validation errors as permanent.
func (e *ValidationError) NonRetryable() bool { return true }

// Invalid wraps err as a ValidationError.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	var existing *ValidationError
	if errors.As(err, &existing) {
		return err
	}
	return &ValidationError{Err: err}
}

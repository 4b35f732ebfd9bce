package trigger

import (
	"errors"
	"fmt"

	"github.com/roach88/hookledger/internal/ir"
)

// ErrorCode categorizes dispatch failures.
type ErrorCode string

const (
	// ErrCodeConstraintViolation indicates the applied row failed the target's
	// own constraints (typically after a Before observer rewrote it).
	ErrCodeConstraintViolation ErrorCode = "CONSTRAINT_VIOLATION"

	// ErrCodeConcurrentConflict indicates the storage engine's isolation
	// mechanism rejected the transaction.
	ErrCodeConcurrentConflict ErrorCode = "CONCURRENT_CONFLICT"

	// ErrCodeObserverFailed indicates an observer returned an error.
	ErrCodeObserverFailed ErrorCode = "OBSERVER_FAILED"

	// ErrCodeInvalidResult indicates an observer returned a control outcome
	// its timing/granularity does not allow (e.g. Suppress from After).
	ErrCodeInvalidResult ErrorCode = "INVALID_RESULT"

	// ErrCodeInvalidEvent indicates a malformed event or row image.
	ErrCodeInvalidEvent ErrorCode = "INVALID_EVENT"

	// ErrCodeDepthExceeded indicates nested observer writes went too deep.
	ErrCodeDepthExceeded ErrorCode = "DEPTH_EXCEEDED"

	// ErrCodeInvalidTransition indicates a row was driven out of order
	// (e.g. After before Applied). This is a storage-engine bug.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodeInvalidRegistration indicates Register rejected a spec.
	ErrCodeInvalidRegistration ErrorCode = "INVALID_REGISTRATION"
)

// DispatchError represents a failure raised while dispatching a mutation.
// Every DispatchError aborts the enclosing transaction.
type DispatchError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Table and Operation identify the mutation being dispatched.
	Table     string
	Operation ir.Operation

	// Observer names the failing observer, when one is involved.
	Observer string

	// Handle identifies the failing observer's registration.
	Handle Handle

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Table != "" && e.Observer != "":
		msg += fmt.Sprintf(" (table=%s, op=%s, observer=%s)", e.Table, e.Operation, e.Observer)
	case e.Table != "":
		msg += fmt.Sprintf(" (table=%s, op=%s)", e.Table, e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.Err
}

// hasCode reports whether any DispatchError in err's chain carries code.
// An observer failure may wrap a nested statement's constraint violation,
// so the whole chain is inspected, not just the outermost error.
func hasCode(err error, code ErrorCode) bool {
	for err != nil {
		var de *DispatchError
		if !errors.As(err, &de) {
			return false
		}
		if de.Code == code {
			return true
		}
		err = de.Err
	}
	return false
}

// CodeOf returns the outermost dispatch error code in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsConstraintViolation reports whether err is or wraps a constraint violation.
func IsConstraintViolation(err error) bool {
	return hasCode(err, ErrCodeConstraintViolation)
}

// IsConcurrentConflict reports whether err is or wraps a concurrency conflict.
func IsConcurrentConflict(err error) bool {
	return hasCode(err, ErrCodeConcurrentConflict)
}

// IsObserverFailure reports whether err is or wraps an observer failure.
func IsObserverFailure(err error) bool {
	return hasCode(err, ErrCodeObserverFailed)
}

// IsDepthExceeded reports whether err is or wraps a nesting depth failure.
func IsDepthExceeded(err error) bool {
	return hasCode(err, ErrCodeDepthExceeded)
}

// IsInvalidResult reports whether err is or wraps an invalid observer result.
func IsInvalidResult(err error) bool {
	return hasCode(err, ErrCodeInvalidResult)
}

// NewConstraintViolation wraps a storage-engine constraint failure.
func NewConstraintViolation(table string, op ir.Operation, err error) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeConstraintViolation,
		Message:   "row violates table constraints",
		Table:     table,
		Operation: op,
		Err:       err,
	}
}

// NewConcurrentConflict wraps a storage-engine isolation failure.
func NewConcurrentConflict(table string, op ir.Operation, err error) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeConcurrentConflict,
		Message:   "transaction conflicts with a concurrent transaction",
		Table:     table,
		Operation: op,
		Err:       err,
	}
}

func newObserverError(ev ir.MutationEvent, reg *Registration, obs Observer, err error) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeObserverFailed,
		Message:   fmt.Sprintf("%s %s observer failed", ev.Timing, ev.Granularity),
		Table:     ev.Table,
		Operation: ev.Operation,
		Observer:  obs.Name(),
		Handle:    reg.Handle,
		Err:       err,
	}
}

func newInvalidResult(ev ir.MutationEvent, reg *Registration, obs Observer, message string) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeInvalidResult,
		Message:   message,
		Table:     ev.Table,
		Operation: ev.Operation,
		Observer:  obs.Name(),
		Handle:    reg.Handle,
	}
}

func newInvalidEvent(table string, op ir.Operation, err error) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeInvalidEvent,
		Message:   "malformed mutation event",
		Table:     table,
		Operation: op,
		Err:       err,
	}
}

func newDepthExceeded(table string, op ir.Operation, depth, maxDepth int) *DispatchError {
	return &DispatchError{
		Code:      ErrCodeDepthExceeded,
		Message:   fmt.Sprintf("nested dispatch depth %d exceeds limit %d", depth, maxDepth),
		Table:     table,
		Operation: op,
	}
}

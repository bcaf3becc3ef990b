// Package txn implements the transaction descriptor and commit-time state
// machine described in spec.md §4.4: per-thread read/write sets, an
// item-lookup index, and the lock/validate/install/cleanup commit phases.
package txn

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorCode classifies the error kinds spec.md §7 enumerates.
type ErrorCode int

const (
	// Unknown is the zero-value error code.
	Unknown ErrorCode = iota
	// Validation means a read item's version no longer matches, or a
	// bucket/internode version moved since it was observed.
	Validation
	// Contention means a lock could not be acquired during the commit
	// phase within its retry budget.
	Contention
	// Phantom means a key reference refers to a record not yet committed
	// by any transaction.
	Phantom
	// InvariantViolation marks a structural assertion failure. Fatal: not
	// recoverable by the retry loop.
	InvariantViolation
)

func (c ErrorCode) String() string {
	switch c {
	case Validation:
		return "validation"
	case Contention:
		return "contention"
	case Phantom:
		return "phantom"
	case InvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Error is the error type returned by abort paths throughout this module.
type Error struct {
	Code ErrorCode
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("oltpcore: %s", e.Code)
	}
	return fmt.Sprintf("oltpcore: %s: %v", e.Code, e.Err)
}

// Unwrap exposes the wrapped cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Err }

// NewError wraps cause (which may be nil) with the given error code. Most
// call sites in this module pass a nil cause with a descriptive format
// string; errors.Wrapf(nil, ...) returns nil by design, which would
// otherwise silently discard that message, so the nil-cause case is built
// with errors.Errorf instead.
func NewError(code ErrorCode, cause error, format string, args ...any) *Error {
	var err error
	switch {
	case format == "":
		err = cause
	case cause == nil:
		err = errors.Errorf(format, args...)
	default:
		err = errors.Wrapf(cause, format, args...)
	}
	return &Error{Code: code, Err: err}
}

// Retryable reports whether the enclosing retry scope should re-enter on
// this error. Validation, Contention and Phantom are all transient from the
// caller's point of view; InvariantViolation is not.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == Validation || e.Code == Contention || e.Code == Phantom
}

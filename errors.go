package oltpcore

import "github.com/sharedcode/oltpcore/txn"

// ErrorCode classifies the error kinds spec.md §7 enumerates. It is an
// alias of txn.ErrorCode so that application code never needs to import the
// txn package directly just to classify an error returned from a
// transaction.
type ErrorCode = txn.ErrorCode

// Re-exported error codes; see txn.ErrorCode for documentation.
const (
	Unknown            = txn.Unknown
	Validation         = txn.Validation
	Contention         = txn.Contention
	Phantom            = txn.Phantom
	InvariantViolation = txn.InvariantViolation
)

// Error is an alias of txn.Error.
type Error = txn.Error

// NewError wraps cause (which may be nil) with the given error code.
func NewError(code ErrorCode, cause error, format string, args ...any) *Error {
	return txn.NewError(code, cause, format, args...)
}

// Retryable reports whether the enclosing retry scope should re-enter on
// this error.
func Retryable(err error) bool {
	return txn.Retryable(err)
}

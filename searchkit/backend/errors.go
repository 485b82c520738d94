package backend

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy.
var (
	// ErrInvalidQuery reports malformed caller input. It is never retried.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrBackendUnavailable reports an open circuit or a failed backend.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrBackendTimeout reports a backend call that exceeded its deadline.
	ErrBackendTimeout = errors.New("backend timeout")
	// ErrMergeConflict reports an internal invariant violation while merging.
	ErrMergeConflict = errors.New("merge conflict")
	// ErrCacheMiss reports that a cache holds no result set for the query.
	ErrCacheMiss = errors.New("cache miss")
	// ErrConnection reports that Connect could not reach the backend.
	ErrConnection = errors.New("connection failed")
	// ErrNotConnected reports an operation on a backend that is not connected.
	ErrNotConnected = errors.New("backend not connected")
)

// Error carries a backend specific code alongside one of the sentinel errors.
type Error struct {
	Backend Identity
	Code    string
	Message string
	Err     error
}

// NewError builds an Error.
func NewError(backend Identity, code, message string, err error) *Error {
	return &Error{Backend: backend, Code: code, Message: message, Err: err}
}

// Error implements error.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s backend error", e.Backend)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is a deadline overrun.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrBackendTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Classify maps an error returned by a backend call onto the taxonomy:
// deadline overruns become ErrBackendTimeout, cancellations stay as is and
// everything else becomes ErrBackendUnavailable. Errors that already carry a
// taxonomy sentinel are returned unchanged.
func Classify(id Identity, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBackendTimeout),
		errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrCacheMiss),
		errors.Is(err, ErrInvalidQuery),
		errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", id, ErrBackendTimeout, err)
	default:
		return fmt.Errorf("%s: %w: %w", id, ErrBackendUnavailable, err)
	}
}

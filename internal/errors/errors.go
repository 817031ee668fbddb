// Package errors defines the error taxonomy of the persistence layer.
//
// Three categories cover every backend failure:
//   - ErrUnavailable: connectivity or timeout talking to the backend
//   - ErrSchemaMismatch: the schema verification step at construction failed
//   - OpError: any other backend-reported failure, wrapping its cause
//
// Every failure surfaces to the caller of the originating operation. This
// layer never retries and never suppresses an error on a read or write
// path; the one exception, the warm-up scan, is handled inside the bloom
// decorator and documented there.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable indicates the backend could not be reached or timed out.
	ErrUnavailable = errors.New("backend unavailable")

	// ErrSchemaMismatch indicates the backend schema does not match what
	// this version expects. Raised by the verification step at construction.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrClosed indicates an operation was attempted after Shutdown.
	ErrClosed = errors.New("agent is closed")

	// ErrEmptyBatch indicates a persist call received no events.
	ErrEmptyBatch = errors.New("event batch must not be empty")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// OpError is a backend-reported operation failure. It names the failed
// operation and wraps the underlying cause.
type OpError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("persistence operation %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *OpError) Unwrap() error {
	return e.Err
}

// Op wraps err as an OpError for the named operation. It returns nil when
// err is nil so call sites can wrap unconditionally.
func Op(op string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{Op: op, Err: err}
}

// IsUnavailable reports whether err is a backend availability failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsSchemaMismatch reports whether err is a schema verification failure.
func IsSchemaMismatch(err error) bool {
	return errors.Is(err, ErrSchemaMismatch)
}

// IsClosed reports whether err is a use-after-shutdown failure.
func IsClosed(err error) bool {
	return errors.Is(err, ErrClosed)
}

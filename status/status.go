// Package status defines the closed set of error kinds used by the runtime.
//
// Every fallible runtime operation returns a plain Go error whose kind can be
// recovered with Code. Kinds are deliberately few: callers branch on the kind,
// humans read the wrapped message chain. Errors carry a stack trace courtesy
// of github.com/pkg/errors.
//
// Programmer-contract violations (as opposed to runtime conditions) are not
// represented here; those panic with a stack trace, see
// github.com/gomlx/exceptions.
package status

import (
	"github.com/pkg/errors"
)

// Code is the kind of a runtime error.
type Code int

const (
	// Ok is the zero Code and never attached to a non-nil error.
	Ok Code = iota

	// Internal covers lower-layer failures the runtime cannot characterize
	// more precisely, including native delegate invocation failures and
	// delegate compilation failures.
	Internal

	// InvalidState means an operation was called on an object in the wrong
	// lifecycle state, e.g. executing a method that failed to load.
	InvalidState

	// InvalidArgument means the caller violated the contract: wrong arity,
	// wrong shape or dtype, out-of-range index.
	InvalidArgument

	// InvalidProgram means the serialized program is malformed or failed
	// verification.
	InvalidProgram

	// NotFound means a named entity (method, delegate backend) does not
	// exist.
	NotFound

	// NotSupported means the requested operation is structurally impossible,
	// e.g. a rank-changing resize of a compiled output.
	NotSupported

	// MemoryAllocationFailed means a planned or temporary allocation could
	// not be satisfied.
	MemoryAllocationFailed

	// AccessFailed means the backing data source could not be read or
	// mapped.
	AccessFailed
)

// String implements fmt.Stringer.
func (c Code) String() string {
	switch c {
	case Ok:
		return "Ok"
	case Internal:
		return "Internal"
	case InvalidState:
		return "InvalidState"
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidProgram:
		return "InvalidProgram"
	case NotFound:
		return "NotFound"
	case NotSupported:
		return "NotSupported"
	case MemoryAllocationFailed:
		return "MemoryAllocationFailed"
	case AccessFailed:
		return "AccessFailed"
	}
	return "Unknown"
}

// coded attaches a Code to an underlying error.
type coded struct {
	code Code
	err  error
}

func (e *coded) Error() string { return e.code.String() + ": " + e.err.Error() }
func (e *coded) Unwrap() error { return e.err }

// Cause implements the causer interface of github.com/pkg/errors.
func (e *coded) Cause() error { return e.err }

// Errorf creates a new error of the given kind, with a stack trace.
func Errorf(code Code, format string, args ...any) error {
	return &coded{code: code, err: errors.Errorf(format, args...)}
}

// Wrapf annotates err with a message while preserving (or setting) its kind.
// If err already carries a Code, that code wins -- errors from a collaborator
// propagate unchanged to the nearest public boundary.
//
// Returns nil if err is nil.
func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if existing := Code(0); as(err, &existing) {
		code = existing
	}
	return &coded{code: code, err: errors.Wrapf(err, format, args...)}
}

func as(err error, out *Code) bool {
	var c *coded
	if errors.As(err, &c) {
		*out = c.code
		return true
	}
	return false
}

// CodeOf returns the kind of err, Internal if err carries no kind, and Ok if
// err is nil.
func CodeOf(err error) Code {
	if err == nil {
		return Ok
	}
	var code Code
	if as(err, &code) {
		return code
	}
	return Internal
}

// Is reports whether err carries the given kind.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Package errs defines the closed error-kind enum shared by every core
// package. Public entry points always return *Error; internal helpers may
// return plain errors, wrapped with github.com/pkg/errors where a stack
// trace is worth keeping, and classified into an *Error at the boundary.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of error kinds a core operation may report.
type Kind uint8

const (
	Ok Kind = iota
	InvalidArg
	NotFound
	AlreadyExists
	OutOfMemory
	Io
	Corrupted
	Busy
	Timeout
	Full
	Empty
	Closed
	Immutable
	TooLarge
	Internal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case InvalidArg:
		return "invalid_arg"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case OutOfMemory:
		return "out_of_memory"
	case Io:
		return "io"
	case Corrupted:
		return "corrupted"
	case Busy:
		return "busy"
	case Timeout:
		return "timeout"
	case Full:
		return "full"
	case Empty:
		return "empty"
	case Closed:
		return "closed"
	case Immutable:
		return "immutable"
	case TooLarge:
		return "too_large"
	case Internal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single result type every public PPDB entry point returns.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause under kind, stack-wrapping it first via pkg/errors
// so the original call site survives into logs.
func Wrap(kind Kind, message string, cause error) *Error {
	if cause == nil {
		return New(kind, message)
	}
	return &Error{Kind: kind, Message: message, Cause: errors.WithStack(cause)}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind carried by err, or Internal if err is not an
// *Error produced by this package.
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

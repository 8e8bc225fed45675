// Package fault defines the closed set of failure classes produced by the
// install and launch pipeline. Callers branch on the class of an error
// instead of inspecting its message text.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind int

const (
	// Transient marks recoverable network failures (timeout, connection
	// reset, stalled transfer). Safe to retry.
	Transient Kind = iota
	// Integrity marks corrupt or undersized artifacts. Never retried with
	// the same artifact.
	Integrity
	// ToolFailure marks a non-zero exit or timeout of an external tool.
	ToolFailure
	// Environment marks a missing prerequisite (runtime, client binary)
	// that requires user action.
	Environment
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Integrity:
		return "integrity"
	case ToolFailure:
		return "tool-failure"
	case Environment:
		return "environment"
	default:
		return "unknown"
	}
}

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error from a format string.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies an existing error. A nil err returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the Kind of err and true when err carries one.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return 0, false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTransient reports whether err is safe to retry.
func IsTransient(err error) bool {
	return Is(err, Transient)
}

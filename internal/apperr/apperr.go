// Package apperr defines the error taxonomy shared by every service in
// this module, so component boundaries can translate library errors into
// a small, closed set of kinds instead of matching on error strings.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of propagation policy: which
// kinds are fatal at startup, which surface as a single SSE error event,
// which trigger a reconnect, and so on.
type Kind string

const (
	Configuration Kind = "configuration"
	Transport     Kind = "transport"
	ToolTimeout   Kind = "tool_timeout"
	ToolArgument  Kind = "tool_argument"
	LLM           Kind = "llm"
	RAG           Kind = "rag"
	Validation    Kind = "validation"
)

// Error wraps an underlying error with a Kind and the operation that
// produced it, so callers can both match on Kind via errors.As and print
// a human-actionable message.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs an *Error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Wrap is a convenience for New that returns nil when err is nil, so it can
// wrap the result of a call without an extra if-statement at the call site.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return New(kind, op, err)
}

// Is reports whether err (or any error it wraps) has the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or "" if err does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

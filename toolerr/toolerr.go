// Package toolerr defines a small structured tool error carrying a message
// and a retry hint, so internal code can branch on retryability while the
// public tool-complete event keeps a plain string (spec.md §3, §7).
// Grounded on the teacher's toolerrors.ToolError chain, simplified to the
// flat {Message, Retryable} shape spec.md names.
package toolerr

import (
	"errors"
	"fmt"
)

// ToolError is a structured tool-execution failure. Cause links to an
// underlying ToolError, preserving the chain for errors.Is/As while
// Error() still returns a single flattened message for the public event.
type ToolError struct {
	Message   string
	Retryable bool
	Cause     *ToolError
}

// New constructs a non-retryable ToolError.
func New(message string) *ToolError {
	return &ToolError{Message: message}
}

// Retryable constructs a ToolError marked safe to retry.
func Retryable(message string) *ToolError {
	return &ToolError{Message: message, Retryable: true}
}

// Errorf formats according to a format specifier and returns a
// non-retryable ToolError.
func Errorf(format string, args ...any) *ToolError {
	return New(fmt.Sprintf(format, args...))
}

// FromError converts an arbitrary error into a ToolError chain, preserving
// an existing ToolError's Retryable flag if err already wraps one.
func FromError(err error) *ToolError {
	if err == nil {
		return nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return te
	}
	return &ToolError{
		Message: err.Error(),
		Cause:   FromError(errors.Unwrap(err)),
	}
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Unwrap supports errors.Is/As across a ToolError chain.
func (e *ToolError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

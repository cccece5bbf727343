// Package fault defines the typed error taxonomy shared by the interview
// engine. Every fatal turn error carries one of these codes so callers can
// distinguish backend failures from state corruption without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Code identifies a class of engine failure.
type Code string

const (
	// CodeBackendError wraps any language-backend failure.
	CodeBackendError Code = "BACKEND_ERROR"
	// CodeToolNotFound indicates a proposed action is not registered for the step.
	CodeToolNotFound Code = "TOOL_NOT_FOUND"
	// CodeToolExecutionFailed indicates a registered action failed while executing.
	CodeToolExecutionFailed Code = "TOOL_EXECUTION_FAILED"
	// CodeContextInvalid indicates a step's input contract could not be satisfied.
	CodeContextInvalid Code = "CONTEXT_INVALID"
	// CodeStateInvalid indicates persisted session state violates an invariant.
	CodeStateInvalid Code = "STATE_INVALID"
	// CodeValidationFailed indicates a schema validation failure that policy rejects.
	CodeValidationFailed Code = "VALIDATION_FAILED"
	// CodeMaxLoopIterations indicates the tool-calling loop hit its ceiling.
	CodeMaxLoopIterations Code = "MAX_LOOP_ITERATIONS_REACHED"
	// CodeStackDepthExceeded indicates a delegation push beyond the stack bound.
	CodeStackDepthExceeded Code = "STACK_DEPTH_EXCEEDED"
)

// Error is a classified engine error.
type Error struct {
	Err     error  // Wrapped underlying error
	Message string // Human-readable error message
	Code    Code   // Classified failure code
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code == code
	}
	return false
}

// CodeOf returns the code of a classified error, or empty string.
func CodeOf(err error) Code {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

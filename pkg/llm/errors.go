package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind sub-classifies backend failures for retry and reporting logic.
type ErrorKind int8

const (
	// KindRateLimit represents rate limiting errors (429, quota exceeded).
	KindRateLimit ErrorKind = iota
	// KindTimeout represents deadline and connection timeout errors.
	KindTimeout
	// KindContentFilter represents refusals from the provider's safety layer.
	KindContentFilter
	// KindInvalidResponse represents empty or unparseable responses.
	KindInvalidResponse
	// KindUnknown represents unclassified errors.
	KindUnknown
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindTimeout:
		return "timeout"
	case KindContentFilter:
		return "content_filter"
	case KindInvalidResponse:
		return "invalid_response"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified backend error.
type Error struct {
	Err     error     // Wrapped underlying error
	Message string    // Human-readable error message
	Kind    ErrorKind // Classified error kind
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("backend error (%s): %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified backend error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewErrorWithCause creates a classified backend error wrapping a cause.
func NewErrorWithCause(kind ErrorKind, cause error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

// KindOf returns the classified kind of an error, or KindUnknown.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindUnknown
}

// Classify maps an arbitrary backend failure to a classified Error.
// Already-classified errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return be
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewErrorWithCause(KindTimeout, err, "request timed out or canceled")
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "quota"):
		return NewErrorWithCause(KindRateLimit, err, "rate limited")
	case strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "timed out") ||
		strings.Contains(msg, "deadline"):
		return NewErrorWithCause(KindTimeout, err, "request timed out")
	case strings.Contains(msg, "content filter") ||
		strings.Contains(msg, "content_filter") ||
		strings.Contains(msg, "content policy") ||
		strings.Contains(msg, "refusal"):
		return NewErrorWithCause(KindContentFilter, err, "content filtered")
	case strings.Contains(msg, "empty response") ||
		strings.Contains(msg, "invalid response") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "unmarshal") ||
		strings.Contains(msg, "parse"):
		return NewErrorWithCause(KindInvalidResponse, err, "invalid response")
	default:
		return NewErrorWithCause(KindUnknown, err, "unclassified backend failure")
	}
}

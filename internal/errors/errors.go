// Package errors defines structured errors for the conversation
// intelligence path. Provider failures carry a code so callers can decide
// between degrading (keyword fallback, absent analysis fields) and
// rejecting the request outright.
package errors

import (
	"errors"
	"fmt"
)

// Code identifies a specific error condition.
type Code string

const (
	// CodeProviderUnavailable indicates a chat provider transport, auth or
	// rate-limit failure. Recovered locally, never a hard failure.
	CodeProviderUnavailable Code = "PROVIDER_UNAVAILABLE"
	// CodeEmbeddingUnavailable is the embedding-path specialization of
	// CodeProviderUnavailable. Triggers keyword fallback.
	CodeEmbeddingUnavailable Code = "EMBEDDING_UNAVAILABLE"
	// CodePartialAnalysisFailure indicates one or more analysis fields could
	// not be parsed. Reported as a warning, parsed fields are persisted.
	CodePartialAnalysisFailure Code = "PARTIAL_ANALYSIS_FAILURE"
	// CodeInvalidArgument indicates malformed input. Surfaced to the caller.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeNotFound indicates the referenced record does not exist or does not
	// belong to the requesting owner.
	CodeNotFound Code = "NOT_FOUND"
	// CodeTimeout indicates a provider call exceeded its deadline. Treated
	// the same as CodeProviderUnavailable by callers.
	CodeTimeout Code = "TIMEOUT"
	// CodeContextCanceled indicates the operation was canceled.
	CodeContextCanceled Code = "CONTEXT_CANCELED"
	// CodeInternal indicates an unexpected storage or wiring failure.
	CodeInternal Code = "INTERNAL"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ProviderUnavailable creates a chat provider failure error.
func ProviderUnavailable(msg string, cause error) *Error {
	return &Error{Code: CodeProviderUnavailable, Message: msg, Cause: cause}
}

// EmbeddingUnavailable creates an embedding provider failure error.
func EmbeddingUnavailable(msg string, cause error) *Error {
	return &Error{Code: CodeEmbeddingUnavailable, Message: msg, Cause: cause}
}

// PartialAnalysisFailure creates a partial analysis warning error.
func PartialAnalysisFailure(msg string) *Error {
	return &Error{Code: CodePartialAnalysisFailure, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}

// InvalidArgumentf creates an invalid argument error with formatting.
func InvalidArgumentf(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// Timeout creates a timeout error.
func Timeout(msg string, cause error) *Error {
	return &Error{Code: CodeTimeout, Message: msg, Cause: cause}
}

// Internal creates an internal error.
func Internal(msg string, cause error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Cause: cause}
}

// Wrap wraps an existing error with a code and message.
func Wrap(cause error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Cause: cause}
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the code from err, returning fallback for plain errors.
func CodeOf(err error, fallback Code) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return fallback
}

// IsProviderFailure reports whether err is any provider-layer failure that
// callers must absorb rather than propagate.
func IsProviderFailure(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	switch e.Code {
	case CodeProviderUnavailable, CodeEmbeddingUnavailable, CodeTimeout:
		return true
	}
	return false
}

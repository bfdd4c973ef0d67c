package errs

import (
	"errors"
	"fmt"
)

// Code classifies a failure so callers can decide whether to retry
type Code string

const (
	// IO covers unreadable video sources and screen capture failures
	IO Code = "IO_ERROR"
	// ResolutionFailure means the locator could not produce a usable coordinate
	ResolutionFailure Code = "RESOLUTION_FAILURE"
	// LowConfidence means the locator answered below the acceptance threshold
	LowConfidence Code = "LOW_CONFIDENCE"
	// ActionKindUnknown means a step carried an action outside the enumeration
	ActionKindUnknown Code = "ACTION_KIND_UNKNOWN"
	// RetryExhausted means a step used up its attempt budget
	RetryExhausted Code = "RETRY_EXHAUSTED"
	// VerificationFailed means the post-action screen did not show the outcome
	VerificationFailed Code = "VERIFICATION_FAILED"
	// Decode means an inference response did not match its schema
	Decode Code = "DECODE_ERROR"
)

// Error is a failure tagged with a Code
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

// New creates an Error without a cause
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error around cause
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// CodeOf returns the code of the outermost Error in err's chain, or "" if none
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries code
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Retryable reports whether the executor may spend another attempt on err
func Retryable(err error) bool {
	switch CodeOf(err) {
	case ResolutionFailure, LowConfidence, VerificationFailed:
		return true
	default:
		return false
	}
}

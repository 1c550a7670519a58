package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a failure. The set is closed: every error that leaves a
// collection cycle maps to exactly one Kind.
type Kind string

// Error codes for categorizing errors
const (
	ErrAuth       Kind = "AUTH"
	ErrNetwork    Kind = "NETWORK"
	ErrTimeout    Kind = "TIMEOUT"
	ErrRemoteExit Kind = "REMOTE_EXIT"
	ErrParse      Kind = "PARSE"
	ErrIO         Kind = "IO"
	ErrConfig     Kind = "CONFIG"
	ErrUnknown    Kind = "UNKNOWN"
)

// String returns the operator-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case ErrAuth:
		return "AuthFailure"
	case ErrNetwork:
		return "NetworkUnreachable"
	case ErrTimeout:
		return "Timeout"
	case ErrRemoteExit:
		return "RemoteNonZeroExit"
	case ErrParse:
		return "ParseFailure"
	case ErrIO:
		return "IOFailure"
	case ErrConfig:
		return "ConfigInvalid"
	case "":
		return ""
	default:
		return "Unknown"
	}
}

// Error represents a structured error with code, message, suggestion, and optional cause.
// Rendered as:
//
//	✗ <What failed>
//
//	  <Why it failed - technical details>
//
//	  <How to fix it - actionable steps>
type Error struct {
	Code       Kind
	Message    string
	Suggestion string
	Cause      error
}

// New creates a new structured error with the given code, message, and suggestion.
func New(code Kind, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
	}
}

// Wrap wraps an existing error with a message, defaulting to ErrUnknown code.
func Wrap(err error, message string) *Error {
	return &Error{
		Code:    ErrUnknown,
		Message: message,
		Cause:   err,
	}
}

// WrapWithCode wraps an existing error with a specific code, message, and suggestion.
func WrapWithCode(err error, code Kind, message, suggestion string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		Suggestion: suggestion,
		Cause:      err,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("✗ %s\n", e.Message))

	if e.Cause != nil {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Cause.Error()))
	}

	if e.Suggestion != "" {
		b.WriteString(fmt.Sprintf("\n  %s\n", e.Suggestion))
	}

	return b.String()
}

// Unwrap returns the underlying cause for use with errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Summary returns the message and cause on a single line, for log lines and
// dashboard cells where the multi-line rendering does not fit.
func (e *Error) Summary() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + firstLine(e.Cause.Error())
}

// IsCode checks if an error is a structured Error with the given code.
func IsCode(err error, code Kind) bool {
	if err == nil {
		return false
	}
	var gsErr *Error
	if errors.As(err, &gsErr) {
		return gsErr.Code == code
	}
	return false
}

// KindOf returns the Kind of err. Context deadlines count as timeouts and
// anything unstructured is ErrUnknown. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var gsErr *Error
	if errors.As(err, &gsErr) {
		return gsErr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrUnknown
}

// SummaryOf renders err on one line regardless of its type.
func SummaryOf(err error) string {
	if err == nil {
		return ""
	}
	var gsErr *Error
	if errors.As(err, &gsErr) {
		return gsErr.Summary()
	}
	return firstLine(err.Error())
}

// RemoteExitError is the cause attached to ErrRemoteExit errors.
type RemoteExitError struct {
	ExitCode int
	Stderr   string
}

func (e *RemoteExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("remote command exited with code %d", e.ExitCode)
	}
	return fmt.Sprintf("remote command exited with code %d: %s", e.ExitCode, firstLine(stderr))
}

// NewRemoteExit builds an ErrRemoteExit error for a command that ran but failed.
func NewRemoteExit(host string, code int, stderr string) *Error {
	return WrapWithCode(&RemoteExitError{ExitCode: code, Stderr: stderr}, ErrRemoteExit,
		fmt.Sprintf("Metrics command failed on '%s'", host),
		"Check that nvidia-smi works for this user: ssh <host> nvidia-smi")
}

// Is reports whether err matches target, re-exported so callers can use a
// single errors import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is errors.As, re-exported for the same reason as Is.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func firstLine(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "✗"))
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return strings.TrimSpace(s[:idx])
	}
	return s
}

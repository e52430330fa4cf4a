package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("permission denied")
	ErrRemoteCommand = errors.New("remote command failed")
	ErrVerification  = errors.New("certificate verification failed")
	ErrIO            = errors.New("i/o failure")
	ErrParse         = errors.New("parse failure")
	ErrIllegalState  = errors.New("illegal state")

	ErrInvalidSettings    = errors.New("invalid settings format")
	ErrSessionExpired     = errors.New("session expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUploadTooLarge     = errors.New("upload exceeds size limit")
)

// InvalidInputError names the offending operator-supplied field.
type InvalidInputError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid request: %s '%s': %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}

// Invalid is a shorthand for building an InvalidInputError.
func Invalid(field, value, reason string) error {
	return &InvalidInputError{Field: field, Value: value, Reason: reason}
}

// RemoteCommandError is returned when the certificate tool exits non-zero.
// Command, Stdout and Stderr are diagnostics for already authorized callers.
type RemoteCommandError struct {
	Server   string
	Command  []string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *RemoteCommandError) Error() string {
	return fmt.Sprintf("command %q on %s failed; exit code=%d; stderr=\n%s",
		strings.Join(e.Command, " "), e.Server, e.ExitCode, e.Stderr)
}

func (e *RemoteCommandError) Unwrap() error {
	return ErrRemoteCommand
}

// Kind returns a stable code for the error's category.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrInvalidCredentials):
		return "unauthenticated"
	case errors.Is(err, ErrUploadTooLarge):
		return "too_large"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "permission_denied"
	case errors.Is(err, ErrVerification):
		return "verification_failed"
	case errors.Is(err, ErrRemoteCommand):
		return "remote_command_failed"
	case errors.Is(err, ErrIllegalState):
		return "illegal_state"
	case errors.Is(err, ErrParse):
		return "parse_failure"
	case errors.Is(err, ErrIO):
		return "io_failure"
	default:
		return "internal"
	}
}

// FromKind maps a code produced by Kind back to its sentinel. Unknown codes
// yield nil.
func FromKind(code string) error {
	switch code {
	case "unauthenticated":
		return ErrSessionExpired
	case "too_large":
		return ErrUploadTooLarge
	case "invalid_input":
		return ErrInvalidInput
	case "not_found":
		return ErrNotFound
	case "permission_denied":
		return ErrUnauthorized
	case "verification_failed":
		return ErrVerification
	case "remote_command_failed":
		return ErrRemoteCommand
	case "illegal_state":
		return ErrIllegalState
	case "parse_failure":
		return ErrParse
	case "io_failure":
		return ErrIO
	default:
		return nil
	}
}

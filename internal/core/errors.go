package core

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeNotConfigured Code = "NOT_CONFIGURED"
	CodeQuotaExceeded Code = "QUOTA_EXCEEDED"
	CodeProviderError Code = "PROVIDER_ERROR"
	CodeInternal      Code = "INTERNAL"
)

// Client-facing messages for the AI gateway failures.
const (
	MsgNotConfigured = "AI service is not configured."
	MsgQuotaExceeded = "You have exceeded your API quota. Please try again later."
	MsgProviderError = "An unexpected error occurred with the AI service."
)

// Error is the error contract shared by the service and API layers.
// Message is safe to show to clients; Err carries the cause.
type Error struct {
	Code    Code
	Op      string // operation name, ex: "ChatService.Submit"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	default:
		return e.Message
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so callers can compare against
// the sentinels below with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Err == nil && t.Op == "" && t.Code == e.Code
}

func E(code Code, op, msg string, err error) error {
	return &Error{Code: code, Op: op, Message: msg, Err: err}
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// PublicMessage returns the client-safe message of err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "Internal server error."
}

var (
	ErrNotConfigured = &Error{Code: CodeNotConfigured, Message: MsgNotConfigured}
	ErrQuotaExceeded = &Error{Code: CodeQuotaExceeded, Message: MsgQuotaExceeded}
	ErrProvider      = &Error{Code: CodeProviderError, Message: MsgProviderError}
	ErrNotFound      = &Error{Code: CodeNotFound, Message: "Not found."}
	ErrValidation    = &Error{Code: CodeValidation, Message: "Invalid input."}
)

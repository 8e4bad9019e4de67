package domain

import (
	"errors"
	"fmt"
)

// Code classifies an error for caller branching. Callers branch on Code,
// never on message text.
type Code string

const (
	// CodeValidation marks malformed or incomplete command input.
	// Recovered locally by surfacing field-level messages, never retried.
	CodeValidation Code = "VALIDATION_ERROR"
	// CodeNotFound marks a missing resource. Terminal for the command.
	CodeNotFound Code = "NOT_FOUND"
	// CodeUnauthorized marks a rejected or expired credential.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeForbidden marks an authenticated but disallowed operation.
	CodeForbidden Code = "FORBIDDEN"
	// CodeConflict marks a state conflict reported by the server.
	CodeConflict Code = "CONFLICT"
	// CodeNetwork marks a transport failure. Transient, retried with backoff.
	CodeNetwork Code = "NETWORK_ERROR"
	// CodeServer marks a 5xx server failure. Transient, retried with backoff.
	CodeServer Code = "SERVER_ERROR"
	// CodeChannel marks a push-channel transport failure. Triggers
	// reconnection rather than surfacing per message.
	CodeChannel Code = "CHANNEL_ERROR"
	// CodeUnknown marks anything that could not be classified.
	CodeUnknown Code = "UNKNOWN_ERROR"
)

// Error is the uniform error shape surfaced by the sync layer.
type Error struct {
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code and message.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// NewErrorf creates an Error with a formatted message.
func NewErrorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a field-level detail and returns the error.
func (e *Error) WithDetail(field, msg string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[field] = msg
	return e
}

// CodeOf extracts the Code from err, or CodeUnknown if err carries none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeUnknown
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeServer:
		return true
	}
	return false
}

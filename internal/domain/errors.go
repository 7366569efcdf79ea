package domain

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code
type Code string

const (
	// CodeInvalidSetup rejects session creation input
	CodeInvalidSetup Code = "INVALID_SETUP"
	// CodeSessionNotFound means the session id did not resolve
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"
	// CodeItemNotFound means the item index is out of range
	CodeItemNotFound Code = "ITEM_NOT_FOUND"
	// CodeNoAvailableParticipants means every participant is cooling down for the item
	CodeNoAvailableParticipants Code = "NO_AVAILABLE_PARTICIPANTS"
	// CodeUnauthorized means the caller does not own the session
	CodeUnauthorized Code = "UNAUTHORIZED"
)

// Sentinels for errors.Is checks; matching is by code only.
var (
	ErrInvalidSetup            = New(CodeInvalidSetup, "invalid session setup")
	ErrSessionNotFound         = New(CodeSessionNotFound, "session not found")
	ErrItemNotFound            = New(CodeItemNotFound, "item not found")
	ErrNoAvailableParticipants = New(CodeNoAvailableParticipants, "no participants available (all on cooldown)")
	ErrUnauthorized            = New(CodeUnauthorized, "session belongs to another owner")
)

// Error is a typed draw engine failure
type Error struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a domain error with the same code
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a domain error with a code and message
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithMetadata creates a domain error carrying structured context
func WithMetadata(code Code, message string, metadata map[string]string) *Error {
	return &Error{Code: code, Message: message, Metadata: metadata}
}

// CodeOf extracts the code of a domain error, or "" for any other error
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

package session

import "fmt"

// Code is a machine-readable session error code. Codes appear on the wire in
// the error field of a final response and in the session log.
type Code string

const (
	// CodeProtocolTimeout means nothing was sent within the acknowledgment budget.
	CodeProtocolTimeout Code = "protocol_timeout"
	// CodeHandlerFault means the handler returned an error or panicked.
	CodeHandlerFault Code = "handler_fault"
	// CodeTransportFault means a send failed twice.
	CodeTransportFault Code = "transport_fault"
	// CodeCancelled means the host or the caller cancelled the session.
	CodeCancelled Code = "cancelled"
)

// Error is a session-level failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates a session error without a cause.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a session error around cause.
func WrapError(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is.
var (
	ErrProtocolTimeout = NewError(CodeProtocolTimeout, "acknowledgment budget exceeded")
	ErrHandlerFault    = NewError(CodeHandlerFault, "handler failed")
	ErrTransportFault  = NewError(CodeTransportFault, "send failed")
	ErrCancelled       = NewError(CodeCancelled, "session cancelled")
)

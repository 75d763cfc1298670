package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies the type of error.
type ErrorCode int

const (
	ErrNone           ErrorCode = 0  // No error
	ErrSessionTimeout ErrorCode = 10 // Session not found and request is not a startup
	ErrInternal       ErrorCode = 20 // Unexpected failure while processing a request
	ErrStartupFailed  ErrorCode = 30 // Root model or adapter initialization failed
	ErrIllegalState   ErrorCode = 40 // Duplicate startup, or event for an uninitialized session
	ErrUnknownAdapter ErrorCode = 50 // Adapter identity not present in the registry
	ErrInvalidModel   ErrorCode = 60 // Attach requested for a nil or torn down model
	ErrBadRequest     ErrorCode = 70 // Request body could not be decoded
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrNone:
		return "none"
	case ErrSessionTimeout:
		return "session-timeout"
	case ErrInternal:
		return "internal"
	case ErrStartupFailed:
		return "startup-failed"
	case ErrIllegalState:
		return "illegal-state"
	case ErrUnknownAdapter:
		return "unknown-adapter"
	case ErrInvalidModel:
		return "invalid-model"
	case ErrBadRequest:
		return "bad-request"
	default:
		return "unknown"
	}
}

// IsRecoverable reports whether the client is expected to recover from the
// condition on its own (reload, retry) rather than it indicating a defect.
func IsRecoverable(code ErrorCode) bool {
	switch code {
	case ErrSessionTimeout, ErrUnknownAdapter, ErrBadRequest:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status an error response with this code is sent with.
func (ec ErrorCode) HTTPStatus() int {
	if ec == ErrNone || IsRecoverable(ec) {
		return http.StatusOK
	}
	return http.StatusInternalServerError
}

// DefaultMessage returns the client-facing message for a code. The client
// translates these by code, the text is a fallback.
func (ec ErrorCode) DefaultMessage() string {
	switch ec {
	case ErrSessionTimeout:
		return "The session has expired, please reload the page."
	case ErrStartupFailed:
		return "Initialization failed"
	case ErrIllegalState:
		return "Illegal session state"
	case ErrUnknownAdapter:
		return "Unknown adapter"
	case ErrInvalidModel:
		return "Invalid model"
	case ErrBadRequest:
		return "Malformed request"
	default:
		return "UI processing error"
	}
}

// Error is a classified failure. Every failure that reaches the dispatcher is
// converted to an Error before it is written to the client.
type Error struct {
	Code    ErrorCode
	Op      string // Operation that failed, e.g. "attach" or "start"
	Message string // Human-readable detail for logs
	Err     error  // Underlying error, if any
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Op, msg)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code. This lets
// callers test against the sentinel values below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Message == "" && t.Err == nil && t.Code == e.Code
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *Error {
	return &Error{Code: code, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. A nil err returns nil.
func Wrap(code ErrorCode, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Err: err}
}

// Sentinels for errors.Is comparisons.
var (
	ErrSessionTimeoutKind = &Error{Code: ErrSessionTimeout}
	ErrInternalKind       = &Error{Code: ErrInternal}
	ErrStartupFailedKind  = &Error{Code: ErrStartupFailed}
	ErrIllegalStateKind   = &Error{Code: ErrIllegalState}
	ErrUnknownAdapterKind = &Error{Code: ErrUnknownAdapter}
	ErrInvalidModelKind   = &Error{Code: ErrInvalidModel}
	ErrBadRequestKind     = &Error{Code: ErrBadRequest}
)

// CodeOf classifies err. Errors that carry no *Error in their chain are
// internal failures.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrNone
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrInternal
}

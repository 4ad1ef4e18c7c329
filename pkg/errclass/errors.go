package errclass

import (
	"errors"
	"fmt"
	"net/http"
)

// Error is a stable, machine-readable error class.
type Error struct {
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Code
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithMessage returns a new Error with the same Code but a specific message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{Code: e.Code, Message: msg, Cause: e.Cause}
}

// WithMessagef returns a new Error with a formatted message.
func (e *Error) WithMessagef(format string, args ...any) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Cause: e.Cause}
}

// WithCause returns a new Error with the same Code and Message wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	return &Error{Code: e.Code, Message: e.Message, Cause: cause}
}

// Stable error classes.
var (
	ErrNameInvalid          = &Error{Code: "E_NAME_INVALID"}
	ErrUnauthorized         = &Error{Code: "E_UNAUTHORIZED"}
	ErrConversationNotFound = &Error{Code: "E_CONVERSATION_NOT_FOUND"}
	ErrLockConflict         = &Error{Code: "E_LOCK_CONFLICT"}
	ErrLockNotHeld          = &Error{Code: "E_LOCK_NOT_HELD"}
	ErrFencingMismatch      = &Error{Code: "E_FENCING_MISMATCH"}
	ErrStoreUnavailable     = &Error{Code: "E_STORE_UNAVAILABLE"}
	ErrConfigInvalid        = &Error{Code: "E_CONFIG_INVALID"}
	ErrAuditChainBroken     = &Error{Code: "E_AUDIT_CHAIN_BROKEN"}
)

// Code returns the class code of err, or "" when err carries no class.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HTTPStatus maps an error class to the status code the HTTP surface returns for it.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNameInvalid), errors.Is(err, ErrConfigInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrConversationNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrLockConflict), errors.Is(err, ErrLockNotHeld), errors.Is(err, ErrFencingMismatch):
		return http.StatusConflict
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromCode returns the class registered for code, or nil.
func FromCode(code string) *Error {
	for _, e := range all {
		if e.Code == code {
			return e
		}
	}
	return nil
}

var all = []*Error{
	ErrNameInvalid,
	ErrUnauthorized,
	ErrConversationNotFound,
	ErrLockConflict,
	ErrLockNotHeld,
	ErrFencingMismatch,
	ErrStoreUnavailable,
	ErrConfigInvalid,
	ErrAuditChainBroken,
}

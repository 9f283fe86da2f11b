package store

import (
	"fmt"
	"net/http"
)

// Error is a store error with an HTTP status code.
type Error struct {
	Code    int    // HTTP status code
	Message string // User-facing message
	Err     error  // Underlying error (optional)
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPCode returns the HTTP status code associated with this error.
func (e *Error) HTTPCode() int { return e.Code }

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && e.Code == t.Code && e.Message == t.Message
}

// WithMessage returns a new error with a custom message.
func (e *Error) WithMessage(msg string) *Error {
	return &Error{
		Code:    e.Code,
		Message: msg,
		Err:     e.Err,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Sentinel errors.
var (
	ErrNotFound = &Error{
		Code:    http.StatusNotFound,
		Message: "resource not found",
	}

	ErrAlreadyExists = &Error{
		Code:    http.StatusConflict,
		Message: "resource already exists",
	}

	// ErrNoVersionFound signals a data-integrity bug: every book gets event
	// version 1 at creation, so a book without any version row means the
	// ledger has been corrupted. Surfaced as an internal error, never retried.
	ErrNoVersionFound = &Error{
		Code:    http.StatusInternalServerError,
		Message: "no event version found for book",
	}

	// ErrVersionConflict means two writers raced on the same book's next
	// version number. The losing caller should retry the whole operation
	// from a fresh read.
	ErrVersionConflict = &Error{
		Code:    http.StatusConflict,
		Message: "concurrent event version write",
	}

	// ErrConstraintViolation covers writes that reference rows which do not
	// exist, such as appending an event to a version that was never created.
	ErrConstraintViolation = &Error{
		Code:    http.StatusInternalServerError,
		Message: "constraint violation",
	}
)

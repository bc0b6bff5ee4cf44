// Package apperr defines the error taxonomy shared by the worker's
// boundaries. Internal causes are wrapped and preserved for logs; only the
// stable public message ever reaches a client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for boundary mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindNotFound
	KindConflict
	KindThrottled
	KindTransient
)

// String returns the taxonomy name for logging.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindThrottled:
		return "throttled"
	case KindTransient:
		return "transient"
	default:
		return "internal"
	}
}

// Error carries a kind, a client-safe message and an optional wrapped cause.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.kind }

// Message returns the client-safe message without the wrapped cause.
func (e *Error) Message() string { return e.msg }

// New creates an error with an explicit kind.
func New(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// Wrap creates an error with an explicit kind around a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{kind: kind, msg: msg, err: err}
}

// Validationf builds a validation error; the message is shown to clients.
func Validationf(format string, args ...any) *Error {
	return &Error{kind: KindValidation, msg: fmt.Sprintf(format, args...)}
}

// Auth builds an authentication error.
func Auth(msg string) *Error {
	return &Error{kind: KindAuth, msg: msg}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{kind: KindNotFound, msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflicting-state error.
func Conflictf(format string, args ...any) *Error {
	return &Error{kind: KindConflict, msg: fmt.Sprintf(format, args...)}
}

// Throttled builds a rate-limit error.
func Throttled(msg string) *Error {
	return &Error{kind: KindThrottled, msg: msg}
}

// Transient wraps a retryable failure (storage busy, provider network).
func Transient(msg string, err error) *Error {
	return &Error{kind: KindTransient, msg: msg, err: err}
}

// Internal wraps an unexpected failure. The public message is fixed so raw
// database or provider text never leaks to a client.
func Internal(err error) *Error {
	return &Error{kind: KindInternal, msg: "internal error", err: err}
}

// KindOf extracts the kind from any error chain; plain errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

// PublicMessage returns the message safe to send to a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.msg
	}
	return "internal error"
}

// HTTPStatus maps an error chain to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so the HTTP layer can pick a status code.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindNotReady          Kind = "not_ready"
	KindToolMissing       Kind = "tool_missing"
	KindUnsupportedSource Kind = "unsupported_source"
	KindUnavailable       Kind = "unavailable"
	KindTimeout           Kind = "timeout"
	KindProcessFailure    Kind = "process_failure"
	KindInternal          Kind = "internal"
)

// Error is a classified error with a message safe to show to clients.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error  { return New(KindValidation, message) }
func NotFound(message string) *Error    { return New(KindNotFound, message) }
func NotReady(message string) *Error    { return New(KindNotReady, message) }
func Timeout(message string) *Error     { return New(KindTimeout, message) }
func Unavailable(message string) *Error { return New(KindUnavailable, message) }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the client-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps err to the response status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindNotReady, KindUnsupportedSource:
		return http.StatusBadRequest
	case KindNotFound, KindUnavailable:
		return http.StatusNotFound
	case KindTimeout:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

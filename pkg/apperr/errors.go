// Package apperr defines the error kinds shared by the document workflow,
// access and detection components, and their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an Error.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindConflict         Kind = "conflict"
	KindAuthorization    Kind = "authorization"
	KindInvalidState     Kind = "invalid_state"
	KindInvalidStepState Kind = "invalid_step_state"
	KindExternalService  Kind = "external_service"
	KindValidation       Kind = "validation"
)

// Sentinels usable with errors.Is.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrAuthorization    = &Error{Kind: KindAuthorization}
	ErrInvalidState     = &Error{Kind: KindInvalidState}
	ErrInvalidStepState = &Error{Kind: KindInvalidStepState}
	ErrExternalService  = &Error{Kind: KindExternalService}
	ErrValidation       = &Error{Kind: KindValidation}
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Message string
	// Service names the failing collaborator for KindExternalService
	// (storage, llm, mail).
	Service string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Service == "" || t.Service == e.Service)
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) error { return newf(KindNotFound, format, args...) }

// Conflict reports a lost optimistic race or an operation illegal in the current state.
func Conflict(format string, args ...any) error { return newf(KindConflict, format, args...) }

// Unauthorized reports an actor lacking the required role.
func Unauthorized(format string, args ...any) error {
	return newf(KindAuthorization, format, args...)
}

// InvalidState reports an operation not legal in the entity's lifecycle state.
func InvalidState(format string, args ...any) error {
	return newf(KindInvalidState, format, args...)
}

// InvalidStepState reports an action on an approval step that is not active.
func InvalidStepState(format string, args ...any) error {
	return newf(KindInvalidStepState, format, args...)
}

// Validation reports malformed input.
func Validation(format string, args ...any) error { return newf(KindValidation, format, args...) }

// External wraps a collaborator failure.
func External(service string, err error, format string, args ...any) error {
	e := newf(KindExternalService, format, args...)
	e.Service = service
	e.Err = err
	return e
}

// Storage wraps a file storage failure.
func Storage(err error, format string, args ...any) error {
	return External("storage", err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// HTTPStatus maps err to the status code a handler should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidState, KindInvalidStepState:
		return http.StatusConflict
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to a caller. Unclassified
// errors collapse to a generic message; the detail belongs in server logs.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Message != "" {
			return e.Message
		}
		return string(e.Kind)
	}
	return "internal error"
}

// Package apperr defines the error taxonomy shared by the scheduling engine
// and its transports.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers and transports.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindQualification Kind = "qualification"
	KindConflict      Kind = "conflict"
	KindInvalidState  Kind = "invalid_state"
	KindInternal      Kind = "internal"
)

// Error is a classified engine error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrorKind reports the classification of e.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Kinded is implemented by errors that carry their own classification, such
// as reservations.ConflictError.
type Kinded interface {
	ErrorKind() Kind
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validation reports missing or malformed input.
func Validation(op, format string, args ...any) *Error {
	return newf(KindValidation, op, format, args...)
}

// NotFound reports an unknown identifier.
func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

// Qualification reports a medic/exam specialty mismatch.
func Qualification(op, format string, args ...any) *Error {
	return newf(KindQualification, op, format, args...)
}

// Conflict reports a booking overlap without a specific colliding reservation.
func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

// InvalidState reports an operation not allowed in the current status.
func InvalidState(op, format string, args ...any) *Error {
	return newf(KindInvalidState, op, format, args...)
}

// Internal wraps a storage or unexpected failure.
func Internal(op string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: "internal error", Err: err}
}

// KindOf returns the classification of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps err to the response status used by every transport.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case "":
		return http.StatusOK
	case KindValidation, KindQualification:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the text safe to show to a caller. Internal errors
// never leak their cause.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if KindOf(err) == KindInternal {
		return "internal error"
	}
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return err.Error()
}

// Detailed is implemented by errors that add fields to the error envelope.
type Detailed interface {
	ErrorDetails() map[string]any
}

// Envelope builds the {"error": ...} response body shared by the HTTP API and
// the scheduling actions.
func Envelope(err error) map[string]any {
	body := map[string]any{"error": PublicMessage(err)}
	var d Detailed
	if errors.As(err, &d) {
		for k, v := range d.ErrorDetails() {
			body[k] = v
		}
	}
	return body
}

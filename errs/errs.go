// Package errs classifies failures so callers can decide whether to
// retry, report to the user, or abort a publish run.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the broad category of an error.
type Kind string

const (
	KindValidation Kind = "validation" // caller input or site structure; nothing persisted
	KindIntegrity  Kind = "integrity"  // stored data references something that does not exist
	KindConflict   Kind = "conflict"   // another publish run holds the generator
	KindNotFound   Kind = "not_found"
	KindTransient  Kind = "transient" // store throughput limiting; retried internally
	KindFatal      Kind = "fatal"
	KindUnknown    Kind = "unknown"
)

// Error is a classified error with the operation that produced it.
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

var (
	// ErrAlreadyRunning is returned when a publish run is requested while
	// the generator record is in the running state.
	ErrAlreadyRunning = &Error{Kind: KindConflict, Op: "generator.start", Message: "previous publish not finished"}

	// ErrStaleCompletion is returned when finish is called on a generator
	// that is no longer running.
	ErrStaleCompletion = &Error{Kind: KindConflict, Op: "generator.finish", Message: "publish run is not active"}
)

// Validation builds a validation error.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Integrity builds a data-integrity error. These are terminal and never retried.
func Integrity(op, format string, args ...any) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound builds a not-found error.
func NotFound(op, format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Fatal wraps err as a fatal pipeline error.
func Fatal(op string, err error) *Error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to the status code the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindIntegrity:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Package apperr carries the error taxonomy shared by the lifecycle
// services, the simulation jobs and the HTTP layer. Errors are raised at the
// point of detection and propagated unchanged; only the HTTP layer maps them
// to transport statuses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the request-layer collaborator.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindForbidden
	KindBadRequest
	KindConflict
	KindConfigIntegrity
)

// Error is a kinded application error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "unknown error"
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing referenced entity.
func NotFound(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// Forbidden reports an ownership-chain violation.
func Forbidden(format string, args ...any) error {
	return &Error{Kind: KindForbidden, Msg: fmt.Sprintf(format, args...)}
}

// BadRequest reports malformed input or a capacity-invariant violation.
func BadRequest(format string, args ...any) error {
	return &Error{Kind: KindBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// Conflict reports a deletion blocked by existing history.
func Conflict(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// ConfigIntegrity reports a broken configuration precondition, fatal to the
// current job run but not to the process.
func ConfigIntegrity(format string, args ...any) error {
	return &Error{Kind: KindConfigIntegrity, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error, keeping its message.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind of err, or KindUnknown for untagged errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

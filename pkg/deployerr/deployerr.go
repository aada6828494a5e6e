// Package deployerr defines the closed set of error kinds the deployment
// control plane raises and consumes (see spec §7). Callers compare kinds with
// OfKind (or errors.Is against an *Error of the wanted Kind), never against
// formatted messages.
package deployerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error classes raised by stores and backends.
type Kind string

const (
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindNotFound          Kind = "NOT_FOUND"
	KindTransientBackend  Kind = "TRANSIENT_BACKEND"
	KindIrrecoverablePod  Kind = "IRRECOVERABLE_POD"
	KindTimeout           Kind = "TIMEOUT"
	KindInvalidConfig     Kind = "INVALID_CONFIG"
	KindDuplicate         Kind = "DUPLICATE"
	KindBadRequest        Kind = "BAD_REQUEST"
)

// Error wraps an underlying cause with one of the closed Kind values.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, target) match when target is (or wraps) an *Error
// with the same Kind, whatever its message or cause.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// OfKind reports whether err (or any error it wraps) carries the given Kind.
func OfKind(err error, kind Kind) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}

// Package moxxyerr defines the abstract error kinds shared across moxxy's
// components (spec §7). Kinds are sentinel values composed with errors.Is/As,
// never type names, so callers branch on behavior rather than on package layout.
package moxxyerr

import (
	"errors"
	"fmt"
)

// Kind is one of the abstract error categories from the error-handling design.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindConflict   Kind = "conflict"
	KindDependency Kind = "dependency"
	KindUpstream   Kind = "upstream"
	KindTimeout    Kind = "timeout"
	KindIntegrity  Kind = "integrity"
	KindInvariant  Kind = "invariant"
)

// Sentinel values for errors.Is comparisons. Error carries the kind plus a
// human message and an optional wrapped cause.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrDependency   = &Error{Kind: KindDependency}
	ErrUpstream     = &Error{Kind: KindUpstream}
	ErrTimeout      = &Error{Kind: KindTimeout}
	ErrIntegrity    = &Error{Kind: KindIntegrity}
	ErrInvariant    = &Error{Kind: KindInvariant}
)

// Error is a structured error carrying an abstract kind, a message meant for
// JSON surfacing, and an optional underlying cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, moxxyerr.ErrNotFound) work by comparing kinds only,
// not messages or wrapped causes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapf(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func Validationf(format string, args ...any) error { return newf(KindValidation, format, args...) }
func NotFoundf(format string, args ...any) error    { return newf(KindNotFound, format, args...) }
func Unauthorizedf(format string, args ...any) error {
	return newf(KindUnauthorized, format, args...)
}
func Conflictf(format string, args ...any) error   { return newf(KindConflict, format, args...) }
func Dependencyf(format string, args ...any) error { return newf(KindDependency, format, args...) }
func Upstreamf(format string, args ...any) error   { return newf(KindUpstream, format, args...) }
func Timeoutf(format string, args ...any) error    { return newf(KindTimeout, format, args...) }
func Integrityf(format string, args ...any) error  { return newf(KindIntegrity, format, args...) }
func Invariantf(format string, args ...any) error  { return newf(KindInvariant, format, args...) }

func WrapUpstream(err error, format string, args ...any) error {
	return wrapf(KindUpstream, err, format, args...)
}

func WrapDependency(err error, format string, args ...any) error {
	return wrapf(KindDependency, err, format, args...)
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps a Kind to the conventional HTTP status code used by
// internal/httpapi when surfacing {success:false, error:"..."} bodies.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return 500
	}
	switch kind {
	case KindValidation:
		return 400
	case KindNotFound:
		return 404
	case KindUnauthorized:
		return 401
	case KindConflict:
		return 409
	case KindDependency:
		return 424
	case KindUpstream, KindTimeout:
		return 502
	case KindIntegrity, KindInvariant:
		return 500
	default:
		return 500
	}
}

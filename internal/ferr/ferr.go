// Package ferr defines the error taxonomy shared by every core component.
//
// Components never return a bare error for an expected failure mode; they
// wrap it in one of the Kind values below so HTTP handlers can map it to a
// status code without string-matching.
package ferr

import (
	"errors"
	"fmt"
)

// Kind is one tag of the shared error taxonomy.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindUnsupported    Kind = "unsupported"
	KindIO             Kind = "io"
	KindRuntimeBackend Kind = "runtime_backend"
	KindConfigInvalid  Kind = "config_invalid"
	KindCancelled      Kind = "cancelled"
	KindInternal       Kind = "internal"
)

// Error is the concrete taxonomy error. It wraps an optional cause so
// errors.Is/errors.As keep working through the taxonomy layer.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// NotFound builds a NotFound error naming the missing entity kind and id.
func NotFound(entityKind, id string) *Error {
	return new(KindNotFound, nil, "%s %q not found", entityKind, id)
}

// Conflictf builds a Conflict error.
func Conflictf(format string, args ...any) *Error {
	return new(KindConflict, nil, format, args...)
}

// Unsupportedf builds an Unsupported error.
func Unsupportedf(format string, args ...any) *Error {
	return new(KindUnsupported, nil, format, args...)
}

// IOf wraps a filesystem/socket failure.
func IOf(cause error, format string, args ...any) *Error {
	return new(KindIO, cause, format, args...)
}

// RuntimeBackendf wraps a failure bubbled up from the deployment adapter.
func RuntimeBackendf(cause error, format string, args ...any) *Error {
	return new(KindRuntimeBackend, cause, format, args...)
}

// ConfigInvalidf builds a ConfigInvalid error for rejected manifests/payloads.
func ConfigInvalidf(format string, args ...any) *Error {
	return new(KindConfigInvalid, nil, format, args...)
}

// Cancelled builds the error returned when the scheduler shut down while a
// quest was in flight.
func Cancelled(desc string) *Error {
	return new(KindCancelled, nil, "quest %q cancelled by shutdown", desc)
}

// Internalf wraps a caught panic or logic bug.
func Internalf(cause error, format string, args ...any) *Error {
	return new(KindInternal, cause, format, args...)
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the taxonomy error of the given kind
// anywhere in its chain.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

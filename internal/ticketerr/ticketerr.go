// Package ticketerr implements the tagged error taxonomy of §7: every
// failure surfaced by the core carries one of a fixed set of Kinds so
// callers can branch on category instead of parsing messages.
package ticketerr

import (
	"errors"
	"fmt"
)

// Kind tags why an operation failed.
type Kind string

const (
	BadArgument        Kind = "bad_argument"
	NotFound           Kind = "not_found"
	PermissionDenied   Kind = "permission_denied"
	ValidationFailed   Kind = "validation_failed"
	ResolutionFailed   Kind = "resolution_failed"
	InvariantViolation Kind = "invariant_violation"
	UpstreamFailure    Kind = "upstream_failure"
)

// Error is a tagged error carrying a Kind, a human-readable message,
// and an optional wrapped cause.
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

// Is makes two *Error values with equal Kind interchangeable for
// errors.Is. Kind is not itself an error; to test an error's Kind, use
// KindOf or the package-level Is below.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// New builds a tagged error with no wrapped cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a tagged error around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is a tagged error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Message renders err as the (false, message) pair shape used by the
// §6.1 operation table for callers that want a plain string instead of
// the tagged type.
func Message(err error) (bool, string) {
	if err == nil {
		return true, ""
	}
	return false, err.Error()
}

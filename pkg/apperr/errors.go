// Package apperr defines the error taxonomy shared by all runtime
// components. Every failure surfaced to a caller carries a Kind, a
// masked message, and a retryable flag.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for disposition decisions.
type Kind string

// Error kinds.
const (
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindIllegalState  Kind = "illegal_state"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindTimeout       Kind = "timeout"
	KindTransient     Kind = "transient"
	KindFatal         Kind = "fatal"
)

// Error is the structured error surfaced by runtime operations.
type Error struct {
	Kind       Kind
	Message    string
	RetryAfter time.Duration // hint for quota errors; zero otherwise
	DocRef     string        // documentation reference, optional
	wrapped    error
}

func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains.
func (e *Error) Unwrap() error { return e.wrapped }

// Retryable reports whether the caller may retry the operation.
// Timeouts are retryable only when the operation is idempotent; the
// caller owns that judgement, so Timeout reports true here.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransient, KindTimeout, KindQuotaExceeded:
		return true
	default:
		return false
	}
}

// New creates an Error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), wrapped: cause}
}

// WithRetryAfter attaches a retry hint (used by quota rejections).
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// WithDocRef attaches a documentation reference.
func (e *Error) WithDocRef(ref string) *Error {
	e.DocRef = ref
	return e
}

// KindOf extracts the Kind from err, walking the wrap chain.
// Unclassified errors report KindTransient: the safe default for
// infrastructure failures is "retry under policy, then surface".
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindTransient
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err may be retried under a retry policy.
func IsRetryable(err error) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Retryable()
	}
	return true
}

// Package resilience wraps every outbound call to an external AI
// provider in a fixed stack: Retry(CircuitBreaker(Timeout(RateLimiter(
// call)))). Each layer is independently testable and the composition
// order is enforced by Envelope, not left to call sites.
package resilience

import "errors"

// Kind classifies an error for retry and circuit-breaker purposes. It
// is a string enum rather than a family of error types, since every
// caller only ever needs to ask "what kind is this" and "is it
// retryable," never type-switch on it.
type Kind string

const (
	KindRateLimited       Kind = "RateLimited"
	KindOverloaded        Kind = "Overloaded"
	KindUpstreamTransient Kind = "UpstreamTransient"
	KindTimeout           Kind = "Timeout"
	KindCircuitOpen       Kind = "CircuitOpen"
	KindAuth              Kind = "Auth"
	KindBadRequest        Kind = "BadRequest"
	KindNotFound          Kind = "NotFound"
)

// Retryable reports whether an error of this kind should re-enter the
// Retry loop.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindOverloaded, KindUpstreamTransient, KindTimeout, KindCircuitOpen:
		return true
	default:
		return false
	}
}

// Error wraps an upstream failure with the Kind the envelope's layers
// use to decide retry/breaker behavior.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *Error; otherwise returns "" and false.
func KindOf(err error) (Kind, bool) {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}

// ErrCircuitOpen is returned by CircuitBreaker when it is tripped and
// short-circuiting calls.
var ErrCircuitOpen = &Error{Kind: KindCircuitOpen, Message: "circuit breaker is open"}

// ErrTimeout is returned by Timeout when an attempt exceeds its deadline.
var ErrTimeout = &Error{Kind: KindTimeout, Message: "call timed out"}

package resilience

import (
	"context"
	"sync"
	"time"
)

// BreakerState is one node of the circuit breaker state machine.
type BreakerState string

const (
	BreakerClosed   BreakerState = "Closed"
	BreakerOpen     BreakerState = "Open"
	BreakerHalfOpen BreakerState = "HalfOpen"
)

// CircuitBreaker guards one logical upstream. Transitions are made
// under a plain mutex: the critical sections here are a handful of
// field reads/writes, not worth a lock-free CAS scheme.
type CircuitBreaker struct {
	threshold       int
	recoveryTimeout time.Duration

	mu               sync.Mutex
	state            BreakerState
	failures         int
	trippedAt        time.Time
	halfOpenInFlight bool
}

// NewCircuitBreaker builds a breaker that trips after threshold
// consecutive retryable failures and stays Open for recoveryTimeout.
func NewCircuitBreaker(threshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		threshold:       threshold,
		recoveryTimeout: recoveryTimeout,
		state:           BreakerClosed,
	}
}

// State returns the breaker's current state, resolving an Open breaker
// past its recovery window to HalfOpen as a side effect — matching the
// spec's "next call after the window transitions to HalfOpen" rule.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *CircuitBreaker) stateLocked() BreakerState {
	if b.state == BreakerOpen && time.Since(b.trippedAt) >= b.recoveryTimeout {
		b.state = BreakerHalfOpen
		b.halfOpenInFlight = false
	}
	return b.state
}

// Allow reports whether a call may proceed, reserving the single probe
// slot if the breaker is HalfOpen.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default: // Open
		return false
	}
}

// RecordSuccess resets the breaker to Closed with a zeroed counter.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.halfOpenInFlight = false
}

// RecordFailure increments the failure counter (or, from HalfOpen,
// immediately reopens with a fresh tripped_at) and trips the breaker
// once the threshold is reached.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		b.state = BreakerOpen
		b.trippedAt = time.Now()
		b.halfOpenInFlight = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = BreakerOpen
		b.trippedAt = time.Now()
	}
}

// WithBreaker gates call behind b, recording the outcome and
// translating a rejected call into ErrCircuitOpen.
func WithBreaker(ctx context.Context, b *CircuitBreaker, call Call) (any, error) {
	if !b.Allow() {
		return nil, ErrCircuitOpen
	}

	result, err := call(ctx)
	if err != nil {
		if kind, ok := KindOf(err); ok && kind.Retryable() {
			b.RecordFailure()
		}
		return nil, err
	}

	b.RecordSuccess()
	return result, nil
}

package resilience

import (
	"context"
	"time"
)

// Envelope composes the full resilience stack in the fixed order
// Retry(CircuitBreaker(Timeout(RateLimiter(call)))). The breaker must
// see a timed-out attempt as a failure, and tokens are reserved via the
// limiter even on an attempt that later times out — both require this
// exact nesting, not just these four pieces present somewhere.
type Envelope struct {
	Limiter *RateLimiter
	Timeout time.Duration
	Breaker *CircuitBreaker
	Retry   RetryPolicy
}

// Execute runs call through every layer. estimatedTokens is passed to
// the rate limiter's reservation; callers that learn the actual token
// cost afterward should call Limiter.Report separately.
func (e *Envelope) Execute(ctx context.Context, estimatedTokens int, call Call) (any, error) {
	wrapped := func(ctx context.Context) (any, error) {
		return WithTimeout(ctx, e.Timeout, func(ctx context.Context) (any, error) {
			if _, err := e.Limiter.Acquire(ctx, estimatedTokens); err != nil {
				return nil, err
			}
			return call(ctx)
		})
	}

	breakered := func(ctx context.Context) (any, error) {
		return WithBreaker(ctx, e.Breaker, wrapped)
	}

	return WithRetry(ctx, e.Retry, breakered)
}

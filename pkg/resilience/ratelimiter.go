package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a requests-per-minute and a tokens-per-minute
// budget jointly: Acquire blocks until both buckets admit the call.
// Fairness across waiters is rate.Limiter's native FIFO reservation
// order.
type RateLimiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter

	mu         sync.Mutex
	adjustment int64 // carried delta between estimated and actual token cost
}

// NewRateLimiter builds a RateLimiter with the given per-minute budgets.
// Burst is set equal to the per-minute rate for both buckets, so a
// quiet limiter can admit a minute's worth of traffic in one burst
// before throttling kicks in.
func NewRateLimiter(requestsPerMinute, tokensPerMinute int) *RateLimiter {
	return &RateLimiter{
		requests: rate.NewLimiter(perMinute(requestsPerMinute), requestsPerMinute),
		tokens:   rate.NewLimiter(perMinute(tokensPerMinute), tokensPerMinute),
	}
}

func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / 60.0)
}

// Acquire blocks until the call is admitted under both budgets, using
// estimatedTokens as the token cost to reserve up front. It returns the
// duration the caller was blocked.
func (r *RateLimiter) Acquire(ctx context.Context, estimatedTokens int) (time.Duration, error) {
	start := time.Now()

	r.mu.Lock()
	cost := int(int64(estimatedTokens) + r.adjustment)
	r.adjustment = 0
	r.mu.Unlock()
	if cost < 1 {
		cost = 1
	}

	if err := r.requests.Wait(ctx); err != nil {
		return time.Since(start), err
	}
	if err := r.tokens.WaitN(ctx, cost); err != nil {
		return time.Since(start), err
	}

	return time.Since(start), nil
}

// Report reconciles the actual token cost of a completed call against
// the estimate used at Acquire. Tokens already consumed from the
// bucket cannot be un-consumed, so the difference is carried forward
// and applied to the next Acquire's reservation instead of adjusting
// this call's reservation retroactively.
func (r *RateLimiter) Report(estimatedTokens, actualTokens int) {
	delta := int64(actualTokens - estimatedTokens)
	r.mu.Lock()
	r.adjustment += delta
	r.mu.Unlock()
}

package resilience

import (
	"context"
	"errors"
	"time"
)

// Call is the shape every envelope layer wraps: a single attempt that
// may fail.
type Call func(ctx context.Context) (any, error)

// WithTimeout bounds a single attempt of call to d, translating a
// context deadline exceeded into a retryable *Error.
func WithTimeout(ctx context.Context, d time.Duration, call Call) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	result, err := call(attemptCtx)
	if err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return nil, &Error{Kind: KindTimeout, Message: "call exceeded deadline", Cause: err}
	}
	return result, err
}

package resilience

import (
	"context"
	"errors"
	"time"
)

// WithTimeout runs fn under a deadline. Deadline expiry is reported as a
// *TimeoutError carrying the operation name; the underlying HTTP request
// is cancelled through the derived context.
func WithTimeout[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	result, err := fn(callCtx)
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		var zero T
		return zero, &TimeoutError{Op: op}
	}
	return result, err
}

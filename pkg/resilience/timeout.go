package resilience

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
)

// Call runs fn under a deadline of timeout and returns its value. A zero
// timeout runs fn on ctx directly. When the deadline fires first the error
// matches both apperrors.ErrTimeout and context.DeadlineExceeded; fn keeps
// running in the background and its late result is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(tctx)
		done <- result{v, err}
	}()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s: cancelled: %w", name, err)
		}
		return zero, fmt.Errorf("%s: %w after %v: %w", name, apperrors.ErrTimeout, timeout, context.DeadlineExceeded)
	}
}

// WithTimeout is Call for functions without a result.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, timeout, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

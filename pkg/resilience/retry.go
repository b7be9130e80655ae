package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls backoff. Retryable, when set, decides whether an
// error is worth another attempt; permanent errors are returned at once.
type RetryConfig struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	JitterFraction float64
	Retryable      func(error) bool
}

// withDefaults fills zero fields.
func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// Delay is the pause after the given failed attempt (1-based), with jitter,
// capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	c = c.withDefaults()
	backoff := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	backoff += backoff * c.JitterFraction * (2*rand.Float64() - 1)
	switch {
	case backoff > float64(c.MaxDelay):
		return c.MaxDelay
	case backoff <= 0:
		return c.InitialDelay
	}
	return time.Duration(backoff)
}

// Do calls fn until it succeeds, a permanent error occurs, the attempts run
// out, or ctx is done, and returns the value of the successful call.
func Do[T any](ctx context.Context, name string, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	var zero T
	for attempt := 1; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return v, nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return zero, err
		}
		if attempt >= cfg.MaxAttempts {
			return zero, fmt.Errorf("%s failed after %d attempts: %w", name, attempt, err)
		}
		delay := cfg.Delay(attempt)
		logger.Warn("attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"next_delay", delay,
			"error", err,
		)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%s: retry aborted: %w", name, ctx.Err())
		}
	}
}

// Retry is Do for functions without a result.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	_, err := Do(ctx, name, cfg, func(context.Context) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

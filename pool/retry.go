package pool

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Allocator produces one resource per invocation.
type Allocator[R any] func(ctx context.Context) (R, error)

// WithRetry decorates an Allocator with exponential backoff retries, driven
// by a manual NextBackOff/Reset loop rather than backoff.Retry, so a
// context cancellation can abort mid-wait without an extra goroutine.
func WithRetry[R any](alloc Allocator[R], maxAttempts int, b *backoff.ExponentialBackOff) Allocator[R] {
	if maxAttempts <= 1 {
		return alloc
	}
	return func(ctx context.Context) (R, error) {
		b.Reset()
		var lastErr error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			r, err := alloc(ctx)
			if err == nil {
				return r, nil
			}
			lastErr = err

			if attempt == maxAttempts {
				break
			}
			wait := b.NextBackOff()
			if wait == backoff.Stop {
				break
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				var zero R
				return zero, ctx.Err()
			case <-timer.C:
			}
		}
		var zero R
		return zero, lastErr
	}
}

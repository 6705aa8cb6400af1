package database

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// RetryOptions bounds Retry.
type RetryOptions struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryOptions mirrors the store defaults.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{MaxRetries: 3, BaseDelay: 50 * time.Millisecond}
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the retry
// budget is spent. Delays grow exponentially with jitter.
func Retry(ctx context.Context, opts RetryOptions, fn func(ctx context.Context) error) error {
	backoff := opts.BaseDelay
	if backoff <= 0 {
		backoff = time.Millisecond
	}

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		if attempt >= opts.MaxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %w", opts.MaxRetries, err)
		}

		jitter := time.Duration(0)
		if quarter := int64(backoff / 4); quarter > 0 {
			jitter = time.Duration(rand.Int63n(quarter))
		}

		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
	}
}

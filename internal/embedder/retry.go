package embedder

import (
	"context"
	"fmt"
	"time"

	"github.com/smancode/recall/pkg/types"
)

// RetryConfig bounds the exponential backoff applied to upstream calls.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryConfig matches the embedding service defaults: three
// attempts, 100ms initial backoff doubling up to a 5s ceiling.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: MaxRetries,
		BaseDelay:  time.Duration(InitialBackoffMs) * time.Millisecond,
		MaxDelay:   time.Duration(MaxBackoffMs) * time.Millisecond,
		Multiplier: BackoffMultiplier,
	}
}

// retryWithBackoff runs fn up to cfg.MaxRetries times, sleeping an
// exponentially growing delay between attempts. Context cancellation stops
// retrying immediately and surfaces ctx.Err(); exhausting the attempts
// wraps the last error as ErrUpstreamUnavailable.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return zero, fmt.Errorf("%w: after %d attempts: %v",
		types.ErrUpstreamUnavailable, cfg.MaxRetries, lastErr)
}

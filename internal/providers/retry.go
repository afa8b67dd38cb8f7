// -----------------------------------------------------------------------
// Retry with exponential backoff for rate-limited provider calls
// -----------------------------------------------------------------------

package providers

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/mitto/internal/jobs"
)

// RetryConfig controls backoff behavior for provider calls
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig returns the standard backoff schedule:
// 2s, 4s, 8s, capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// WithRetry runs fn, retrying on rate-limit errors with exponential
// backoff. Any other error, and any context cancellation, returns
// immediately.
func WithRetry(ctx context.Context, config RetryConfig, logger arbor.ILogger, fn func() error) error {
	delay := config.InitialDelay

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			logger.Warn().
				Int("attempt", attempt).
				Str("delay", delay.String()).
				Msg("Rate limited, backing off before retry")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * config.Multiplier)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// isRetryable reports whether the error looks like quota pressure.
// Cancellation and deadline expiry are never retried.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return jobs.IsRateLimitKind(jobs.ClassifyError(err))
}

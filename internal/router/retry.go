package router

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"assistgate/internal/domain"
)

// RetryConfig configuration for retry logic
type RetryConfig struct {
	MaxAttempts int           // total calls, not retries after the first
	BackoffBase time.Duration // delay before the second attempt
	BackoffMax  time.Duration

	// Sleep is overridable for tests; nil means a context-aware wait
	Sleep func(ctx context.Context, d time.Duration) error

	// OnRetry is called before each retry attempt, if set
	OnRetry func(attempt int)
}

// Retry executes fn up to MaxAttempts times with exponential backoff.
// Non-retryable errors (auth failures, invalid requests) abort
// immediately; context cancellation wins over any pending backoff.
func Retry(ctx context.Context, config RetryConfig, fn func() error) error {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	sleep := config.Sleep
	if sleep == nil {
		sleep = waitFor
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if attempt > 0 {
			if config.OnRetry != nil {
				config.OnRetry(attempt)
			}
			backoff := calculateBackoff(attempt-1, config.BackoffBase, config.BackoffMax)
			if err := sleep(ctx, backoff); err != nil {
				return err
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return err
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", config.MaxAttempts, lastErr)
}

func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// calculateBackoff returns base * 2^attempt capped at max, with ±20%
// jitter so concurrent retries spread out
func calculateBackoff(attempt int, base, max time.Duration) time.Duration {
	backoff := base * time.Duration(math.Pow(2, float64(attempt)))
	if max > 0 && backoff > max {
		backoff = max
	}

	jitterRange := float64(backoff) * 0.20
	jitterAmount := (rand.Float64() - 0.5) * 2 * jitterRange
	backoff += time.Duration(jitterAmount)

	if backoff < 0 {
		backoff = base
	}
	return backoff
}

package extraction

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
)

// RetryPolicy defines retry behavior with exponential backoff. Only errors
// the error taxonomy marks retryable (transient, stale DOM) are retried;
// captcha, poisoned-session and parser errors fail immediately.
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy builds the retry policy from the scraper configuration
func NewRetryPolicy(config *common.ScraperConfig) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       config.RetryMaxAttempts,
		InitialBackoff:    config.RetryBaseBackoff(),
		MaxBackoff:        config.RetryMaxBackoff(),
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff calculates the backoff duration with exponential backoff and jitter
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := float64(p.InitialBackoff) * pow(p.BackoffMultiplier, float64(attempt))
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	// Add jitter (±25%)
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// Do runs fn with the retry loop. Cancellation during backoff returns the
// context error, not the last operation error.
func (p *RetryPolicy) Do(ctx context.Context, logger arbor.ILogger, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if !models.IsRetryable(lastErr) {
			logger.Debug().
				Str("op", op).
				Int("attempt", attempt+1).
				Err(lastErr).
				Msg("Non-retryable error, failing immediately")
			return lastErr
		}

		if attempt < p.MaxAttempts-1 {
			backoff := p.CalculateBackoff(attempt)
			logger.Debug().
				Str("op", op).
				Int("attempt", attempt+1).
				Err(lastErr).
				Dur("backoff", backoff).
				Msg("Retrying after backoff")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				// Continue to next attempt
			}
		}
	}

	logger.Warn().
		Str("op", op).
		Int("max_attempts", p.MaxAttempts).
		Err(lastErr).
		Msg("All retry attempts exhausted")

	return lastErr
}

// pow calculates base^exp for float64
func pow(base, exp float64) float64 {
	result := 1.0
	for i := 0; i < int(exp); i++ {
		result *= base
	}
	return result
}

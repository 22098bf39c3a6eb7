package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/models"
)

func fastPolicy(attempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        4 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryPolicyRetriesTransient(t *testing.T) {
	policy := fastPolicy(3)
	attempts := 0

	err := policy.Do(context.Background(), arbor.NewLogger(), "op", func() error {
		attempts++
		if attempts < 3 {
			return models.NewScrapeError(models.ErrKindTransient, "flaky", nil)
		}
		return nil
	})

	if err != nil {
		t.Fatal(err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicyNonRetryableFailsImmediately(t *testing.T) {
	policy := fastPolicy(3)
	attempts := 0

	err := policy.Do(context.Background(), arbor.NewLogger(), "op", func() error {
		attempts++
		return models.NewScrapeError(models.ErrKindCaptcha, "challenged", nil)
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (captcha never retries)", attempts)
	}
}

func TestRetryPolicyExhaustsAttempts(t *testing.T) {
	policy := fastPolicy(3)
	attempts := 0
	lastErr := models.NewScrapeError(models.ErrKindStaleDOM, "row went stale", nil)

	err := policy.Do(context.Background(), arbor.NewLogger(), "op", func() error {
		attempts++
		return lastErr
	})

	if !errors.Is(err, lastErr) {
		t.Errorf("err = %v, want the final attempt's error", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetryPolicyCancelDuringBackoff(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    time.Hour, // never elapses; cancellation must win
		MaxBackoff:        time.Hour,
		BackoffMultiplier: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := policy.Do(ctx, arbor.NewLogger(), "op", func() error {
		attempts++
		return models.NewScrapeError(models.ErrKindTransient, "flaky", nil)
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled from the backoff wait", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetryPolicyContextErrorNotRetried(t *testing.T) {
	policy := fastPolicy(3)
	attempts := 0

	err := policy.Do(context.Background(), arbor.NewLogger(), "op", func() error {
		attempts++
		return context.Canceled
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (cancellation is not flakiness)", attempts)
	}
}

func TestCalculateBackoffWithinBounds(t *testing.T) {
	policy := &RetryPolicy{
		MaxAttempts:       5,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	for attempt := 0; attempt < 8; attempt++ {
		backoff := policy.CalculateBackoff(attempt)
		if backoff <= 0 {
			t.Errorf("attempt %d: backoff %v not positive", attempt, backoff)
		}
		// Jitter is ±25% of the capped value.
		if max := time.Duration(float64(policy.MaxBackoff) * 1.25); backoff > max {
			t.Errorf("attempt %d: backoff %v above jittered cap %v", attempt, backoff, max)
		}
	}
}

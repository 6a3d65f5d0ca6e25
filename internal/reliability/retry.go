package reliability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

// ErrMaxAttemptsExceeded is wrapped into the error returned by Retry when
// every attempt failed.
var ErrMaxAttemptsExceeded = errors.New("retry: maximum attempts exceeded")

// Policy decides whether a failed attempt should be retried and after what
// delay. Attempts are counted from zero.
type Policy interface {
	// ShouldRetry reports whether attempt should be retried and the delay
	// to wait before it.
	ShouldRetry(attempt int, err error) (bool, time.Duration)
}

// ExponentialBackoff retries with exponentially growing delays and optional
// jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	Jitter          bool
}

// NewExponentialBackoff creates a backoff policy with jitter enabled.
func NewExponentialBackoff(initial, max time.Duration, multiplier float64, maxAttempts int) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialInterval: initial,
		MaxInterval:     max,
		Multiplier:      multiplier,
		MaxAttempts:     maxAttempts,
		Jitter:          true,
	}
}

// ShouldRetry implements Policy.
func (e *ExponentialBackoff) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= e.MaxAttempts {
		return false, 0
	}
	return true, e.nextDelay(attempt)
}

func (e *ExponentialBackoff) nextDelay(attempt int) time.Duration {
	delay := float64(e.InitialInterval) * math.Pow(e.Multiplier, float64(attempt))
	if delay > float64(e.MaxInterval) {
		delay = float64(e.MaxInterval)
	}
	if e.Jitter {
		// ±15% around the computed delay.
		delay += (rand.Float64() - 0.5) * 0.3 * delay
	}
	return time.Duration(delay)
}

// FixedDelay retries up to MaxAttempts times with a constant delay.
type FixedDelay struct {
	Interval    time.Duration
	MaxAttempts int
}

// ShouldRetry implements Policy.
func (f *FixedDelay) ShouldRetry(attempt int, err error) (bool, time.Duration) {
	if attempt >= f.MaxAttempts {
		return false, 0
	}
	return true, f.Interval
}

// Retry runs fn until it succeeds, the policy gives up, or ctx is done.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		retry, delay := policy.ShouldRetry(attempt, lastErr)
		if !retry {
			return fmt.Errorf("%w after %d attempts: %w", ErrMaxAttemptsExceeded, attempt+1, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

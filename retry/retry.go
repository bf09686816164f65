// Package retry runs an operation until it succeeds or a bounded number of
// attempts is used up, waiting a fixed or computed backoff in between.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrExhausted is returned (wrapping the last error) when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how often and how patiently to retry.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration
	// Sleep waits for d or until ctx is done. Nil means a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, if set, is called after each failed attempt that will be retried.
	OnRetry func(attempt int, err error)
}

// Constant returns a backoff that always waits d.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// Exponential returns a backoff of base, 2·base, 4·base... capped at max.
func Exponential(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base << (attempt - 1)
		if d <= 0 || d > max {
			return max
		}
		return d
	}
}

// SleepContext waits for d, returning early with ctx.Err() if ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn with attempt = 1, 2, ... until it returns nil or MaxAttempts
// is reached. The attempt counter belongs to this call only.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, err)
		}
		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		if serr := sleep(ctx, wait); serr != nil {
			return fmt.Errorf("after %d attempts: %w", attempt, serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, err)
}

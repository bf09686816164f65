package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("connection refused")

// fakeSleep records waits instead of sleeping.
type fakeSleep struct {
	waits []time.Duration
}

func (f *fakeSleep) Sleep(ctx context.Context, d time.Duration) error {
	f.waits = append(f.waits, d)
	return ctx.Err()
}

func TestSucceedsOnFourthAttempt(t *testing.T) {
	sleeper := &fakeSleep{}
	p := Policy{MaxAttempts: 64, Backoff: Constant(time.Second), Sleep: sleeper.Sleep}

	var calls []int
	err := p.Do(context.Background(), func(attempt int) error {
		calls = append(calls, attempt)
		if attempt < 4 {
			return errRefused
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, sleeper.waits)
}

func TestCounterIsPerCall(t *testing.T) {
	p := Policy{MaxAttempts: 5, Sleep: (&fakeSleep{}).Sleep}

	for i := 0; i < 3; i++ {
		first := 0
		err := p.Do(context.Background(), func(attempt int) error {
			if first == 0 {
				first = attempt
			}
			if attempt < 2 {
				return errRefused
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, first, "run %d", i)
	}
}

func TestExhausted(t *testing.T) {
	sleeper := &fakeSleep{}
	p := Policy{MaxAttempts: 3, Backoff: Constant(time.Second), Sleep: sleeper.Sleep}

	var retried []int
	p.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	n := 0
	err := p.Do(context.Background(), func(int) error {
		n++
		return errRefused
	})

	assert.Equal(t, 3, n)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, errRefused)
	assert.Len(t, sleeper.waits, 2, "no wait after the last attempt")
	assert.Equal(t, []int{1, 2}, retried)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 10, Backoff: Constant(time.Hour)}
	n := 0
	err := p.Do(ctx, func(int) error {
		n++
		return errRefused
	})

	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExponential(t *testing.T) {
	b := Exponential(100*time.Millisecond, time.Second)
	assert.Equal(t, 100*time.Millisecond, b(1))
	assert.Equal(t, 200*time.Millisecond, b(2))
	assert.Equal(t, 400*time.Millisecond, b(3))
	assert.Equal(t, time.Second, b(5))
	assert.Equal(t, time.Second, b(80))
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	n := 0
	err := Policy{}.Do(context.Background(), func(int) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

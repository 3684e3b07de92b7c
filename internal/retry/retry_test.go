// ABOUTME: Tests for the retry policy loop
// ABOUTME: Covers success, exhaustion, non-retryable errors, backoff shapes, and cancellation

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordSleep returns a Sleep func that records requested pauses without waiting.
func recordSleep(pauses *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*pauses = append(*pauses, d)
		return ctx.Err()
	}
}

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	var pauses []time.Duration
	p := Policy{MaxAttempts: 3, Backoff: Linear(time.Second), Sleep: recordSleep(&pauses)}

	calls := 0
	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
	assert.Empty(t, pauses)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	var pauses []time.Duration
	p := Policy{MaxAttempts: 3, Backoff: Linear(time.Second), Sleep: recordSleep(&pauses)}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, pauses)
}

func TestDo_Exhausted(t *testing.T) {
	var pauses []time.Duration
	p := Policy{MaxAttempts: 3, Backoff: Linear(time.Millisecond), Sleep: recordSleep(&pauses)}
	boom := errors.New("boom")

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.ErrorIs(t, err, boom)
	// No pause after the final attempt
	assert.Len(t, pauses, 2)
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	var pauses []time.Duration
	fatal := errors.New("fatal")
	p := Policy{
		MaxAttempts: 5,
		Backoff:     Linear(time.Second),
		Retryable:   func(err error) bool { return !errors.Is(err, fatal) },
		Sleep:       recordSleep(&pauses),
	}

	attempts, err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return fatal
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, fatal)
	assert.NotErrorIs(t, err, ErrExhausted)
	assert.Empty(t, pauses)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		MaxAttempts: 3,
		Backoff:     Linear(time.Hour),
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}

	attempts, err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		return errors.New("transient")
	})

	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_ContextAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	attempts, err := Default().Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return nil
	})

	assert.Equal(t, 0, attempts)
	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_RealSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	p := Policy{MaxAttempts: 2, Backoff: Linear(time.Minute)}
	start := time.Now()
	_, err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		return errors.New("transient")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestLinear(t *testing.T) {
	b := Linear(2 * time.Second)
	assert.Equal(t, 2*time.Second, b(1))
	assert.Equal(t, 4*time.Second, b(2))
	assert.Equal(t, 6*time.Second, b(3))
}

func TestExponential(t *testing.T) {
	b := Exponential(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b(1))
	assert.Equal(t, 2*time.Second, b(2))
	assert.Equal(t, 4*time.Second, b(3))
	assert.Equal(t, 5*time.Second, b(4))
	assert.Equal(t, 5*time.Second, b(10))

	unbounded := Exponential(time.Second, 0)
	assert.Equal(t, 8*time.Second, unbounded(4))
}

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, DefaultMaxAttempts, p.MaxAttempts)
	require.NotNil(t, p.Backoff)
	assert.Equal(t, DefaultBaseDelay, p.Backoff(1))
}

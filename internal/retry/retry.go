// ABOUTME: Bounded retry loop with pluggable backoff and retryable-error classification
// ABOUTME: Shared by the session broker and the publish client

package retry

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxAttempts is used when a Policy has no MaxAttempts set.
const DefaultMaxAttempts = 3

// DefaultBaseDelay is the base of the default linear backoff.
const DefaultBaseDelay = 2 * time.Second

// ErrExhausted wraps the last error once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Backoff returns how long to wait after the given failed attempt (1-based).
type Backoff func(attempt int) time.Duration

// Linear waits base*attempt.
func Linear(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		return base * time.Duration(attempt)
	}
}

// Exponential waits base*2^(attempt-1), capped at limit when limit > 0.
func Exponential(base, limit time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if limit > 0 && d >= limit {
				return limit
			}
		}
		if limit > 0 && d > limit {
			return limit
		}
		return d
	}
}

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	MaxAttempts int
	Backoff     Backoff

	// Retryable reports whether a failed attempt may be repeated.
	// A nil Retryable retries every error.
	Retryable func(error) bool

	// Sleep waits for d or until ctx is done. Tests replace it to avoid
	// real pauses.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default returns the standard policy: three attempts, linear backoff from two seconds.
func Default() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     Linear(DefaultBaseDelay),
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// run out, or ctx is done. It returns the number of attempts made.
//
// When attempts run out the returned error wraps both ErrExhausted and the
// last error from fn, so callers can still match on the underlying cause.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := p.Backoff
	if backoff == nil {
		backoff = Linear(DefaultBaseDelay)
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return attempt, nil
		}

		// The caller's context ending mid-attempt is never retried
		if ctxErr := ctx.Err(); ctxErr != nil {
			return attempt, lastErr
		}

		if p.Retryable != nil && !p.Retryable(lastErr) {
			return attempt, lastErr
		}

		if attempt == maxAttempts {
			break
		}

		if err := sleep(ctx, backoff(attempt)); err != nil {
			return attempt, err
		}
	}

	return maxAttempts, errors.Join(ErrExhausted, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

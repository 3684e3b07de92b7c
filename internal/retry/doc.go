// Package retry provides the attempt loop shared by every component that
// talks to an unreliable external service.
//
// A Policy bounds the number of attempts, decides which errors are worth
// another try and computes the pause between attempts. Both the session
// broker (starting a login) and the publish client (submitting a post) run
// their external calls through Policy.Do so retry behavior is configured in
// one place.
//
// # Backoff
//
// Linear(base) waits base*attempt after each failed attempt, which is the
// default. Exponential(base, max) doubles the wait each time up to max.
//
// # Cancellation
//
// Do stops as soon as the context is done, including in the middle of a
// backoff pause, and returns the context error.
package retry

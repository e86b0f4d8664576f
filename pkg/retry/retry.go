// Package retry provides bounded retry with jittered exponential backoff.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy bounds a retry loop. Attempts counts the first call.
type Policy struct {
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	// PerAttempt bounds each call; zero leaves the parent deadline alone.
	PerAttempt time.Duration
}

// ErrExhausted wraps the last error once all attempts failed.
var ErrExhausted = errors.New("retries exhausted")

type exhaustedError struct {
	attempts int
	last     error
}

func (e *exhaustedError) Error() string {
	return "retries exhausted: " + e.last.Error()
}

func (e *exhaustedError) Is(target error) bool { return target == ErrExhausted }
func (e *exhaustedError) Unwrap() error        { return e.last }

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err}
}

type permanentError struct{ err error }

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Do calls fn until it succeeds, returns a permanent error, ctx ends or
// the policy is exhausted.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.PerAttempt > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.PerAttempt)
		}
		last = fn(callCtx)
		cancel()
		if last == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(last, &perm) {
			return perm.err
		}
		if ctx.Err() != nil {
			return &exhaustedError{attempts: attempt, last: last}
		}
		if attempt == attempts {
			break
		}
		t := time.NewTimer(Backoff(p.BackoffMin, p.BackoffMax, attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return &exhaustedError{attempts: attempt, last: last}
		case <-t.C:
		}
	}
	return &exhaustedError{attempts: attempts, last: last}
}

// Backoff returns an exponential delay for attempt (1-based) capped at max,
// reduced by up to 50% jitter.
func Backoff(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	if attempt < 1 {
		attempt = 1
	}
	exp := max
	if attempt < 32 {
		if d := min * time.Duration(1<<uint(attempt-1)); d > 0 && d < max {
			exp = d
		}
	}
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

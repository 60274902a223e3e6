// Package retry runs an operation with capped exponential backoff and
// jitter. Conflicting provider commits and review prompt deliveries use it.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// DefaultMaxDelay caps a single backoff sleep.
const DefaultMaxDelay = 2 * time.Second

// PermanentError wraps an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so that Do will not retry it.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // DefaultMaxDelay when zero
}

// Do calls fn with the 1-based attempt number until it succeeds, returns a
// permanent error, attempts run out or ctx is cancelled. The delay doubles
// after each failure with +-25% jitter, capped at MaxDelay. A permanent error
// is returned unwrapped; otherwise the last error is returned.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	var err error
	delay := p.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(min(delay, maxDelay))):
		}
		delay *= 2
	}
	return err
}

// Do is Policy{maxAttempts, baseDelay, 0}.Do for callers that do not need
// the attempt number.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay}.Do(ctx, func(int) error { return fn() })
}

func jitter(d time.Duration) time.Duration {
	spread := int64(d / 4)
	if spread <= 0 {
		return d
	}
	return d - time.Duration(spread) + time.Duration(rand.Int64N(2*spread+1))
}

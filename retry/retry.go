// Package retry implements exponential backoff with jitter. The messaging
// service wraps store writes in it during send fan-out, with
// pmbox.IsRetryableError deciding which failures are worth another attempt.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrNotRetryable is the failure class for errors the predicate
	// rejected; no further attempts were made.
	ErrNotRetryable = errors.New("retry: error is not retryable")

	// ErrMaxRetries is the failure class when every attempt failed.
	ErrMaxRetries = errors.New("retry: max retries exceeded")

	// ErrContextCanceled is the failure class when the context ended
	// between attempts.
	ErrContextCanceled = errors.New("retry: context canceled")
)

// Config controls the attempt schedule.
type Config struct {
	// MaxRetries is the number of attempts after the first. Zero means
	// execute once.
	MaxRetries int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// Jitter spreads the delay by up to +/- Jitter*delay, in [0, 1].
	// Keeps simultaneous senders from retrying in lockstep.
	Jitter float64

	// IsRetryable decides whether a failure deserves another attempt.
	// Nil falls back to DefaultIsRetryable.
	IsRetryable func(error) bool
}

// DefaultConfig returns the schedule used when callers pass a zero Config.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		IsRetryable:    DefaultIsRetryable,
	}
}

// normalized fills zero or out-of-range fields with defaults.
func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	c.Jitter = math.Min(math.Max(c.Jitter, 0), 1)
	if c.IsRetryable == nil {
		c.IsRetryable = DefaultIsRetryable
	}
	return c
}

// delay returns the backoff before retry number attempt (zero-based).
func (c Config) delay(attempt int) time.Duration {
	d := float64(c.InitialBackoff) * math.Pow(c.Multiplier, float64(attempt))
	d = math.Min(d, float64(c.MaxBackoff))
	if c.Jitter > 0 {
		spread := d * c.Jitter
		d += spread * (2*rand.Float64() - 1)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, the predicate rejects its error, the
// attempts run out, or the context ends. Failures carry a *RetryError.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	cfg = cfg.normalized()

	var last error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			if last == nil {
				return ctx.Err()
			}
			return &RetryError{Cause: last, Attempts: attempt, Err: ErrContextCanceled}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !cfg.IsRetryable(last) {
			return &RetryError{Cause: last, Attempts: attempt + 1, Err: ErrNotRetryable}
		}
		if attempt == cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return &RetryError{Cause: last, Attempts: attempt + 1, Err: ErrContextCanceled}
		case <-time.After(cfg.delay(attempt)):
		}
	}

	return &RetryError{Cause: last, Attempts: cfg.MaxRetries + 1, Err: ErrMaxRetries}
}

// DoWithResult is Do for functions that also return a value.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context) error {
		var fnErr error
		result, fnErr = fn(ctx)
		return fnErr
	})
	return result, err
}

// RetryError reports why the attempts stopped.
type RetryError struct {
	// Cause is the last error fn returned.
	Cause error

	// Attempts is how many times fn ran.
	Attempts int

	// Err classifies the stop: ErrMaxRetries, ErrNotRetryable, or
	// ErrContextCanceled.
	Err error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry failed after %d attempts (%s): %s", e.Attempts, e.Err, e.Cause)
}

func (e *RetryError) Unwrap() error {
	return e.Cause
}

// Is matches both the stop classification and the underlying cause, so
// errors.Is works against either.
func (e *RetryError) Is(target error) bool {
	return errors.Is(e.Err, target) || errors.Is(e.Cause, target)
}

// DefaultIsRetryable treats unknown errors as transient. Errors exposing a
// Retryable() bool method classify themselves.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotRetryable) {
		return false
	}
	var self interface{ Retryable() bool }
	if errors.As(err, &self) {
		return self.Retryable()
	}
	return true
}

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNetwork marks failures reaching a remote cache backend.
var ErrNetwork = errors.New("network error")

// RetryableError wraps an error to indicate it should trigger a retry.
type RetryableError struct{ Err error }

// Retryable wraps err so that [Backoff.Retry] tries again. Nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err, or an error it wraps, is retryable.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Backoff is an exponential retry policy.
type Backoff struct {
	Attempts int
	Delay    time.Duration // before the second attempt
	MaxDelay time.Duration
}

// DefaultBackoff suits a cache on the local network: three attempts within
// a fraction of a second.
var DefaultBackoff = Backoff{Attempts: 3, Delay: 25 * time.Millisecond, MaxDelay: 200 * time.Millisecond}

// Retry calls fn until it succeeds, returns an error not marked
// [Retryable], or the attempts are used up. The last error is returned.
func (b Backoff) Retry(ctx context.Context, fn func() error) error {
	attempts := max(b.Attempts, 1)
	delay := b.Delay

	var err error
	for i := range attempts {
		if err = fn(); err == nil || !IsRetryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if b.MaxDelay > 0 && delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
	return err
}

// RetryWithBackoff retries fn under [DefaultBackoff].
func RetryWithBackoff(ctx context.Context, fn func() error) error {
	return DefaultBackoff.Retry(ctx, fn)
}

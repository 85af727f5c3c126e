package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryableError marks an error as belonging to an idempotent failure
// category (network error, 5xx, rate-limited-with-retry-after). Gateway
// backends wrap errors in this to opt them into retry; anything else
// (content-policy rejection, auth failure) is treated as terminal.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as retryable. A nil err returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err opted into retry, either explicitly via
// Retryable or because it's a plain network error.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var re *RetryableError
	if errors.As(err, &re) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryConfig bounds the exponential-backoff-with-full-jitter policy
// wrapping each gateway call. MaxAttempts counts the initial attempt.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig allows up to 2 attempts per call: the initial attempt
// plus 1 retry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   2,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
	}
}

// Do runs fn, retrying with exponential backoff and full jitter (via
// cenkalti/backoff) while the returned error is retryable and attempts
// remain and ctx has not been cancelled.
func Do(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = cfg.InitialDelay
	policy.MaxInterval = cfg.MaxDelay
	policy.Multiplier = cfg.BackoffFactor
	policy.RandomizationFactor = 1.0
	bounded := backoff.WithMaxRetries(policy, uint64(maxAttemptsToRetries(cfg.MaxAttempts)))
	withCtx := backoff.WithContext(bounded, ctx)

	return backoff.Retry(func() error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, withCtx)
}

func maxAttemptsToRetries(maxAttempts int) int {
	if maxAttempts <= 1 {
		return 0
	}
	return maxAttempts - 1
}

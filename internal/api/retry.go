package api

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy controls how often and how long an operation waits before it is
// re-attempted. The classification of which errors are retried at all lives in
// (*Error).Retryable and is not tunable.
type RetryPolicy struct {
	// Retries is the number of re-attempts after the initial call.
	Retries int

	// Delay is the wait between attempts when the provider sent no
	// Retry-After hint.
	Delay time.Duration

	// sleep is replaced in tests.
	sleep func(time.Duration)
}

// DefaultRetryPolicy retries once after two seconds, matching the providers'
// documented rate-limit windows.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Retries: 1, Delay: 2 * time.Second}
}

// WithRetry runs fn and re-attempts it on retryable failures. A Retry-After
// hint from a rate-limit response takes precedence over the policy delay.
// Unauthorized, forbidden, not-found and decode errors are returned
// immediately since retrying them cannot succeed.
func WithRetry[T any](ctx context.Context, policy RetryPolicy, fn func() (T, error)) (T, error) {
	var result T
	var err error

	sleep := policy.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	for attempt := 0; ; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}

		var apiErr *Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			return result, err
		}

		if attempt >= policy.Retries {
			return result, err
		}

		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		delay := policy.Delay
		if apiErr.RetryAfter > 0 {
			delay = apiErr.RetryAfter
		}
		sleep(delay)
	}
}

// Package retry runs an operation under a bounded retry policy.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// Policy describes how many times an operation is attempted and how long to
// wait in between.
type Policy struct {
	// Attempts is the total number of attempts, including the first one.
	Attempts int
	// Interval is the wait before the second attempt.
	Interval time.Duration
	// Exponential doubles the wait after every failed attempt. When false
	// every wait equals Interval.
	Exponential bool
	// MaxInterval caps the wait when Exponential is set.
	MaxInterval time.Duration
	// Retryable reports whether an error is worth another attempt. A nil
	// Retryable retries every error.
	Retryable func(error) bool
}

// Fixed returns a policy with a constant wait between attempts.
func Fixed(attempts int, interval time.Duration) Policy {
	return Policy{Attempts: attempts, Interval: interval}
}

// Exponential returns a policy whose wait doubles after every attempt.
func Exponential(attempts int, interval, maxInterval time.Duration) Policy {
	return Policy{Attempts: attempts, Interval: interval, Exponential: true, MaxInterval: maxInterval}
}

// Do calls fn until it succeeds, the policy is exhausted, or ctx is done.
// It returns the last error fn produced, or the context error.
func Do(ctx context.Context, logger *slog.Logger, policy Policy, msgOnRetry string, fn func() error) error {
	if policy.Attempts <= 0 {
		return fmt.Errorf("retry: invalid attempt count %d", policy.Attempts)
	}

	delayType := retry.FixedDelay
	if policy.Exponential {
		delayType = retry.BackOffDelay
	}

	opts := []retry.Option{
		retry.Attempts(uint(policy.Attempts)),
		retry.Delay(policy.Interval),
		retry.DelayType(delayType),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.WarnContext(ctx, msgOnRetry,
				slog.Int("attempt", int(n)+1),
				slog.Int("max_attempts", policy.Attempts),
				slog.String("error", err.Error()),
			)
		}),
	}
	if policy.Retryable != nil {
		opts = append(opts, retry.RetryIf(policy.Retryable))
	}
	if policy.MaxInterval > 0 {
		opts = append(opts, retry.MaxDelay(policy.MaxInterval))
	}

	return retry.Do(fn, opts...)
}

// Package resilience wraps fallible operations with bounded retry and
// a circuit breaker so repeated failures fail fast instead of hammering
// the upstream site.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds a retry loop. The operation runs once plus up to
// MaxRetries additional attempts.
type RetryConfig struct {
	MaxRetries uint
	Delay      time.Duration
	// Multiplier grows the delay per attempt when > 1; 0 or 1 keeps it
	// constant.
	Multiplier float64
}

// Permanent marks an error as non-retryable; Retry returns it on the
// attempt that produced it without sleeping again.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Retry invokes op, sleeping cfg.Delay between failed attempts, until
// it succeeds, the attempt budget is exhausted, or ctx is cancelled.
// The last error is returned unchanged. Cancellation aborts a pending
// sleep rather than letting the retry complete after shutdown.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	var policy backoff.BackOff
	if cfg.Multiplier > 1 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = cfg.Delay
		eb.Multiplier = cfg.Multiplier
		eb.RandomizationFactor = 0
		eb.MaxElapsedTime = 0
		policy = eb
	} else {
		policy = backoff.NewConstantBackOff(cfg.Delay)
	}
	policy = backoff.WithMaxRetries(policy, uint64(cfg.MaxRetries))
	policy = backoff.WithContext(policy, ctx)

	return backoff.Retry(op, policy)
}

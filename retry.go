package procman

import (
	"context"
	"errors"
	"time"
)

// ConflictRetry configures RetryOnConflict.
type ConflictRetry struct {
	// MaxAttempts caps the total number of invocations. <= 0 is
	// treated as 1 (no retries).
	MaxAttempts int

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the delay each attempt (default 2.0 if
	// <= 0).
	BackoffMultiplier float64

	// MaxBackoff caps the delay; if <= 0, there is no cap.
	MaxBackoff time.Duration
}

// DefaultConflictRetry suits handlers invoked by a message consumer:
// a few quick retries before giving the message back to the broker.
var DefaultConflictRetry = ConflictRetry{
	MaxAttempts:       5,
	InitialBackoff:    25 * time.Millisecond,
	BackoffMultiplier: 2.0,
	MaxBackoff:        time.Second,
}

// RetryOnConflict runs fn, re-running it while it fails with
// ErrConcurrency. Handlers are idempotent, so losing an
// optimistic-concurrency race is recoverable by simply re-invoking the
// handler against the fresh aggregate state.
//
// Any other error, including ctx cancellation during backoff, is
// returned immediately. The last conflict error is returned when
// attempts run out.
func RetryOnConflict(ctx context.Context, policy ConflictRetry, fn func(ctx context.Context) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	multiplier := policy.BackoffMultiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	backoff := policy.InitialBackoff
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrConcurrency) {
			return err
		}
		if attempt == attempts {
			return err
		}

		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			backoff = time.Duration(float64(backoff) * multiplier)
			if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
				backoff = policy.MaxBackoff
			}
		}
	}
}

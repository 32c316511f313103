package worker

import (
	"context"
	"errors"
	"time"

	"github.com/gridmesh/procman/internal/outbox"
)

// PublishFunc hands one outbound message to the delivery system.
// Publishing must be idempotent on the message's idempotency key; the
// worker may call it more than once for the same message.
type PublishFunc func(ctx context.Context, m outbox.Message) error

// Config tunes per-message delivery retries.
type Config struct {
	// MaxAttempts caps publish attempts per message. <= 0 defaults
	// to 3.
	MaxAttempts int

	// Backoff is the delay between attempts. <= 0 defaults to 100ms.
	Backoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 100 * time.Millisecond
	}
	return c
}

// Worker pulls outbound actor messages from the outbox and publishes
// them. Run several workers over the same queue to scale delivery.
type Worker struct {
	queue   outbox.Queue
	publish PublishFunc
	cfg     Config
}

// New creates a Worker with default config.
func New(queue outbox.Queue, publish PublishFunc) *Worker {
	return NewWithConfig(queue, publish, Config{})
}

// NewWithConfig creates a Worker with the given config.
func NewWithConfig(queue outbox.Queue, publish PublishFunc, cfg Config) *Worker {
	return &Worker{
		queue:   queue,
		publish: publish,
		cfg:     cfg.withDefaults(),
	}
}

// ProcessOne pulls a single message from the queue and publishes it.
// Returns (processed, error):
//   - processed == false, err != nil: nothing was dequeued (typically
//     ctx cancellation).
//   - processed == true: a message was dequeued; err reports whether
//     publishing ultimately succeeded.
//
// A message whose publish fails after all attempts is dropped from the
// queue; the error carries the instance id so the host can re-drive the
// instance, which re-enqueues under the same idempotency key.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	m, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}

	var lastErr error
	for attempt := 1; attempt <= w.cfg.MaxAttempts; attempt++ {
		lastErr = w.publish(ctx, *m)
		if lastErr == nil {
			return true, nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return true, lastErr
		}
		if attempt == w.cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(w.cfg.Backoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return true, ctx.Err()
		}
	}
	return true, lastErr
}

// Run processes messages until ctx is cancelled. Publish failures are
// swallowed so one bad message does not stop delivery; cancellation is
// returned as the loop's exit reason.
func (w *Worker) Run(ctx context.Context) error {
	for {
		_, err := w.ProcessOne(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
}

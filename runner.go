package procman

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner drives scheduled instances: it periodically sweeps the store
// for Pending instances whose run time has arrived, queues them, and
// runs each through the start pipeline.
//
// Typical usage:
//
//	runner := procman.NewRunner(cfg, time.Second)
//	_ = runner.Start(ctx)
//	defer runner.Stop()
//
// Multiple runners may sweep the same store; optimistic concurrency
// ensures each due instance is queued exactly once, and the loser of a
// race simply sweeps again.
type Runner struct {
	schedule *ScheduleHandler
	start    *StartHandler
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner creates a Runner over the given handler configuration.
// pollInterval <= 0 defaults to one second.
func NewRunner(cfg Config, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		schedule: NewScheduleHandler(cfg),
		start:    NewStartHandler(cfg),
		interval: pollInterval,
		logger:   slog.Default(),
	}
}

// SweepOnce performs a single sweep: queue every due instance, then run
// each through the start pipeline. It returns the number of instances
// started. An instance that fails to start is logged and skipped; the
// next sweep will not see it again (it is already Queued), so the host
// is expected to re-drive stuck Queued instances via StartQueued.
func (r *Runner) SweepOnce(ctx context.Context) (int, error) {
	due, err := r.queueDue(ctx)
	if err != nil {
		return 0, err
	}

	started := 0
	for _, id := range due {
		err := RetryOnConflict(ctx, DefaultConflictRetry, func(ctx context.Context) error {
			return r.start.StartQueued(ctx, id)
		})
		if err != nil {
			r.logger.ErrorContext(ctx, "start queued instance",
				slog.String("instance_id", id.String()),
				slog.Any("error", err),
			)
			continue
		}
		started++
	}
	return started, nil
}

func (r *Runner) queueDue(ctx context.Context) ([]uuid.UUID, error) {
	var due []uuid.UUID
	err := RetryOnConflict(ctx, DefaultConflictRetry, func(ctx context.Context) error {
		var err error
		due, err = r.schedule.QueueDue(ctx)
		return err
	})
	return due, err
}

// Start launches the sweep loop in a background goroutine. It returns
// an error if the runner is already started.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("procman: Runner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			if _, err := r.SweepOnce(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				// Keep sweeping; a transient store error must not kill
				// the loop.
				r.logger.ErrorContext(ctx, "scheduled sweep", slog.Any("error", err))
			}
		}
	}()

	return nil
}

// Stop cancels the sweep loop and waits for it to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

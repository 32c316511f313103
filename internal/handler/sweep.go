package handler

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/internal/persistence"
)

// ScheduleHandler queues scheduled instances that have become due.
type ScheduleHandler struct {
	cfg Config
}

// NewScheduleHandler creates a ScheduleHandler.
func NewScheduleHandler(cfg Config) *ScheduleHandler {
	return &ScheduleHandler{cfg: cfg.withDefaults()}
}

// QueueDue queues every Pending instance whose scheduled instant is at
// or before the clock's current reading, and returns their ids. The
// caller runs each queued instance via StartHandler.StartQueued.
//
// A conflicting commit means another sweep got there first; that is
// reported as ErrConcurrency and the caller simply sweeps again.
func (h *ScheduleHandler) QueueDue(ctx context.Context) ([]uuid.UUID, error) {
	uow, err := h.cfg.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback() }()

	due, err := uow.FindScheduled(ctx, h.cfg.Clock.Now())
	if err != nil {
		return nil, err
	}
	if len(due) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(due))
	for _, inst := range due {
		if err := inst.Lifecycle().TransitionToQueued(h.cfg.Clock); err != nil {
			return nil, err
		}
		ids = append(ids, inst.ID())
	}

	err = uow.Commit(ctx)
	if errors.Is(err, persistence.ErrConcurrency) {
		h.cfg.Observer.OnCommitConflict(ctx, "scheduled-sweep", err)
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

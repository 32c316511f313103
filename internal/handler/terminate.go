package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/internal/persistence"
	"github.com/gridmesh/procman/pkg/orchestration"
)

// TerminateHandler closes an instance when the delivery system confirms
// the outbound messages were handed over.
type TerminateHandler struct {
	cfg Config
}

// NewTerminateHandler creates a TerminateHandler.
func NewTerminateHandler(cfg Config) *TerminateHandler {
	return &TerminateHandler{cfg: cfg.withDefaults()}
}

// Terminate closes the enqueue step and the instance. The instance
// terminates Succeeded on the forward path and Failed on the reject
// path, read from the validation step's cached outcome.
//
// Terminate is a no-op on an already-terminated instance.
func (h *TerminateHandler) Terminate(ctx context.Context, id uuid.UUID) error {
	uow, err := h.cfg.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	inst, err := uow.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.Lifecycle().IsTerminated() {
		return nil
	}
	if inst.Lifecycle().State() != orchestration.StateRunning {
		return fmt.Errorf("instance %s is %s, not %s", id, inst.Lifecycle().State(), orchestration.StateRunning)
	}

	enqueue, err := inst.Step(StepEnqueueActorMessages)
	if err != nil {
		return err
	}
	switch enqueue.Lifecycle().State() {
	case orchestration.StepRunning:
		if err := enqueue.Lifecycle().TransitionToSucceeded(h.cfg.Clock); err != nil {
			return err
		}
		h.cfg.Observer.OnStepTerminated(ctx, inst, StepEnqueueActorMessages,
			orchestration.StepSucceeded, stepDuration(enqueue))
	case orchestration.StepTerminated:
		// Skipped on the reject path, or already closed by a retry.
	default:
		return fmt.Errorf("instance %s: enqueue step is %s, nothing to terminate", id, enqueue.Lifecycle().State())
	}

	outcome, err := h.validationOutcome(inst)
	if err != nil {
		return err
	}
	if outcome.Failed {
		err = inst.Lifecycle().TransitionToFailed(h.cfg.Clock)
	} else {
		err = inst.Lifecycle().TransitionToSucceeded(h.cfg.Clock)
	}
	if err != nil {
		return err
	}
	h.cfg.Observer.OnInstanceTerminated(ctx, inst)

	err = uow.Commit(ctx)
	if errors.Is(err, persistence.ErrConcurrency) {
		h.cfg.Observer.OnCommitConflict(ctx, id.String(), err)
	}
	return err
}

func (h *TerminateHandler) validationOutcome(inst *orchestration.OrchestrationInstance) (validationOutcome, error) {
	step, err := inst.Step(StepBusinessValidation)
	if err != nil {
		return validationOutcome{}, err
	}
	if !step.Lifecycle().IsTerminated() {
		return validationOutcome{}, fmt.Errorf("instance %s: validation step has not terminated", inst.ID())
	}
	var outcome validationOutcome
	if err := step.CustomState().Unmarshal(&outcome); err != nil {
		return validationOutcome{}, fmt.Errorf("instance %s: read validation outcome: %w", inst.ID(), err)
	}
	return outcome, nil
}

// CancelHandler cancels an instance on user request.
type CancelHandler struct {
	cfg Config
}

// NewCancelHandler creates a CancelHandler.
func NewCancelHandler(cfg Config) *CancelHandler {
	return &CancelHandler{cfg: cfg.withDefaults()}
}

// Cancel terminates an instance with UserCanceled. Only instances that
// have not started running can be canceled; the lifecycle guard rejects
// everything else. Pending steps are skipped so the instance leaves no
// step behind in a non-terminal state.
func (h *CancelHandler) Cancel(ctx context.Context, id uuid.UUID) error {
	uow, err := h.cfg.Store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	inst, err := uow.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := inst.Lifecycle().TransitionToUserCanceled(h.cfg.Clock); err != nil {
		return err
	}

	for _, step := range inst.Steps() {
		if step.Lifecycle().IsTerminated() {
			continue
		}
		if err := step.Lifecycle().TransitionToSkipped(h.cfg.Clock); err != nil {
			return err
		}
		h.cfg.Observer.OnStepTerminated(ctx, inst, step.Sequence(), orchestration.StepSkipped, 0)
	}
	h.cfg.Observer.OnInstanceTerminated(ctx, inst)

	err = uow.Commit(ctx)
	if errors.Is(err, persistence.ErrConcurrency) {
		h.cfg.Observer.OnCommitConflict(ctx, id.String(), err)
	}
	return err
}

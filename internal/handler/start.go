package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/internal/outbox"
	"github.com/gridmesh/procman/internal/persistence"
	"github.com/gridmesh/procman/pkg/orchestration"
	"github.com/gridmesh/procman/pkg/validation"
)

// StartHandler starts forward-metered-data process instances.
type StartHandler struct {
	cfg Config
}

// NewStartHandler creates a StartHandler.
func NewStartHandler(cfg Config) *StartHandler {
	return &StartHandler{cfg: cfg.withDefaults()}
}

// Start handles one inbound forward-metered-data request.
//
// Start is idempotent on the request's idempotency key: if a
// non-terminated instance already holds the key, that instance is
// returned with its original id and timestamps. A terminated instance
// does not block a new occurrence under the same key.
//
// A request without ScheduledToRunAt runs business validation inline and
// leaves the instance Running, either on the forward path (validation
// step succeeded, forward step running) or the reject path (validation
// step failed, remaining steps skipped). The reject message is enqueued
// only after the instance commits, under the key cached in the
// validation step, and a replayed request re-sends it; the outbox
// suppresses the duplicate. A scheduled request commits the instance in
// Pending for the scheduler sweep to pick up.
func (h *StartHandler) Start(ctx context.Context, req ForwardMeteredDataRequest) (*orchestration.OrchestrationInstance, error) {
	uow, err := h.cfg.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = uow.Rollback() }()

	existing, err := uow.GetByIdempotencyKey(ctx, req.IdempotencyKey)
	switch {
	case err == nil && !existing.Lifecycle().IsTerminated():
		// Replayed request. The first attempt may have committed the
		// reject outcome but crashed before enqueueing the message.
		if err := h.resendReject(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	case err != nil && !errors.Is(err, persistence.ErrNotFound):
		return nil, err
	}

	desc, err := h.cfg.Store.GetDescriptionByName(ctx, ProcessForwardMeteredData, ProcessForwardMeteredDataVersion)
	if err != nil {
		return nil, err
	}

	parameter, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request parameter: %w", err)
	}

	inst, err := orchestration.NewInstance(h.cfg.Clock, desc, orchestration.InstanceSpec{
		CreatedBy:        req.SentBy,
		IdempotencyKey:   req.IdempotencyKey,
		Parameter:        parameter,
		ActorMessageID:   req.ActorMessageID,
		TransactionID:    req.TransactionID,
		MeteringPointID:  req.MeteringPointID,
		ScheduledToRunAt: req.ScheduledToRunAt,
	})
	if err != nil {
		return nil, err
	}
	if err := uow.Add(ctx, inst); err != nil {
		return nil, err
	}

	if !req.ScheduledToRunAt.IsZero() {
		// Deferred start: the sweep queues it when due.
		if err := h.commit(ctx, uow, inst); err != nil {
			return nil, err
		}
		h.cfg.Observer.OnInstanceStarted(ctx, inst)
		return inst, nil
	}

	if err := inst.Lifecycle().TransitionToQueued(h.cfg.Clock); err != nil {
		return nil, err
	}
	outcome, err := h.runPipeline(ctx, inst, req)
	if err != nil {
		return nil, err
	}
	if err := h.commit(ctx, uow, inst); err != nil {
		return nil, err
	}
	h.cfg.Observer.OnInstanceStarted(ctx, inst)

	if outcome.Failed {
		if err := h.enqueueReject(ctx, inst.ID(), req.SentBy, req.TransactionID, outcome); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// StartQueued runs the start pipeline on an instance the scheduler
// sweep has already queued. It is a no-op on terminated instances.
func (h *StartHandler) StartQueued(ctx context.Context, id uuid.UUID) error {
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
	if inst.Lifecycle().State() != orchestration.StateQueued {
		return fmt.Errorf("instance %s is %s, not %s", id, inst.Lifecycle().State(), orchestration.StateQueued)
	}

	req, err := decodeRequest(inst.Parameter())
	if err != nil {
		return err
	}
	outcome, err := h.runPipeline(ctx, inst, req)
	if err != nil {
		return err
	}
	if err := h.commit(ctx, uow, inst); err != nil {
		return err
	}
	if outcome.Failed {
		return h.enqueueReject(ctx, inst.ID(), req.SentBy, req.TransactionID, outcome)
	}
	return nil
}

// runPipeline moves a Queued instance to Running and executes the
// business-validation step, branching onto the forward or reject path.
// The reject message itself is the caller's concern, after its commit.
func (h *StartHandler) runPipeline(ctx context.Context, inst *orchestration.OrchestrationInstance, req ForwardMeteredDataRequest) (validationOutcome, error) {
	if err := inst.Lifecycle().TransitionToRunning(h.cfg.Clock); err != nil {
		return validationOutcome{}, err
	}

	outcome, err := h.runValidationStep(ctx, inst, req)
	if err != nil {
		return validationOutcome{}, err
	}

	if outcome.Failed {
		return outcome, h.skipRemainingSteps(ctx, inst)
	}
	return outcome, h.runForwardPath(ctx, inst)
}

// runValidationStep executes step 1, or reads its cached outcome when
// the step has already terminated.
func (h *StartHandler) runValidationStep(ctx context.Context, inst *orchestration.OrchestrationInstance, req ForwardMeteredDataRequest) (validationOutcome, error) {
	step, err := inst.Step(StepBusinessValidation)
	if err != nil {
		return validationOutcome{}, err
	}

	if step.Lifecycle().IsTerminated() {
		var outcome validationOutcome
		if err := step.CustomState().Unmarshal(&outcome); err != nil {
			return validationOutcome{}, fmt.Errorf("instance %s: read cached validation outcome: %w", inst.ID(), err)
		}
		return outcome, nil
	}

	if err := step.Lifecycle().TransitionToRunning(h.cfg.Clock); err != nil {
		return validationOutcome{}, err
	}
	h.cfg.Observer.OnStepStarted(ctx, inst, StepBusinessValidation)

	masterData, err := h.cfg.MasterData.GetMasterData(ctx, req.MeteringPointID, req.Period)
	if err != nil {
		// Lookup failure is transient, not a validation outcome; leave the
		// step for a retry.
		return validationOutcome{}, fmt.Errorf("instance %s: master data lookup: %w", inst.ID(), err)
	}

	verrs := h.cfg.Validator.Validate(validation.Input{
		MeteringPointID: req.MeteringPointID,
		Period:          req.Period,
		Resolution:      req.Resolution,
		Values:          req.Values,
		MasterData:      masterData,
	})

	outcome := validationOutcome{
		Failed: len(verrs) > 0,
		Errors: verrs,
	}
	if outcome.Failed {
		outcome.RejectMessageKey = "reject-" + inst.ID().String()
	}

	state, err := orchestration.NewCustomState(validationOutcomeSchema, outcome)
	if err != nil {
		return validationOutcome{}, err
	}
	step.SetCustomState(state)

	if outcome.Failed {
		err = step.Lifecycle().TransitionToFailed(h.cfg.Clock)
	} else {
		err = step.Lifecycle().TransitionToSucceeded(h.cfg.Clock)
	}
	if err != nil {
		return validationOutcome{}, err
	}
	h.cfg.Observer.OnStepTerminated(ctx, inst, StepBusinessValidation,
		step.Lifecycle().TerminationState(), stepDuration(step))

	return outcome, nil
}

// runForwardPath opens step 2 after a passed validation. The step stays
// Running until the measurements core confirms via ProgressHandler.
func (h *StartHandler) runForwardPath(ctx context.Context, inst *orchestration.OrchestrationInstance) error {
	step, err := inst.Step(StepForwardToMeasurements)
	if err != nil {
		return err
	}
	if step.Lifecycle().State() != orchestration.StepPending {
		return nil
	}
	if err := step.Lifecycle().TransitionToRunning(h.cfg.Clock); err != nil {
		return err
	}
	h.cfg.Observer.OnStepStarted(ctx, inst, StepForwardToMeasurements)
	return nil
}

// skipRemainingSteps closes the not-yet-run steps after a failed
// validation. The instance stays Running; the terminate notification
// closes it.
func (h *StartHandler) skipRemainingSteps(ctx context.Context, inst *orchestration.OrchestrationInstance) error {
	for _, seq := range []int{StepForwardToMeasurements, StepEnqueueActorMessages} {
		step, err := inst.Step(seq)
		if err != nil {
			return err
		}
		if step.Lifecycle().IsTerminated() {
			continue
		}
		if err := step.Lifecycle().TransitionToSkipped(h.cfg.Clock); err != nil {
			return err
		}
		h.cfg.Observer.OnStepTerminated(ctx, inst, seq, orchestration.StepSkipped, 0)
	}
	return nil
}

// resendReject re-enqueues the reject message for a replayed request
// whose recorded outcome was a rejection. The key comes from the
// validation step's cached outcome, so an already delivered reject is
// suppressed by the outbox rather than sent again.
func (h *StartHandler) resendReject(ctx context.Context, inst *orchestration.OrchestrationInstance) error {
	step, err := inst.Step(StepBusinessValidation)
	if err != nil {
		return err
	}
	if step.Lifecycle().TerminationState() != orchestration.StepFailed {
		return nil
	}

	var outcome validationOutcome
	if err := step.CustomState().Unmarshal(&outcome); err != nil {
		return fmt.Errorf("instance %s: read cached validation outcome: %w", inst.ID(), err)
	}
	req, err := decodeRequest(inst.Parameter())
	if err != nil {
		return err
	}
	return h.enqueueReject(ctx, inst.ID(), req.SentBy, req.TransactionID, outcome)
}

func (h *StartHandler) enqueueReject(ctx context.Context, id uuid.UUID, sentBy orchestration.Identity, transactionID string, outcome validationOutcome) error {
	payload, err := json.Marshal(rejectPayload{
		TransactionID: transactionID,
		Errors:        outcome.Errors,
	})
	if err != nil {
		return fmt.Errorf("encode reject payload: %w", err)
	}

	return h.cfg.Outbox.Enqueue(ctx, outbox.Message{
		Kind:           outbox.KindRejectMessage,
		InstanceID:     id,
		CreatedBy:      sentBy,
		IdempotencyKey: orchestration.IdempotencyKey(outcome.RejectMessageKey),
		Payload:        payload,
		EnqueuedAt:     h.cfg.Clock.Now(),
	})
}

func (h *StartHandler) commit(ctx context.Context, uow persistence.UnitOfWork, inst *orchestration.OrchestrationInstance) error {
	err := uow.Commit(ctx)
	if errors.Is(err, persistence.ErrConcurrency) {
		h.cfg.Observer.OnCommitConflict(ctx, inst.ID().String(), err)
	}
	return err
}

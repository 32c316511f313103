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
	"github.com/gridmesh/procman/pkg/receivers"
)

// ProgressHandler advances an instance when the measurements core
// confirms it has stored the forwarded data.
type ProgressHandler struct {
	cfg Config
}

// NewProgressHandler creates a ProgressHandler.
func NewProgressHandler(cfg Config) *ProgressHandler {
	return &ProgressHandler{cfg: cfg.withDefaults()}
}

// Progress terminates the forward step and runs receiver resolution,
// enqueueing one actor message per receiver segment.
//
// Progress is a no-op on a terminated instance: a duplicate or late
// notification changes nothing. Receivers are recomputed from the
// stored request on every call; the minted message keys are committed
// before any message is enqueued, so a call that loses the commit race
// leaves nothing in the outbox and its retry re-reads the winner's
// keys instead of minting new ones.
func (h *ProgressHandler) Progress(ctx context.Context, id uuid.UUID) error {
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

	forward, err := inst.Step(StepForwardToMeasurements)
	if err != nil {
		return err
	}
	switch forward.Lifecycle().State() {
	case orchestration.StepRunning:
		if err := forward.Lifecycle().TransitionToSucceeded(h.cfg.Clock); err != nil {
			return err
		}
		h.cfg.Observer.OnStepTerminated(ctx, inst, StepForwardToMeasurements,
			orchestration.StepSucceeded, stepDuration(forward))
	case orchestration.StepTerminated:
		// Already confirmed by an earlier notification - but only if the
		// step actually forwarded. A skipped or failed forward step means
		// this instance sent nothing to measurements; the notification is
		// stray and must not distribute the data.
		if ts := forward.Lifecycle().TerminationState(); ts != orchestration.StepSucceeded {
			return fmt.Errorf("instance %s: forward step ended %s, notification does not apply", id, ts)
		}
	default:
		return fmt.Errorf("instance %s: forward step is %s, nothing to confirm", id, forward.Lifecycle().State())
	}

	step, err := inst.Step(StepEnqueueActorMessages)
	if err != nil {
		return err
	}
	if step.Lifecycle().IsTerminated() {
		return fmt.Errorf("instance %s: enqueue step ended %s, nothing to enqueue",
			id, step.Lifecycle().TerminationState())
	}
	if step.Lifecycle().State() == orchestration.StepPending {
		if err := step.Lifecycle().TransitionToRunning(h.cfg.Clock); err != nil {
			return err
		}
		h.cfg.Observer.OnStepStarted(ctx, inst, StepEnqueueActorMessages)
	}

	req, segments, err := h.resolveSegments(ctx, inst)
	if err != nil {
		return err
	}
	keys, err := h.messageKeys(step, len(segments))
	if err != nil {
		return err
	}

	// The keys must be durable before any message leaves the process;
	// otherwise a lost commit race discards them and the retry mints
	// fresh ones, defeating the outbox dedup.
	if err := uow.Commit(ctx); err != nil {
		if errors.Is(err, persistence.ErrConcurrency) {
			h.cfg.Observer.OnCommitConflict(ctx, id.String(), err)
		}
		return err
	}

	return h.enqueueSegments(ctx, inst, req, segments, keys)
}

// resolveSegments recomputes the receiver segments from the stored
// request. Pure in the master data, so a retry gets the same segments.
func (h *ProgressHandler) resolveSegments(ctx context.Context, inst *orchestration.OrchestrationInstance) (ForwardMeteredDataRequest, []receivers.Segment, error) {
	req, err := decodeRequest(inst.Parameter())
	if err != nil {
		return ForwardMeteredDataRequest{}, nil, err
	}

	masterData, err := h.cfg.MasterData.GetMasterData(ctx, req.MeteringPointID, req.Period)
	if err != nil {
		return ForwardMeteredDataRequest{}, nil, fmt.Errorf("instance %s: master data lookup: %w", inst.ID(), err)
	}

	segments, err := h.cfg.Receivers.Segments(receivers.Input{
		Interval:   req.Period,
		Resolution: req.Resolution,
		MasterData: masterData,
		Values:     req.Values,
	})
	if err != nil {
		return ForwardMeteredDataRequest{}, nil, fmt.Errorf("instance %s: resolve receivers: %w", inst.ID(), err)
	}
	return req, segments, nil
}

func (h *ProgressHandler) enqueueSegments(ctx context.Context, inst *orchestration.OrchestrationInstance, req ForwardMeteredDataRequest, segments []receivers.Segment, keys []string) error {
	for i, seg := range segments {
		payload, err := json.Marshal(segmentPayload{
			TransactionID:   req.TransactionID,
			MeteringPointID: req.MeteringPointID,
			Resolution:      req.Resolution,
			Interval:        seg.Interval,
			GridAreaCode:    seg.GridAreaCode,
			Recipients:      seg.Recipients,
			Values:          seg.Values,
		})
		if err != nil {
			return fmt.Errorf("encode segment payload: %w", err)
		}
		err = h.cfg.Outbox.Enqueue(ctx, outbox.Message{
			Kind:           outbox.KindEnqueueActorMessages,
			InstanceID:     inst.ID(),
			CreatedBy:      req.SentBy,
			IdempotencyKey: orchestration.IdempotencyKey(keys[i]),
			Payload:        payload,
			EnqueuedAt:     h.cfg.Clock.Now(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// messageKeys returns the per-segment idempotency keys, minting and
// caching them on the first pass.
func (h *ProgressHandler) messageKeys(step *orchestration.StepInstance, n int) ([]string, error) {
	if !step.CustomState().IsZero() {
		var cached enqueueState
		if err := step.CustomState().Unmarshal(&cached); err != nil {
			return nil, fmt.Errorf("read cached message keys: %w", err)
		}
		if len(cached.MessageKeys) == n {
			return cached.MessageKeys, nil
		}
		// Segment count changed between retries; fall through and remint.
	}

	keys := make([]string, n)
	for i := range keys {
		keys[i] = fmt.Sprintf("segment-%d-%s", i+1, uuid.NewString())
	}
	state, err := orchestration.NewCustomState(enqueueStateSchema, enqueueState{MessageKeys: keys})
	if err != nil {
		return nil, err
	}
	step.SetCustomState(state)
	return keys, nil
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/internal/blob"
	"github.com/gridmesh/procman/internal/outbox"
	"github.com/gridmesh/procman/internal/persistence"
	"github.com/gridmesh/procman/pkg/measurements"
	"github.com/gridmesh/procman/pkg/orchestration"
	"github.com/gridmesh/procman/pkg/receivers"
	"github.com/gridmesh/procman/pkg/validation"
)

// PayloadCategory is the blob-store category for send-measurements
// payloads.
const PayloadCategory = "send-measurements"

// SendMeasurementsHandler runs the milestone-based variant of the
// forward-metered-data process. It covers the same business path as the
// step-machine handlers with a lighter aggregate, for the high-volume
// process family.
type SendMeasurementsHandler struct {
	cfg Config
}

// NewSendMeasurementsHandler creates a SendMeasurementsHandler.
func NewSendMeasurementsHandler(cfg Config) *SendMeasurementsHandler {
	return &SendMeasurementsHandler{cfg: cfg.withDefaults()}
}

// Start handles one inbound request on the milestone path.
//
// Idempotency works on the hashed key: a non-terminated instance
// holding the hash is returned untouched. The raw payload is uploaded
// to the file store before the instance is created, so the aggregate
// only ever carries a reference.
func (h *SendMeasurementsHandler) Start(ctx context.Context, req ForwardMeteredDataRequest) (*measurements.Instance, error) {
	hash := measurements.HashIdempotencyKey(req.IdempotencyKey)

	existing, err := h.cfg.Measurements.GetByIdempotencyKeyHash(ctx, hash)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request payload: %w", err)
	}
	ref := blob.Reference{
		Category: PayloadCategory,
		Path:     string(req.SentBy.Number) + "/" + req.TransactionID + ".json",
	}
	if err := h.cfg.Files.Upload(ctx, ref, payload); err != nil {
		return nil, fmt.Errorf("upload payload: %w", err)
	}

	inst, err := measurements.NewInstance(h.cfg.Clock, req.SentBy, req.IdempotencyKey,
		req.TransactionID, req.MeteringPointID,
		measurements.PayloadReference{Category: ref.Category, Path: ref.Path})
	if err != nil {
		return nil, err
	}

	masterData, err := h.cfg.MasterData.GetMasterData(ctx, req.MeteringPointID, req.Period)
	if err != nil {
		return nil, fmt.Errorf("master data lookup: %w", err)
	}
	verrs := h.cfg.Validator.Validate(validation.Input{
		MeteringPointID: req.MeteringPointID,
		Period:          req.Period,
		Resolution:      req.Resolution,
		Values:          req.Values,
		MasterData:      masterData,
	})

	if err := inst.MarkBusinessValidated(h.cfg.Clock, len(verrs) > 0); err != nil {
		return nil, err
	}

	if len(verrs) > 0 {
		if err := inst.MarkTerminated(h.cfg.Clock); err != nil {
			return nil, err
		}
	} else if err := inst.MarkSentToMeasurements(h.cfg.Clock); err != nil {
		return nil, err
	}

	if err := h.cfg.Measurements.Add(ctx, inst); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			// Lost a start race; the winner's instance is the result, and
			// the winner sends any reject under its own key.
			return h.cfg.Measurements.GetByIdempotencyKeyHash(ctx, hash)
		}
		return nil, err
	}

	// The reject goes out only once the aggregate is durable; a lost
	// start race above would otherwise leak a message keyed by an
	// instance id that never existed.
	if len(verrs) > 0 {
		rejectBody, err := json.Marshal(rejectPayload{
			TransactionID: req.TransactionID,
			Errors:        verrs,
		})
		if err != nil {
			return nil, fmt.Errorf("encode reject payload: %w", err)
		}
		err = h.cfg.Outbox.Enqueue(ctx, outbox.Message{
			Kind:           outbox.KindRejectMessage,
			InstanceID:     inst.ID(),
			CreatedBy:      req.SentBy,
			IdempotencyKey: orchestration.IdempotencyKey("reject-" + inst.ID().String()),
			Payload:        rejectBody,
			EnqueuedAt:     h.cfg.Clock.Now(),
		})
		if err != nil {
			return nil, err
		}
	}
	return inst, nil
}

// Confirm advances an instance when the measurements core confirms
// storage: it resolves receivers from the stored payload, enqueues the
// actor messages and closes the instance.
//
// Confirm is a no-op on a terminated instance. Message keys are
// deterministic per (instance, segment), so a retried Confirm enqueues
// nothing twice.
func (h *SendMeasurementsHandler) Confirm(ctx context.Context, id uuid.UUID) error {
	inst, err := h.cfg.Measurements.Get(ctx, id)
	if err != nil {
		return err
	}
	if inst.IsTerminated() {
		return nil
	}
	if !inst.SentToMeasurements().Done {
		return fmt.Errorf("instance %s has not been sent to measurements", id)
	}

	if !inst.ReceivedFromMeasurements().Done {
		if err := inst.MarkReceivedFromMeasurements(h.cfg.Clock); err != nil {
			return err
		}
	}

	if !inst.SentToEnqueue().Done {
		if err := h.enqueueActorMessages(ctx, inst); err != nil {
			return err
		}
		if err := inst.MarkSentToEnqueue(h.cfg.Clock); err != nil {
			return err
		}
	}

	if err := inst.MarkTerminated(h.cfg.Clock); err != nil {
		return err
	}

	err = h.cfg.Measurements.Save(ctx, inst)
	if errors.Is(err, persistence.ErrConcurrency) {
		h.cfg.Observer.OnCommitConflict(ctx, id.String(), err)
	}
	return err
}

func (h *SendMeasurementsHandler) enqueueActorMessages(ctx context.Context, inst *measurements.Instance) error {
	payloadRef := inst.Payload()
	data, err := h.cfg.Files.Download(ctx, blob.Reference{
		Category: payloadRef.Category,
		Path:     payloadRef.Path,
	})
	if err != nil {
		return fmt.Errorf("download payload: %w", err)
	}
	req, err := decodeRequest(data)
	if err != nil {
		return err
	}

	masterData, err := h.cfg.MasterData.GetMasterData(ctx, req.MeteringPointID, req.Period)
	if err != nil {
		return fmt.Errorf("master data lookup: %w", err)
	}
	segments, err := h.cfg.Receivers.Segments(receivers.Input{
		Interval:   req.Period,
		Resolution: req.Resolution,
		MasterData: masterData,
		Values:     req.Values,
	})
	if err != nil {
		return fmt.Errorf("resolve receivers: %w", err)
	}

	for i, seg := range segments {
		body, err := json.Marshal(segmentPayload{
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
			IdempotencyKey: orchestration.IdempotencyKey(fmt.Sprintf("segment-%d", i+1)),
			Payload:        body,
			EnqueuedAt:     h.cfg.Clock.Now(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Starter is the front door for new forward-metered-data requests. A
// feature flag routes each start to the milestone aggregate or the
// generic step machine, which lets the two coexist during migration.
type Starter struct {
	flags      FeatureFlags
	steps      *StartHandler
	milestones *SendMeasurementsHandler
}

// NewStarter creates a Starter over both start paths.
func NewStarter(cfg Config) *Starter {
	cfg = cfg.withDefaults()
	return &Starter{
		flags:      cfg.Flags,
		steps:      NewStartHandler(cfg),
		milestones: NewSendMeasurementsHandler(cfg),
	}
}

// StartResult reports which path a start took and the resulting
// aggregate's id.
type StartResult struct {
	InstanceID uuid.UUID
	Milestone  bool
}

// Start routes the request per the milestone feature flag.
func (s *Starter) Start(ctx context.Context, req ForwardMeteredDataRequest) (StartResult, error) {
	if s.flags.IsEnabled(ctx, FlagUseMilestoneInstances) {
		inst, err := s.milestones.Start(ctx, req)
		if err != nil {
			return StartResult{}, err
		}
		return StartResult{InstanceID: inst.ID(), Milestone: true}, nil
	}

	inst, err := s.steps.Start(ctx, req)
	if err != nil {
		return StartResult{}, err
	}
	return StartResult{InstanceID: inst.ID()}, nil
}

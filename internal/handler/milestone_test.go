package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/procman/internal/blob"
	"github.com/gridmesh/procman/internal/outbox"
	"github.com/gridmesh/procman/internal/persistence"
	"github.com/gridmesh/procman/pkg/measurements"
)

// failingMeasurementsStore fails the next Add, then behaves normally.
type failingMeasurementsStore struct {
	persistence.MeasurementsStore
	addErr error
}

func (s *failingMeasurementsStore) Add(ctx context.Context, inst *measurements.Instance) error {
	if s.addErr != nil {
		err := s.addErr
		s.addErr = nil
		return err
	}
	return s.MeasurementsStore.Add(ctx, inst)
}

func TestSendMeasurements_StartForwardPath(t *testing.T) {
	f := newFixture(t)
	h := NewSendMeasurementsHandler(f.cfg)
	ctx := context.Background()

	req := validRequest("key-1")
	inst, err := h.Start(ctx, req)
	require.NoError(t, err)

	assert.True(t, inst.BusinessValidated().Done)
	assert.False(t, inst.ValidationFailed())
	assert.True(t, inst.SentToMeasurements().Done)
	assert.False(t, inst.IsTerminated())
	assert.Equal(t, 0, f.queue.Len())

	// The raw payload lives in the file store, referenced from the
	// aggregate.
	ref := inst.Payload()
	data, err := f.files.Download(ctx, blob.Reference{Category: ref.Category, Path: ref.Path})
	require.NoError(t, err)
	assert.Contains(t, string(data), req.TransactionID)

	stored, err := f.mstore.Get(ctx, inst.ID())
	require.NoError(t, err)
	assert.Equal(t, inst.ID(), stored.ID())
}

func TestSendMeasurements_StartIsIdempotentOnKey(t *testing.T) {
	f := newFixture(t)
	h := NewSendMeasurementsHandler(f.cfg)
	ctx := context.Background()

	first, err := h.Start(ctx, validRequest("key-1"))
	require.NoError(t, err)
	second, err := h.Start(ctx, validRequest("key-1"))
	require.NoError(t, err)

	assert.Equal(t, first.ID(), second.ID())
}

func TestSendMeasurements_StartRejectPath(t *testing.T) {
	f := newFixture(t)
	h := NewSendMeasurementsHandler(f.cfg)
	ctx := context.Background()

	inst, err := h.Start(ctx, invalidRequest("key-1"))
	require.NoError(t, err)

	assert.True(t, inst.BusinessValidated().Done)
	assert.True(t, inst.ValidationFailed())
	assert.True(t, inst.IsTerminated())

	msgs := drain(t, f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.KindRejectMessage, msgs[0].Kind)
	assert.Contains(t, string(msgs[0].Payload), "E10")

	// A terminated occurrence does not block a restart under the key.
	again, err := h.Start(ctx, invalidRequest("key-1"))
	require.NoError(t, err)
	assert.NotEqual(t, inst.ID(), again.ID())
}

func TestSendMeasurements_RejectNotSentOnFailedAdd(t *testing.T) {
	f := newFixture(t)
	broken := &failingMeasurementsStore{
		MeasurementsStore: f.mstore,
		addErr:            errors.New("store offline"),
	}
	cfg := f.cfg
	cfg.Measurements = broken
	h := NewSendMeasurementsHandler(cfg)
	ctx := context.Background()

	// The insert fails, so no reject may leave the process: its key
	// names an aggregate that never made it to the store.
	_, err := h.Start(ctx, invalidRequest("key-1"))
	require.Error(t, err)
	assert.Equal(t, 0, f.queue.Len())

	// The retry creates the aggregate and sends exactly one reject.
	inst, err := h.Start(ctx, invalidRequest("key-1"))
	require.NoError(t, err)
	msgs := drain(t, f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.KindRejectMessage, msgs[0].Kind)
	assert.Equal(t, inst.ID(), msgs[0].InstanceID)
}

func TestSendMeasurements_Confirm(t *testing.T) {
	f := newFixture(t)
	h := NewSendMeasurementsHandler(f.cfg)
	ctx := context.Background()

	inst, err := h.Start(ctx, validRequest("key-1"))
	require.NoError(t, err)

	require.NoError(t, h.Confirm(ctx, inst.ID()))

	msgs := drain(t, f.queue)
	require.Len(t, msgs, 1)
	assert.Equal(t, outbox.KindEnqueueActorMessages, msgs[0].Kind)
	assert.Contains(t, string(msgs[0].Payload), string(testSupplier))

	final, err := f.mstore.Get(ctx, inst.ID())
	require.NoError(t, err)
	assert.True(t, final.ReceivedFromMeasurements().Done)
	assert.True(t, final.SentToEnqueue().Done)
	assert.True(t, final.IsTerminated())

	// A duplicate confirmation is a no-op.
	require.NoError(t, h.Confirm(ctx, inst.ID()))
	assert.Equal(t, 0, f.queue.Len())
}

func TestStarter_RoutesOnFeatureFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.cfg.Flags = StaticFlags{FlagUseMilestoneInstances: true}
	milestone := NewStarter(f.cfg)
	res, err := milestone.Start(ctx, validRequest("key-1"))
	require.NoError(t, err)
	assert.True(t, res.Milestone)
	_, err = f.mstore.Get(ctx, res.InstanceID)
	require.NoError(t, err)

	f.cfg.Flags = StaticFlags{}
	steps := NewStarter(f.cfg)
	res, err = steps.Start(ctx, validRequest("key-2"))
	require.NoError(t, err)
	assert.False(t, res.Milestone)

	uow, err := f.store.Begin(ctx)
	require.NoError(t, err)
	_, err = uow.Get(ctx, res.InstanceID)
	require.NoError(t, err)
}

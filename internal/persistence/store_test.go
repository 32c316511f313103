package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/gridmesh/procman/pkg/orchestration"
)

var testIdentity = orchestration.Identity{
	Number: "5790001330552",
	Role:   orchestration.RoleEnergySupplier,
}

func newTestClock() *orchestration.FakeClock {
	return orchestration.NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
}

func newTestSQLiteStore(t *testing.T) Store {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	// In-memory SQLite gives every pooled connection its own database.
	db.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return store
}

// forEachStore runs the same behavior test against every Store
// implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newTestSQLiteStore(t))
	})
}

func addTestDescription(t *testing.T, store Store, canBeScheduled bool) *orchestration.OrchestrationDescription {
	t.Helper()

	desc, err := orchestration.NewDescription("Brs021ForwardMeteredData", 1, canBeScheduled,
		"BusinessValidation", "ForwardToMeasurements", "EnqueueActorMessages")
	require.NoError(t, err)
	require.NoError(t, store.AddDescription(context.Background(), desc))
	return desc
}

func newStoredInstance(t *testing.T, clock orchestration.Clock, desc *orchestration.OrchestrationDescription, key string) *orchestration.OrchestrationInstance {
	t.Helper()

	inst, err := orchestration.NewInstance(clock, desc, orchestration.InstanceSpec{
		CreatedBy:       testIdentity,
		IdempotencyKey:  orchestration.IdempotencyKey(key),
		Parameter:       []byte(`{"transactionId":"txn-1"}`),
		ActorMessageID:  "msg-1",
		TransactionID:   "txn-1",
		MeteringPointID: "571313180400090019",
	})
	require.NoError(t, err)
	return inst
}

func commitInstance(t *testing.T, store Store, inst *orchestration.OrchestrationInstance) {
	t.Helper()

	ctx := context.Background()
	uow, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Add(ctx, inst))
	require.NoError(t, uow.Commit(ctx))
}

func TestStore_DescriptionRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		desc := addTestDescription(t, store, false)

		got, err := store.GetDescription(ctx, desc.ID)
		require.NoError(t, err)
		assert.Equal(t, desc.Name, got.Name)
		assert.Equal(t, desc.Steps, got.Steps)
		assert.True(t, got.IsEnabled)

		byName, err := store.GetDescriptionByName(ctx, desc.Name, desc.Version)
		require.NoError(t, err)
		assert.Equal(t, desc.ID, byName.ID)

		_, err = store.GetDescriptionByName(ctx, desc.Name, 2)
		require.ErrorIs(t, err, ErrDescriptionNotFound)

		// Same (name, version) cannot be registered twice.
		dup, err := orchestration.NewDescription(desc.Name, desc.Version, false, "OnlyStep")
		require.NoError(t, err)
		require.ErrorIs(t, store.AddDescription(ctx, dup), ErrDuplicate)

		require.NoError(t, store.SetDescriptionEnabled(ctx, desc.ID, false))
		got, err = store.GetDescription(ctx, desc.ID)
		require.NoError(t, err)
		assert.False(t, got.IsEnabled)
	})
}

func TestStore_AddAndGetInstance(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)

		inst := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, inst)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		got, err := uow.Get(ctx, inst.ID())
		require.NoError(t, err)

		assert.Equal(t, inst.ID(), got.ID())
		assert.Equal(t, desc.ID, got.DescriptionID())
		assert.Equal(t, inst.IdempotencyKey(), got.IdempotencyKey())
		assert.Equal(t, inst.Parameter(), got.Parameter())
		assert.Equal(t, "msg-1", got.ActorMessageID())
		assert.Equal(t, "571313180400090019", got.MeteringPointID())
		assert.Equal(t, orchestration.StatePending, got.Lifecycle().State())
		assert.Equal(t, int64(1), got.RowVersion())

		require.Len(t, got.Steps(), 3)
		step, err := got.Step(2)
		require.NoError(t, err)
		assert.Equal(t, "ForwardToMeasurements", step.Description())
		assert.Equal(t, orchestration.StepPending, step.Lifecycle().State())

		_, err = uow.Get(ctx, uuid.New())
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GetWithinUnitOfWorkReturnsSameAggregate(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)
		inst := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, inst)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)

		a, err := uow.Get(ctx, inst.ID())
		require.NoError(t, err)
		b, err := uow.Get(ctx, inst.ID())
		require.NoError(t, err)
		c, err := uow.GetByIdempotencyKey(ctx, inst.IdempotencyKey())
		require.NoError(t, err)

		// Identity-map semantics: one aggregate per id per unit of work.
		assert.Same(t, a, b)
		assert.Same(t, a, c)
	})
}

func TestStore_TransitionRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)
		inst := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, inst)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		got, err := uow.Get(ctx, inst.ID())
		require.NoError(t, err)

		clock.Advance(time.Second)
		require.NoError(t, got.Lifecycle().TransitionToQueued(clock))
		clock.Advance(time.Second)
		require.NoError(t, got.Lifecycle().TransitionToRunning(clock))

		step, err := got.Step(1)
		require.NoError(t, err)
		require.NoError(t, step.Lifecycle().TransitionToRunning(clock))
		clock.Advance(time.Second)
		require.NoError(t, step.Lifecycle().TransitionToSucceeded(clock))
		step.SetCustomState(orchestration.CustomState{SchemaVersion: 1, Data: []byte(`{"cached":true}`)})

		require.NoError(t, uow.Commit(ctx))

		uow2, err := store.Begin(ctx)
		require.NoError(t, err)
		reread, err := uow2.Get(ctx, inst.ID())
		require.NoError(t, err)

		assert.Equal(t, orchestration.StateRunning, reread.Lifecycle().State())
		assert.Equal(t, got.Lifecycle().StartedAt(), reread.Lifecycle().StartedAt())
		assert.Equal(t, int64(2), reread.RowVersion())

		rereadStep, err := reread.Step(1)
		require.NoError(t, err)
		assert.Equal(t, orchestration.StepTerminated, rereadStep.Lifecycle().State())
		assert.Equal(t, orchestration.StepSucceeded, rereadStep.Lifecycle().TerminationState())
		assert.Equal(t, 1, rereadStep.CustomState().SchemaVersion)
		assert.JSONEq(t, `{"cached":true}`, string(rereadStep.CustomState().Data))
	})
}

func TestStore_CommitConflict(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)
		inst := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, inst)

		uowA, err := store.Begin(ctx)
		require.NoError(t, err)
		a, err := uowA.Get(ctx, inst.ID())
		require.NoError(t, err)

		uowB, err := store.Begin(ctx)
		require.NoError(t, err)
		b, err := uowB.Get(ctx, inst.ID())
		require.NoError(t, err)

		require.NoError(t, a.Lifecycle().TransitionToQueued(clock))
		require.NoError(t, b.Lifecycle().TransitionToQueued(clock))

		require.NoError(t, uowA.Commit(ctx))

		err = uowB.Commit(ctx)
		require.ErrorIs(t, err, ErrConcurrency)
	})
}

func TestStore_CommitSkipsUnchangedAggregates(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)
		inst := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, inst)

		// A read-only unit of work commits cleanly and writes nothing.
		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = uow.Get(ctx, inst.ID())
		require.NoError(t, err)
		require.NoError(t, uow.Commit(ctx))

		uow2, err := store.Begin(ctx)
		require.NoError(t, err)
		got, err := uow2.Get(ctx, inst.ID())
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.RowVersion())
	})
}

func TestStore_UnitOfWorkIsSingleUse(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()

		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, uow.Commit(ctx))
		require.Error(t, uow.Commit(ctx))

		uow2, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, uow2.Rollback())
		require.Error(t, uow2.Commit(ctx))
	})
}

func TestStore_GetByIdempotencyKeyPrefersActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)

		// First occurrence runs to termination.
		first := newStoredInstance(t, clock, desc, "key-1")
		require.NoError(t, first.Lifecycle().TransitionToQueued(clock))
		require.NoError(t, first.Lifecycle().TransitionToRunning(clock))
		require.NoError(t, first.Lifecycle().TransitionToSucceeded(clock))
		commitInstance(t, store, first)

		clock.Advance(time.Minute)
		second := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, second)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		got, err := uow.GetByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, second.ID(), got.ID())

		_, err = uow.GetByIdempotencyKey(ctx, "unknown-key")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_GetByIdempotencyKeyFallsBackToNewestTerminated(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)

		terminate := func(inst *orchestration.OrchestrationInstance) {
			require.NoError(t, inst.Lifecycle().TransitionToQueued(clock))
			require.NoError(t, inst.Lifecycle().TransitionToRunning(clock))
			require.NoError(t, inst.Lifecycle().TransitionToSucceeded(clock))
		}

		first := newStoredInstance(t, clock, desc, "key-1")
		terminate(first)
		commitInstance(t, store, first)

		clock.Advance(time.Minute)
		second := newStoredInstance(t, clock, desc, "key-1")
		terminate(second)
		commitInstance(t, store, second)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		got, err := uow.GetByIdempotencyKey(ctx, "key-1")
		require.NoError(t, err)
		assert.Equal(t, second.ID(), got.ID())
	})
}

func TestStore_RejectsSecondActiveInstanceWithSameKey(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)

		first := newStoredInstance(t, clock, desc, "key-1")
		commitInstance(t, store, first)

		second := newStoredInstance(t, clock, desc, "key-1")
		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, uow.Add(ctx, second))
		err = uow.Commit(ctx)
		require.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestStore_FindScheduled(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, true)
		now := clock.Now()

		newScheduled := func(key string, runAt time.Time) *orchestration.OrchestrationInstance {
			inst, err := orchestration.NewInstance(clock, desc, orchestration.InstanceSpec{
				CreatedBy:        testIdentity,
				IdempotencyKey:   orchestration.IdempotencyKey(key),
				Parameter:        []byte(`{}`),
				ScheduledToRunAt: runAt,
			})
			require.NoError(t, err)
			return inst
		}

		early := newScheduled("key-early", now.Add(time.Hour))
		late := newScheduled("key-late", now.Add(3*time.Hour))
		unscheduled := newStoredInstance(t, clock, desc, "key-unscheduled")
		commitInstance(t, store, early)
		commitInstance(t, store, late)
		commitInstance(t, store, unscheduled)

		// A scheduled instance already past Pending is not picked up again.
		queued := newScheduled("key-queued", now.Add(time.Hour))
		require.NoError(t, queued.Lifecycle().TransitionToQueued(clock))
		commitInstance(t, store, queued)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)
		due, err := uow.FindScheduled(ctx, now.Add(2*time.Hour))
		require.NoError(t, err)

		require.Len(t, due, 1)
		assert.Equal(t, early.ID(), due[0].ID())

		// Results are tracked: transition and commit in this unit of work.
		require.NoError(t, due[0].Lifecycle().TransitionToQueued(clock))
		require.NoError(t, uow.Commit(ctx))

		uow2, err := store.Begin(ctx)
		require.NoError(t, err)
		reread, err := uow2.Get(ctx, early.ID())
		require.NoError(t, err)
		assert.Equal(t, orchestration.StateQueued, reread.Lifecycle().State())
	})
}

func TestStore_Search(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		desc := addTestDescription(t, store, false)

		other, err := orchestration.NewDescription("Brs023SendMissingData", 1, false, "OnlyStep")
		require.NoError(t, err)
		require.NoError(t, store.AddDescription(ctx, other))

		running := newStoredInstance(t, clock, desc, "key-running")
		require.NoError(t, running.Lifecycle().TransitionToQueued(clock))
		clock.Advance(time.Minute)
		require.NoError(t, running.Lifecycle().TransitionToRunning(clock))
		commitInstance(t, store, running)

		failed := newStoredInstance(t, clock, desc, "key-failed")
		require.NoError(t, failed.Lifecycle().TransitionToQueued(clock))
		require.NoError(t, failed.Lifecycle().TransitionToRunning(clock))
		clock.Advance(time.Minute)
		require.NoError(t, failed.Lifecycle().TransitionToFailed(clock))
		commitInstance(t, store, failed)

		otherInst, err := orchestration.NewInstance(clock, other, orchestration.InstanceSpec{
			CreatedBy:      testIdentity,
			IdempotencyKey: "key-other",
			Parameter:      []byte(`{}`),
		})
		require.NoError(t, err)
		commitInstance(t, store, otherInst)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)

		byName, err := uow.Search(ctx, Filter{Name: desc.Name})
		require.NoError(t, err)
		assert.Len(t, byName, 2)

		byState, err := uow.Search(ctx, Filter{Name: desc.Name, State: orchestration.StateRunning})
		require.NoError(t, err)
		require.Len(t, byState, 1)
		assert.Equal(t, running.ID(), byState[0].ID())

		byTermination, err := uow.Search(ctx, Filter{TerminationState: orchestration.TerminationFailed})
		require.NoError(t, err)
		require.Len(t, byTermination, 1)
		assert.Equal(t, failed.ID(), byTermination[0].ID())

		byTerminatedAt, err := uow.Search(ctx, Filter{
			TerminatedAfter: failed.Lifecycle().TerminatedAt().Add(time.Second),
		})
		require.NoError(t, err)
		assert.Empty(t, byTerminatedAt)

		all, err := uow.Search(ctx, Filter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestStore_SearchByActivationWindow(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		clock := newTestClock()
		now := clock.Now()
		desc := addTestDescription(t, store, true)

		scheduled, err := orchestration.NewInstance(clock, desc, orchestration.InstanceSpec{
			CreatedBy:        testIdentity,
			IdempotencyKey:   "key-scheduled",
			Parameter:        []byte(`{}`),
			ScheduledToRunAt: now.Add(4 * time.Hour),
		})
		require.NoError(t, err)
		commitInstance(t, store, scheduled)

		clock.Advance(time.Hour)
		queued := newStoredInstance(t, clock, desc, "key-queued")
		require.NoError(t, queued.Lifecycle().TransitionToQueued(clock))
		commitInstance(t, store, queued)

		uow, err := store.Begin(ctx)
		require.NoError(t, err)

		// The scheduled instance activates at its scheduled instant, the
		// queued one at its queueing instant.
		early, err := uow.Search(ctx, Filter{
			ActivatedAfter:  now,
			ActivatedBefore: now.Add(2 * time.Hour),
		})
		require.NoError(t, err)
		require.Len(t, early, 1)
		assert.Equal(t, queued.ID(), early[0].ID())

		lateWindow, err := uow.Search(ctx, Filter{ActivatedAfter: now.Add(3 * time.Hour)})
		require.NoError(t, err)
		require.Len(t, lateWindow, 1)
		assert.Equal(t, scheduled.ID(), lateWindow[0].ID())
	})
}

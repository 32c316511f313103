package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuditStore(t *testing.T) *SQLiteAuditStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteAuditStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteAuditStore failed: %v", err)
	}
	return store
}

func TestAuditStore_AppendAndList(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	clock := newTestClock()

	events := []AuditEvent{
		{InstanceID: "inst-1", At: clock.Now(), Type: AuditInstanceStarted, Step: -1},
		{InstanceID: "inst-1", At: clock.Now().Add(time.Second), Type: AuditStepStarted, Step: 1},
		{InstanceID: "inst-1", At: clock.Now().Add(2 * time.Second), Type: AuditStepTerminated, Step: 1, Detail: "SUCCEEDED"},
		{InstanceID: "inst-2", At: clock.Now(), Type: AuditInstanceStarted, Step: -1},
	}
	for _, ev := range events {
		require.NoError(t, store.AppendEvent(ctx, ev))
	}

	got, err := store.ListEvents(ctx, "inst-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, AuditInstanceStarted, got[0].Type)
	assert.Equal(t, AuditStepStarted, got[1].Type)
	assert.Equal(t, 1, got[1].Step)
	assert.Equal(t, "SUCCEEDED", got[2].Detail)
	assert.True(t, got[2].At.Equal(clock.Now().Add(2*time.Second)))

	got, err = store.ListEvents(ctx, "inst-3")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestAuditObserver_RecordsLifecycle(t *testing.T) {
	store := newTestAuditStore(t)
	ctx := context.Background()
	clock := newTestClock()
	obs := NewAuditObserver(store, clock)

	memory := NewMemoryStore()
	desc := addTestDescription(t, memory, false)
	inst := newStoredInstance(t, clock, desc, "key-1")

	obs.OnInstanceStarted(ctx, inst)
	obs.OnStepStarted(ctx, inst, 1)
	obs.OnCommitConflict(ctx, inst.ID().String(), ErrConcurrency)

	got, err := store.ListEvents(ctx, inst.ID().String())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, AuditInstanceStarted, got[0].Type)
	assert.Equal(t, -1, got[0].Step)
	assert.Equal(t, AuditStepStarted, got[1].Type)
	assert.Equal(t, AuditCommitConflict, got[2].Type)
	assert.Contains(t, got[2].Detail, "another writer")
}

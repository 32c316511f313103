package procman

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/procman/pkg/orchestration"

	_ "modernc.org/sqlite"
)

func newBundle(t *testing.T) *SQLiteBundle {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	bundle, err := NewSQLiteBundle(db)
	require.NoError(t, err)
	return bundle
}

func TestSQLiteBundle_EndToEnd(t *testing.T) {
	bundle := newBundle(t)
	ctx := context.Background()

	cfg := bundle.Config(NewMemoryFileStore(), testMasterData())
	cfg.Clock = orchestration.NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	require.NoError(t, RegisterDescriptions(ctx, cfg.Store))

	inst, err := Start(ctx, cfg, testRequest("key-1"))
	require.NoError(t, err)
	require.NoError(t, Progress(ctx, cfg, inst.ID()))
	require.NoError(t, Terminate(ctx, cfg, inst.ID()))

	uow, err := bundle.Store.Begin(ctx)
	require.NoError(t, err)
	final, err := uow.Get(ctx, inst.ID())
	require.NoError(t, err)
	assert.Equal(t, TerminationSucceeded, final.Lifecycle().TerminationState())

	// One actor message went through the durable outbox.
	msg, err := bundle.Outbox.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, inst.ID(), msg.InstanceID)

	// Lifecycle events landed in the audit log.
	events, err := bundle.Audit.ListEvents(ctx, inst.ID().String())
	require.NoError(t, err)
	assert.NotEmpty(t, events)
}

package procman

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/procman/pkg/orchestration"
)

func TestRunner_SweepOnceStartsDueInstances(t *testing.T) {
	clock := orchestration.NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	cfg := testConfig(clock)
	ctx := context.Background()

	require.NoError(t, RegisterDescriptions(ctx, cfg.Store))

	req := testRequest("key-1")
	req.ScheduledToRunAt = clock.Now().Add(time.Hour)
	inst, err := Start(ctx, cfg, req)
	require.NoError(t, err)

	runner := NewRunner(cfg, time.Second)

	started, err := runner.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)

	clock.Advance(2 * time.Hour)
	started, err = runner.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, started)

	uow, err := cfg.Store.Begin(ctx)
	require.NoError(t, err)
	running, err := uow.Get(ctx, inst.ID())
	require.NoError(t, err)
	assert.Equal(t, StateRunning, running.Lifecycle().State())

	// Nothing left for the next sweep.
	started, err = runner.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, started)
}

func TestRunner_StartStop(t *testing.T) {
	clock := orchestration.NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	cfg := testConfig(clock)
	ctx := context.Background()

	require.NoError(t, RegisterDescriptions(ctx, cfg.Store))

	runner := NewRunner(cfg, 10*time.Millisecond)
	require.NoError(t, runner.Start(ctx))
	require.Error(t, runner.Start(ctx), "second start must be rejected")

	runner.Stop()
	// Stop is idempotent.
	runner.Stop()

	require.NoError(t, runner.Start(ctx))
	runner.Stop()
}

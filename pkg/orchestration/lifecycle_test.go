package orchestration

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{Number: "5790001330552", Role: RoleEnergySupplier}

func TestLifecycle_HappyPath(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	l := NewLifecycle(clock, testIdentity, time.Time{})

	require.Equal(t, StatePending, l.State())
	require.Equal(t, clock.Now(), l.CreatedAt())
	require.Equal(t, testIdentity, l.CreatedBy())

	clock.Advance(time.Minute)
	require.NoError(t, l.TransitionToQueued(clock))
	require.Equal(t, StateQueued, l.State())
	require.Equal(t, clock.Now(), l.QueuedAt())

	clock.Advance(time.Minute)
	require.NoError(t, l.TransitionToRunning(clock))
	require.Equal(t, StateRunning, l.State())
	require.Equal(t, clock.Now(), l.StartedAt())

	clock.Advance(time.Minute)
	require.NoError(t, l.TransitionToSucceeded(clock))
	require.Equal(t, StateTerminated, l.State())
	require.Equal(t, TerminationSucceeded, l.TerminationState())
	require.Equal(t, clock.Now(), l.TerminatedAt())
	require.True(t, l.IsTerminated())

	// Timestamps are monotone across the sequence.
	require.True(t, l.CreatedAt().Before(l.QueuedAt()))
	require.True(t, l.QueuedAt().Before(l.StartedAt()))
	require.True(t, l.StartedAt().Before(l.TerminatedAt()))
}

// TestLifecycle_GuardedTransitions checks every (state, transition) pair:
// a transition is permitted iff the current state is exactly its
// documented precondition, and an illegal call leaves state unchanged.
func TestLifecycle_GuardedTransitions(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	// Drive a fresh lifecycle into the wanted state.
	atState := func(t *testing.T, s InstanceState) *Lifecycle {
		t.Helper()
		l := NewLifecycle(clock, testIdentity, time.Time{})
		switch s {
		case StatePending:
		case StateQueued:
			require.NoError(t, l.TransitionToQueued(clock))
		case StateRunning:
			require.NoError(t, l.TransitionToQueued(clock))
			require.NoError(t, l.TransitionToRunning(clock))
		case StateTerminated:
			require.NoError(t, l.TransitionToQueued(clock))
			require.NoError(t, l.TransitionToRunning(clock))
			require.NoError(t, l.TransitionToSucceeded(clock))
		}
		return l
	}

	transitions := map[string]struct {
		apply   func(*Lifecycle) error
		allowed map[InstanceState]bool
	}{
		"ToQueued": {
			apply:   func(l *Lifecycle) error { return l.TransitionToQueued(clock) },
			allowed: map[InstanceState]bool{StatePending: true},
		},
		"ToRunning": {
			apply:   func(l *Lifecycle) error { return l.TransitionToRunning(clock) },
			allowed: map[InstanceState]bool{StateQueued: true},
		},
		"ToSucceeded": {
			apply:   func(l *Lifecycle) error { return l.TransitionToSucceeded(clock) },
			allowed: map[InstanceState]bool{StateRunning: true},
		},
		"ToFailed": {
			apply:   func(l *Lifecycle) error { return l.TransitionToFailed(clock) },
			allowed: map[InstanceState]bool{StateRunning: true},
		},
		"ToUserCanceled": {
			apply:   func(l *Lifecycle) error { return l.TransitionToUserCanceled(clock) },
			allowed: map[InstanceState]bool{StatePending: true, StateQueued: true},
		},
	}

	states := []InstanceState{StatePending, StateQueued, StateRunning, StateTerminated}

	for name, tr := range transitions {
		for _, from := range states {
			l := atState(t, from)
			err := tr.apply(l)
			if tr.allowed[from] {
				assert.NoError(t, err, "%s from %s should be allowed", name, from)
				continue
			}

			require.Error(t, err, "%s from %s should be rejected", name, from)
			var ite *InvalidTransitionError
			require.True(t, errors.As(err, &ite), "%s from %s: want InvalidTransitionError, got %v", name, from, err)
			assert.Equal(t, from, l.State(), "%s from %s must leave state unchanged", name, from)
		}
	}
}

func TestLifecycle_UserCanceled(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	l := NewLifecycle(clock, testIdentity, time.Time{})
	require.NoError(t, l.TransitionToQueued(clock))
	clock.Advance(time.Second)
	require.NoError(t, l.TransitionToUserCanceled(clock))

	require.Equal(t, StateTerminated, l.State())
	require.Equal(t, TerminationUserCanceled, l.TerminationState())
	require.Equal(t, clock.Now(), l.TerminatedAt())
	require.True(t, l.StartedAt().IsZero(), "a canceled instance never started")
}

func TestStepLifecycle_HappyPath(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))
	l := NewStepLifecycle(clock)

	require.Equal(t, StepPending, l.State())

	clock.Advance(time.Second)
	require.NoError(t, l.TransitionToRunning(clock))
	require.Equal(t, StepRunning, l.State())
	require.Equal(t, clock.Now(), l.StartedAt())

	clock.Advance(time.Second)
	require.NoError(t, l.TransitionToSucceeded(clock))
	require.Equal(t, StepTerminated, l.State())
	require.Equal(t, StepSucceeded, l.TerminationState())
	require.True(t, l.IsTerminated())
}

func TestStepLifecycle_SkippedOnlyFromPending(t *testing.T) {
	clock := NewFakeClock(time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC))

	// Pending -> Skipped is legal and terminal, with no startedAt.
	l := NewStepLifecycle(clock)
	require.NoError(t, l.TransitionToSkipped(clock))
	require.Equal(t, StepTerminated, l.State())
	require.Equal(t, StepSkipped, l.TerminationState())
	require.True(t, l.StartedAt().IsZero())

	// Running -> Skipped is a defect.
	l = NewStepLifecycle(clock)
	require.NoError(t, l.TransitionToRunning(clock))
	err := l.TransitionToSkipped(clock)
	var ite *InvalidTransitionError
	require.True(t, errors.As(err, &ite))
	require.Equal(t, StepRunning, l.State())

	// Terminated steps reject everything.
	l = NewStepLifecycle(clock)
	require.NoError(t, l.TransitionToRunning(clock))
	require.NoError(t, l.TransitionToFailed(clock))
	require.Error(t, l.TransitionToRunning(clock))
	require.Error(t, l.TransitionToSucceeded(clock))
	require.Error(t, l.TransitionToSkipped(clock))
	require.Equal(t, StepFailed, l.TerminationState())
}

package orchestration

import "time"

// InstanceState is the lifecycle state of an orchestration instance.
type InstanceState string

const (
	StatePending    InstanceState = "PENDING"
	StateQueued     InstanceState = "QUEUED"
	StateRunning    InstanceState = "RUNNING"
	StateTerminated InstanceState = "TERMINATED"
)

// TerminationState records how a terminated instance ended.
type TerminationState string

const (
	TerminationSucceeded    TerminationState = "SUCCEEDED"
	TerminationFailed       TerminationState = "FAILED"
	TerminationUserCanceled TerminationState = "USER_CANCELED"
)

// Lifecycle is the state machine attached to an orchestration instance.
//
// Transitions are one-directional (Pending -> Queued -> Running ->
// Terminated) and each is guarded: calling a transition method from any
// state other than its precondition returns an *InvalidTransitionError
// and leaves the lifecycle unchanged. Timestamps are stamped from the
// Clock passed to each transition, so they are monotone as long as the
// clock is.
//
// Transitions mutate in memory only; persisting the result is a separate,
// explicit commit through a unit of work.
type Lifecycle struct {
	state            InstanceState
	terminationState TerminationState

	createdBy Identity
	createdAt time.Time

	scheduledToRunAt time.Time
	queuedAt         time.Time
	startedAt        time.Time
	terminatedAt     time.Time
}

// NewLifecycle creates a lifecycle in StatePending, stamped with the
// clock's current instant. scheduledToRunAt may be zero for instances
// that run as soon as they are queued.
func NewLifecycle(clock Clock, createdBy Identity, scheduledToRunAt time.Time) *Lifecycle {
	return &Lifecycle{
		state:            StatePending,
		createdBy:        createdBy,
		createdAt:        clock.Now(),
		scheduledToRunAt: scheduledToRunAt,
	}
}

func (l *Lifecycle) State() InstanceState               { return l.state }
func (l *Lifecycle) TerminationState() TerminationState { return l.terminationState }
func (l *Lifecycle) CreatedBy() Identity                { return l.createdBy }
func (l *Lifecycle) CreatedAt() time.Time               { return l.createdAt }
func (l *Lifecycle) ScheduledToRunAt() time.Time        { return l.scheduledToRunAt }
func (l *Lifecycle) QueuedAt() time.Time                { return l.queuedAt }
func (l *Lifecycle) StartedAt() time.Time               { return l.startedAt }
func (l *Lifecycle) TerminatedAt() time.Time            { return l.terminatedAt }

// IsTerminated reports whether the instance has reached a terminal state.
func (l *Lifecycle) IsTerminated() bool { return l.state == StateTerminated }

// TransitionToQueued moves Pending -> Queued.
func (l *Lifecycle) TransitionToQueued(clock Clock) error {
	if l.state != StatePending {
		return invalidInstanceTransition(l.state, string(StateQueued))
	}
	l.state = StateQueued
	l.queuedAt = clock.Now()
	return nil
}

// TransitionToRunning moves Queued -> Running.
func (l *Lifecycle) TransitionToRunning(clock Clock) error {
	if l.state != StateQueued {
		return invalidInstanceTransition(l.state, string(StateRunning))
	}
	l.state = StateRunning
	l.startedAt = clock.Now()
	return nil
}

// TransitionToSucceeded moves Running -> Terminated(Succeeded).
func (l *Lifecycle) TransitionToSucceeded(clock Clock) error {
	return l.terminate(clock, TerminationSucceeded, StateRunning)
}

// TransitionToFailed moves Running -> Terminated(Failed).
func (l *Lifecycle) TransitionToFailed(clock Clock) error {
	return l.terminate(clock, TerminationFailed, StateRunning)
}

// TransitionToUserCanceled moves Pending or Queued -> Terminated
// (UserCanceled). An instance that has started running can no longer be
// canceled; cancellation is cooperative, not preemptive.
func (l *Lifecycle) TransitionToUserCanceled(clock Clock) error {
	if l.state != StatePending && l.state != StateQueued {
		return invalidInstanceTransition(l.state, string(TerminationUserCanceled))
	}
	l.state = StateTerminated
	l.terminationState = TerminationUserCanceled
	l.terminatedAt = clock.Now()
	return nil
}

func (l *Lifecycle) terminate(clock Clock, ts TerminationState, from InstanceState) error {
	if l.state != from {
		return invalidInstanceTransition(l.state, string(ts))
	}
	l.state = StateTerminated
	l.terminationState = ts
	l.terminatedAt = clock.Now()
	return nil
}

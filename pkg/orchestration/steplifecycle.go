package orchestration

import "time"

// StepState is the lifecycle state of a single step instance.
type StepState string

const (
	StepPending    StepState = "PENDING"
	StepRunning    StepState = "RUNNING"
	StepTerminated StepState = "TERMINATED"
)

// StepTerminationState records how a terminated step ended.
type StepTerminationState string

const (
	StepSucceeded StepTerminationState = "SUCCEEDED"
	StepFailed    StepTerminationState = "FAILED"
	StepSkipped   StepTerminationState = "SKIPPED"
)

// StepLifecycle is the state machine attached to one step of an instance.
//
// Steps move Pending -> Running -> Terminated(Succeeded|Failed). A step
// that never needed to run (for example because validation rejected the
// request before it) is terminated straight from Pending with
// StepSkipped; a skipped step carries no startedAt timestamp.
//
// Steps are independent machines. Nothing here aggregates step outcomes
// into an instance-level transition; handlers decide that.
type StepLifecycle struct {
	state            StepState
	terminationState StepTerminationState

	createdAt    time.Time
	startedAt    time.Time
	terminatedAt time.Time
}

// NewStepLifecycle creates a step lifecycle in StepPending.
func NewStepLifecycle(clock Clock) *StepLifecycle {
	return &StepLifecycle{
		state:     StepPending,
		createdAt: clock.Now(),
	}
}

func (l *StepLifecycle) State() StepState                       { return l.state }
func (l *StepLifecycle) TerminationState() StepTerminationState { return l.terminationState }
func (l *StepLifecycle) CreatedAt() time.Time                   { return l.createdAt }
func (l *StepLifecycle) StartedAt() time.Time                   { return l.startedAt }
func (l *StepLifecycle) TerminatedAt() time.Time                { return l.terminatedAt }

// IsTerminated reports whether the step has reached a terminal state.
func (l *StepLifecycle) IsTerminated() bool { return l.state == StepTerminated }

// TransitionToRunning moves Pending -> Running.
func (l *StepLifecycle) TransitionToRunning(clock Clock) error {
	if l.state != StepPending {
		return invalidStepTransition(l.state, string(StepRunning))
	}
	l.state = StepRunning
	l.startedAt = clock.Now()
	return nil
}

// TransitionToSucceeded moves Running -> Terminated(Succeeded).
func (l *StepLifecycle) TransitionToSucceeded(clock Clock) error {
	return l.terminate(clock, StepSucceeded)
}

// TransitionToFailed moves Running -> Terminated(Failed).
func (l *StepLifecycle) TransitionToFailed(clock Clock) error {
	return l.terminate(clock, StepFailed)
}

// TransitionToSkipped moves Pending -> Terminated(Skipped). Skipping a
// step that has already started is a defect.
func (l *StepLifecycle) TransitionToSkipped(clock Clock) error {
	if l.state != StepPending {
		return invalidStepTransition(l.state, string(StepSkipped))
	}
	l.state = StepTerminated
	l.terminationState = StepSkipped
	l.terminatedAt = clock.Now()
	return nil
}

func (l *StepLifecycle) terminate(clock Clock, ts StepTerminationState) error {
	if l.state != StepRunning {
		return invalidStepTransition(l.state, string(ts))
	}
	l.state = StepTerminated
	l.terminationState = ts
	l.terminatedAt = clock.Now()
	return nil
}

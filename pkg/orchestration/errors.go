package orchestration

import "fmt"

// InvalidTransitionError reports a lifecycle transition attempted from a
// state that does not permit it. It always indicates a defect in the
// caller (or corrupted data), never a condition worth retrying; handlers
// propagate it so the host can log and alert.
type InvalidTransitionError struct {
	Aggregate string // "instance" or "step"
	From      string
	To        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition: %s -> %s", e.Aggregate, e.From, e.To)
}

func invalidInstanceTransition(from InstanceState, to string) error {
	return &InvalidTransitionError{Aggregate: "instance", From: string(from), To: to}
}

func invalidStepTransition(from StepState, to string) error {
	return &InvalidTransitionError{Aggregate: "step", From: string(from), To: to}
}

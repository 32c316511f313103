package orchestration

// StepInstance is one step of a running instance: its position in the
// described step list, its own lifecycle, and an optional custom-state
// blob that caches the step's computed outcome for idempotent replay.
type StepInstance struct {
	sequence    int
	description string
	lifecycle   *StepLifecycle
	customState CustomState
}

func newStepInstance(clock Clock, desc StepDescription) *StepInstance {
	return &StepInstance{
		sequence:    desc.Sequence,
		description: desc.Name,
		lifecycle:   NewStepLifecycle(clock),
	}
}

func (s *StepInstance) Sequence() int             { return s.sequence }
func (s *StepInstance) Description() string       { return s.description }
func (s *StepInstance) Lifecycle() *StepLifecycle { return s.lifecycle }
func (s *StepInstance) CustomState() CustomState  { return s.customState }

// SetCustomState stores the step's cached outcome.
func (s *StepInstance) SetCustomState(state CustomState) {
	s.customState = state
}

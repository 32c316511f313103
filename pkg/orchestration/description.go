package orchestration

import (
	"fmt"

	"github.com/google/uuid"
)

// StepDescription is one numbered phase of a described process. Sequence
// numbers start at 1 and are gapless within a description.
type StepDescription struct {
	Sequence int
	Name     string
}

// OrchestrationDescription is a named, versioned template describing
// which steps a process type has. (Name, Version) together form the
// unique key. Descriptions are immutable once an instance references
// them; the engine only ever flips IsEnabled.
type OrchestrationDescription struct {
	ID             uuid.UUID
	Name           string
	Version        int
	Steps          []StepDescription
	CanBeScheduled bool
	IsEnabled      bool
}

// NewDescription creates an enabled description with steps numbered 1..n
// in the order given.
func NewDescription(name string, version int, canBeScheduled bool, stepNames ...string) (*OrchestrationDescription, error) {
	d := &OrchestrationDescription{
		ID:             uuid.New(),
		Name:           name,
		Version:        version,
		CanBeScheduled: canBeScheduled,
		IsEnabled:      true,
	}
	for i, n := range stepNames {
		d.Steps = append(d.Steps, StepDescription{Sequence: i + 1, Name: n})
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the structural invariants of the description.
func (d *OrchestrationDescription) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("description name is required")
	}
	if d.Version < 1 {
		return fmt.Errorf("description version must be >= 1, got %d", d.Version)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("description %q must have at least one step", d.Name)
	}
	for i, s := range d.Steps {
		if s.Sequence != i+1 {
			return fmt.Errorf("description %q: step %d has sequence %d, want %d (sequences must be gapless from 1)",
				d.Name, i, s.Sequence, i+1)
		}
		if s.Name == "" {
			return fmt.Errorf("description %q: step %d has no name", d.Name, s.Sequence)
		}
	}
	return nil
}

// Step returns the step description with the given sequence number.
func (d *OrchestrationDescription) Step(sequence int) (StepDescription, error) {
	if sequence < 1 || sequence > len(d.Steps) {
		return StepDescription{}, fmt.Errorf("description %q has no step %d", d.Name, sequence)
	}
	return d.Steps[sequence-1], nil
}

package procman

import (
	"context"
	"fmt"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// DescriptionBuilder provides a fluent API for defining processes:
//
//	desc, err := procman.NewProcess("Brs021ForwardMeteredData", 1).
//	    Schedulable().
//	    Step("BusinessValidation").
//	    Step("ForwardToMeasurements").
//	    Step("EnqueueActorMessages").
//	    Build()
type DescriptionBuilder struct {
	name           string
	version        int
	canBeScheduled bool
	steps          []string
}

// NewProcess creates a builder for the given process name and version.
func NewProcess(name string, version int) *DescriptionBuilder {
	return &DescriptionBuilder{name: name, version: version}
}

// Schedulable marks the process as startable with a future run time.
func (b *DescriptionBuilder) Schedulable() *DescriptionBuilder {
	b.canBeScheduled = true
	return b
}

// Step appends a step. Steps are numbered 1..n in the order added.
func (b *DescriptionBuilder) Step(name string) *DescriptionBuilder {
	if name == "" {
		panic("procman: step name must not be empty")
	}
	b.steps = append(b.steps, name)
	return b
}

// Build validates and returns the description.
func (b *DescriptionBuilder) Build() (*OrchestrationDescription, error) {
	return orchestration.NewDescription(b.name, b.version, b.canBeScheduled, b.steps...)
}

// Register builds the description and adds it to the store. Registering
// an already-known (name, version) fails with ErrDuplicate.
func (b *DescriptionBuilder) Register(ctx context.Context, store Store) error {
	desc, err := b.Build()
	if err != nil {
		return err
	}
	return store.AddDescription(ctx, desc)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *DescriptionBuilder) MustRegister(ctx context.Context, store Store) {
	if err := b.Register(ctx, store); err != nil {
		panic(fmt.Sprintf("procman: register %s v%d: %v", b.name, b.version, err))
	}
}

package orchestration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InstanceSpec carries the caller-supplied fields of a new instance.
// CreatedBy, IdempotencyKey and Parameter are required; the correlation
// fields and ScheduledToRunAt are optional.
type InstanceSpec struct {
	CreatedBy      Identity
	IdempotencyKey IdempotencyKey

	// Parameter is the serialized business input the process was started
	// with. The engine never interprets it.
	Parameter []byte

	// Correlation fields, used to tie the instance back to the inbound
	// business message it originated from.
	ActorMessageID  string
	TransactionID   string
	MeteringPointID string

	// ScheduledToRunAt defers queueing until the given instant. Only
	// valid for descriptions with CanBeScheduled.
	ScheduledToRunAt time.Time
}

// OrchestrationInstance is one occurrence of a described process: the
// core mutable aggregate of the engine. It owns one StepInstance per
// step description, created atomically with the instance and never
// added or removed afterwards.
//
// All lifecycle mutation goes through the Lifecycle transition methods;
// there is no way to assign state directly.
type OrchestrationInstance struct {
	id              uuid.UUID
	descriptionID   uuid.UUID
	idempotencyKey  IdempotencyKey
	actorMessageID  string
	transactionID   string
	meteringPointID string

	parameter   []byte
	customState CustomState

	lifecycle *Lifecycle
	steps     []*StepInstance

	// rowVersion is the opaque optimistic-concurrency token. Zero until
	// the instance has been persisted; bumped by the store on every
	// committed write.
	rowVersion int64
}

// NewInstance creates a Pending instance of the given description, with
// one Pending step per described step.
func NewInstance(clock Clock, desc *OrchestrationDescription, spec InstanceSpec) (*OrchestrationInstance, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if !desc.IsEnabled {
		return nil, fmt.Errorf("description %q v%d is disabled", desc.Name, desc.Version)
	}
	if spec.IdempotencyKey == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if !spec.ScheduledToRunAt.IsZero() && !desc.CanBeScheduled {
		return nil, fmt.Errorf("description %q v%d cannot be scheduled", desc.Name, desc.Version)
	}

	inst := &OrchestrationInstance{
		id:              uuid.New(),
		descriptionID:   desc.ID,
		idempotencyKey:  spec.IdempotencyKey,
		actorMessageID:  spec.ActorMessageID,
		transactionID:   spec.TransactionID,
		meteringPointID: spec.MeteringPointID,
		parameter:       spec.Parameter,
		lifecycle:       NewLifecycle(clock, spec.CreatedBy, spec.ScheduledToRunAt),
	}
	for _, sd := range desc.Steps {
		inst.steps = append(inst.steps, newStepInstance(clock, sd))
	}
	return inst, nil
}

func (i *OrchestrationInstance) ID() uuid.UUID                  { return i.id }
func (i *OrchestrationInstance) DescriptionID() uuid.UUID       { return i.descriptionID }
func (i *OrchestrationInstance) IdempotencyKey() IdempotencyKey { return i.idempotencyKey }
func (i *OrchestrationInstance) ActorMessageID() string         { return i.actorMessageID }
func (i *OrchestrationInstance) TransactionID() string          { return i.transactionID }
func (i *OrchestrationInstance) MeteringPointID() string        { return i.meteringPointID }
func (i *OrchestrationInstance) Parameter() []byte              { return i.parameter }
func (i *OrchestrationInstance) CustomState() CustomState       { return i.customState }
func (i *OrchestrationInstance) Lifecycle() *Lifecycle          { return i.lifecycle }
func (i *OrchestrationInstance) Steps() []*StepInstance         { return i.steps }
func (i *OrchestrationInstance) RowVersion() int64              { return i.rowVersion }

// Step returns the step instance with the given sequence number.
func (i *OrchestrationInstance) Step(sequence int) (*StepInstance, error) {
	if sequence < 1 || sequence > len(i.steps) {
		return nil, fmt.Errorf("instance %s has no step %d", i.id, sequence)
	}
	return i.steps[sequence-1], nil
}

// SetCustomState stores the instance-level custom state blob.
func (i *OrchestrationInstance) SetCustomState(state CustomState) {
	i.customState = state
}

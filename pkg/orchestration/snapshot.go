package orchestration

import (
	"time"

	"github.com/google/uuid"
)

// Snapshots let stores round-trip aggregates without bypassing the
// lifecycle transition methods at runtime. A store serializes a snapshot
// on write and calls RestoreInstance on read; everything in between goes
// through the guarded transitions.

// LifecycleSnapshot is the flattened form of an instance Lifecycle.
type LifecycleSnapshot struct {
	State            InstanceState
	TerminationState TerminationState
	CreatedBy        Identity
	CreatedAt        time.Time
	ScheduledToRunAt time.Time
	QueuedAt         time.Time
	StartedAt        time.Time
	TerminatedAt     time.Time
}

// StepLifecycleSnapshot is the flattened form of a StepLifecycle.
type StepLifecycleSnapshot struct {
	State            StepState
	TerminationState StepTerminationState
	CreatedAt        time.Time
	StartedAt        time.Time
	TerminatedAt     time.Time
}

// StepSnapshot is the flattened form of a StepInstance.
type StepSnapshot struct {
	Sequence    int
	Description string
	Lifecycle   StepLifecycleSnapshot
	CustomState CustomState
}

// InstanceSnapshot is the flattened form of an OrchestrationInstance.
type InstanceSnapshot struct {
	ID              uuid.UUID
	DescriptionID   uuid.UUID
	IdempotencyKey  IdempotencyKey
	ActorMessageID  string
	TransactionID   string
	MeteringPointID string
	Parameter       []byte
	CustomState     CustomState
	Lifecycle       LifecycleSnapshot
	Steps           []StepSnapshot
	RowVersion      int64
}

// Snapshot flattens the instance for persistence.
func (i *OrchestrationInstance) Snapshot() InstanceSnapshot {
	s := InstanceSnapshot{
		ID:              i.id,
		DescriptionID:   i.descriptionID,
		IdempotencyKey:  i.idempotencyKey,
		ActorMessageID:  i.actorMessageID,
		TransactionID:   i.transactionID,
		MeteringPointID: i.meteringPointID,
		Parameter:       i.parameter,
		CustomState:     i.customState,
		RowVersion:      i.rowVersion,
		Lifecycle: LifecycleSnapshot{
			State:            i.lifecycle.state,
			TerminationState: i.lifecycle.terminationState,
			CreatedBy:        i.lifecycle.createdBy,
			CreatedAt:        i.lifecycle.createdAt,
			ScheduledToRunAt: i.lifecycle.scheduledToRunAt,
			QueuedAt:         i.lifecycle.queuedAt,
			StartedAt:        i.lifecycle.startedAt,
			TerminatedAt:     i.lifecycle.terminatedAt,
		},
	}
	for _, st := range i.steps {
		s.Steps = append(s.Steps, StepSnapshot{
			Sequence:    st.sequence,
			Description: st.description,
			CustomState: st.customState,
			Lifecycle: StepLifecycleSnapshot{
				State:            st.lifecycle.state,
				TerminationState: st.lifecycle.terminationState,
				CreatedAt:        st.lifecycle.createdAt,
				StartedAt:        st.lifecycle.startedAt,
				TerminatedAt:     st.lifecycle.terminatedAt,
			},
		})
	}
	return s
}

// RestoreInstance rebuilds an instance from a stored snapshot.
func RestoreInstance(s InstanceSnapshot) *OrchestrationInstance {
	inst := &OrchestrationInstance{
		id:              s.ID,
		descriptionID:   s.DescriptionID,
		idempotencyKey:  s.IdempotencyKey,
		actorMessageID:  s.ActorMessageID,
		transactionID:   s.TransactionID,
		meteringPointID: s.MeteringPointID,
		parameter:       s.Parameter,
		customState:     s.CustomState,
		rowVersion:      s.RowVersion,
		lifecycle: &Lifecycle{
			state:            s.Lifecycle.State,
			terminationState: s.Lifecycle.TerminationState,
			createdBy:        s.Lifecycle.CreatedBy,
			createdAt:        s.Lifecycle.CreatedAt,
			scheduledToRunAt: s.Lifecycle.ScheduledToRunAt,
			queuedAt:         s.Lifecycle.QueuedAt,
			startedAt:        s.Lifecycle.StartedAt,
			terminatedAt:     s.Lifecycle.TerminatedAt,
		},
	}
	for _, st := range s.Steps {
		inst.steps = append(inst.steps, &StepInstance{
			sequence:    st.Sequence,
			description: st.Description,
			customState: st.CustomState,
			lifecycle: &StepLifecycle{
				state:            st.Lifecycle.State,
				terminationState: st.Lifecycle.TerminationState,
				createdAt:        st.Lifecycle.CreatedAt,
				startedAt:        st.Lifecycle.StartedAt,
				terminatedAt:     st.Lifecycle.TerminatedAt,
			},
		})
	}
	return inst
}

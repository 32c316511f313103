package persistence

import (
	"context"
	"time"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// AuditEventType classifies one lifecycle audit record.
type AuditEventType string

const (
	AuditInstanceStarted    AuditEventType = "INSTANCE_STARTED"
	AuditInstanceTerminated AuditEventType = "INSTANCE_TERMINATED"
	AuditStepStarted        AuditEventType = "STEP_STARTED"
	AuditStepTerminated     AuditEventType = "STEP_TERMINATED"
	AuditCommitConflict     AuditEventType = "COMMIT_CONFLICT"
)

// AuditEvent is one append-only record of a lifecycle transition.
type AuditEvent struct {
	InstanceID string
	At         time.Time
	Type       AuditEventType
	// Step is the step sequence for step events, -1 otherwise.
	Step   int
	Detail string
}

// AuditStore is an append-only history store for lifecycle events.
type AuditStore interface {
	AppendEvent(ctx context.Context, ev AuditEvent) error
	ListEvents(ctx context.Context, instanceID string) ([]AuditEvent, error)
}

// NoopAuditStore discards all events.
type NoopAuditStore struct{}

func (NoopAuditStore) AppendEvent(ctx context.Context, ev AuditEvent) error { return nil }
func (NoopAuditStore) ListEvents(ctx context.Context, instanceID string) ([]AuditEvent, error) {
	return nil, nil
}

// AuditObserver records lifecycle callbacks to an AuditStore. Append
// failures are silently dropped so the audit trail never blocks a
// handler; pair it with a LoggingObserver when visibility into drops
// matters.
type AuditObserver struct {
	store AuditStore
	clock orchestration.Clock
}

// NewAuditObserver creates an Observer that appends every lifecycle
// event to the given store, timestamped with the given clock.
func NewAuditObserver(store AuditStore, clock orchestration.Clock) *AuditObserver {
	return &AuditObserver{store: store, clock: clock}
}

var _ orchestration.Observer = (*AuditObserver)(nil)

func (a *AuditObserver) OnInstanceStarted(ctx context.Context, inst *orchestration.OrchestrationInstance) {
	_ = a.store.AppendEvent(ctx, AuditEvent{
		InstanceID: inst.ID().String(),
		At:         a.clock.Now(),
		Type:       AuditInstanceStarted,
		Step:       -1,
	})
}

func (a *AuditObserver) OnInstanceTerminated(ctx context.Context, inst *orchestration.OrchestrationInstance) {
	_ = a.store.AppendEvent(ctx, AuditEvent{
		InstanceID: inst.ID().String(),
		At:         a.clock.Now(),
		Type:       AuditInstanceTerminated,
		Step:       -1,
		Detail:     string(inst.Lifecycle().TerminationState()),
	})
}

func (a *AuditObserver) OnStepStarted(ctx context.Context, inst *orchestration.OrchestrationInstance, sequence int) {
	_ = a.store.AppendEvent(ctx, AuditEvent{
		InstanceID: inst.ID().String(),
		At:         a.clock.Now(),
		Type:       AuditStepStarted,
		Step:       sequence,
	})
}

func (a *AuditObserver) OnStepTerminated(ctx context.Context, inst *orchestration.OrchestrationInstance, sequence int, ts orchestration.StepTerminationState, d time.Duration) {
	_ = a.store.AppendEvent(ctx, AuditEvent{
		InstanceID: inst.ID().String(),
		At:         a.clock.Now(),
		Type:       AuditStepTerminated,
		Step:       sequence,
		Detail:     string(ts),
	})
}

func (a *AuditObserver) OnCommitConflict(ctx context.Context, instanceID string, err error) {
	_ = a.store.AppendEvent(ctx, AuditEvent{
		InstanceID: instanceID,
		At:         a.clock.Now(),
		Type:       AuditCommitConflict,
		Step:       -1,
		Detail:     err.Error(),
	})
}

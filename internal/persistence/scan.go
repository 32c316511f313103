package persistence

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// The SQL stores share one column layout; only placeholders and type
// names differ between backends. These helpers keep the row<->snapshot
// mapping in one place.

// instanceColumns is the column list for orchestration_instances, in
// the order instanceArgs produces and scanInstance consumes.
const instanceColumns = `id, description_id, idempotency_key, actor_message_id, transaction_id,
	metering_point_id, parameter, custom_state, state, termination_state,
	created_by_number, created_by_role, created_at, scheduled_to_run_at,
	queued_at, started_at, terminated_at, row_version`

const stepColumns = `instance_id, sequence, description, state, termination_state,
	custom_state, created_at, started_at, terminated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func instanceArgs(snap orchestration.InstanceSnapshot) ([]any, error) {
	custom, err := encodeCustomState(snap.CustomState)
	if err != nil {
		return nil, err
	}
	l := snap.Lifecycle
	return []any{
		snap.ID.String(),
		snap.DescriptionID.String(),
		string(snap.IdempotencyKey),
		snap.ActorMessageID,
		snap.TransactionID,
		snap.MeteringPointID,
		snap.Parameter,
		custom,
		string(l.State),
		string(l.TerminationState),
		string(l.CreatedBy.Number),
		string(l.CreatedBy.Role),
		nsOf(l.CreatedAt),
		nsOf(l.ScheduledToRunAt),
		nsOf(l.QueuedAt),
		nsOf(l.StartedAt),
		nsOf(l.TerminatedAt),
		snap.RowVersion,
	}, nil
}

// scanInstance reads one orchestration_instances row. Steps are loaded
// separately and attached by the caller.
func scanInstance(row rowScanner) (orchestration.InstanceSnapshot, error) {
	var (
		snap                orchestration.InstanceSnapshot
		id, descriptionID   string
		idempotencyKey      string
		state, termState    string
		createdByNum        string
		createdByRole       string
		custom              []byte
		createdNs, schedNs  int64
		queuedNs, startedNs int64
		terminatedNs        int64
		actorMessageID      sql.NullString
		transactionID       sql.NullString
		meteringPointID     sql.NullString
	)

	err := row.Scan(
		&id, &descriptionID, &idempotencyKey, &actorMessageID, &transactionID,
		&meteringPointID, &snap.Parameter, &custom, &state, &termState,
		&createdByNum, &createdByRole, &createdNs, &schedNs,
		&queuedNs, &startedNs, &terminatedNs, &snap.RowVersion,
	)
	if err != nil {
		return orchestration.InstanceSnapshot{}, err
	}

	if snap.ID, err = uuid.Parse(id); err != nil {
		return orchestration.InstanceSnapshot{}, fmt.Errorf("parse instance id: %w", err)
	}
	if snap.DescriptionID, err = uuid.Parse(descriptionID); err != nil {
		return orchestration.InstanceSnapshot{}, fmt.Errorf("parse description id: %w", err)
	}
	if snap.CustomState, err = decodeCustomState(custom); err != nil {
		return orchestration.InstanceSnapshot{}, err
	}

	snap.IdempotencyKey = orchestration.IdempotencyKey(idempotencyKey)
	snap.ActorMessageID = actorMessageID.String
	snap.TransactionID = transactionID.String
	snap.MeteringPointID = meteringPointID.String
	snap.Lifecycle = orchestration.LifecycleSnapshot{
		State:            orchestration.InstanceState(state),
		TerminationState: orchestration.TerminationState(termState),
		CreatedBy: orchestration.Identity{
			Number: orchestration.ActorNumber(createdByNum),
			Role:   orchestration.ActorRole(createdByRole),
		},
		CreatedAt:        timeOf(createdNs),
		ScheduledToRunAt: timeOf(schedNs),
		QueuedAt:         timeOf(queuedNs),
		StartedAt:        timeOf(startedNs),
		TerminatedAt:     timeOf(terminatedNs),
	}
	return snap, nil
}

func stepArgs(instanceID uuid.UUID, step orchestration.StepSnapshot) ([]any, error) {
	custom, err := encodeCustomState(step.CustomState)
	if err != nil {
		return nil, err
	}
	l := step.Lifecycle
	return []any{
		instanceID.String(),
		step.Sequence,
		step.Description,
		string(l.State),
		string(l.TerminationState),
		custom,
		nsOf(l.CreatedAt),
		nsOf(l.StartedAt),
		nsOf(l.TerminatedAt),
	}, nil
}

func scanStep(row rowScanner) (orchestration.StepSnapshot, error) {
	var (
		snap             orchestration.StepSnapshot
		instanceID       string
		state, termState string
		custom           []byte
		createdNs        int64
		startedNs        int64
		terminatedNs     int64
	)

	err := row.Scan(
		&instanceID, &snap.Sequence, &snap.Description, &state, &termState,
		&custom, &createdNs, &startedNs, &terminatedNs,
	)
	if err != nil {
		return orchestration.StepSnapshot{}, err
	}

	if snap.CustomState, err = decodeCustomState(custom); err != nil {
		return orchestration.StepSnapshot{}, err
	}
	snap.Lifecycle = orchestration.StepLifecycleSnapshot{
		State:            orchestration.StepState(state),
		TerminationState: orchestration.StepTerminationState(termState),
		CreatedAt:        timeOf(createdNs),
		StartedAt:        timeOf(startedNs),
		TerminatedAt:     timeOf(terminatedNs),
	}
	return snap, nil
}

// Package measurements holds the milestone-based aggregate used by the
// high-volume send-measurements process family.
//
// Unlike the generic orchestration instance, this process has a fixed,
// small number of milestones and no need for the general step
// machinery: each milestone is a set-once boolean with a timestamp, and
// the aggregate is terminated when the final milestone is set.
package measurements

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// PayloadReference points at the externally stored input payload
// (category + path in the blob store). Payload size is unbounded, so it
// is never stored inline on the aggregate.
type PayloadReference struct {
	Category string
	Path     string
}

// Milestone is one discrete completion marker: whether it has been
// reached and when.
type Milestone struct {
	Done bool
	At   time.Time
}

// Instance tracks one send-measurements transaction through its fixed
// milestones. Milestones are set-once and ordered; setting one out of
// order or twice returns an *orchestration.InvalidTransitionError.
type Instance struct {
	id              uuid.UUID
	createdBy       orchestration.Identity
	createdAt       time.Time
	transactionID   string
	meteringPointID string

	// idempotencyKeyHash is the SHA-256 hex of the caller's key. The raw
	// key never hits storage.
	idempotencyKeyHash string

	payload PayloadReference

	businessValidated        Milestone
	sentToMeasurements       Milestone
	receivedFromMeasurements Milestone
	sentToEnqueue            Milestone
	terminated               Milestone

	// validationFailed records the business-validation outcome; only
	// meaningful once businessValidated is set.
	validationFailed bool

	rowVersion int64
}

// HashIdempotencyKey returns the stored form of an idempotency key.
func HashIdempotencyKey(key orchestration.IdempotencyKey) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// NewInstance creates a fresh instance with no milestones reached.
func NewInstance(clock orchestration.Clock, createdBy orchestration.Identity, key orchestration.IdempotencyKey, transactionID, meteringPointID string, payload PayloadReference) (*Instance, error) {
	if key == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	if transactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}
	return &Instance{
		id:                 uuid.New(),
		createdBy:          createdBy,
		createdAt:          clock.Now(),
		transactionID:      transactionID,
		meteringPointID:    meteringPointID,
		idempotencyKeyHash: HashIdempotencyKey(key),
		payload:            payload,
	}, nil
}

func (i *Instance) ID() uuid.UUID                       { return i.id }
func (i *Instance) CreatedBy() orchestration.Identity   { return i.createdBy }
func (i *Instance) CreatedAt() time.Time                { return i.createdAt }
func (i *Instance) TransactionID() string               { return i.transactionID }
func (i *Instance) MeteringPointID() string             { return i.meteringPointID }
func (i *Instance) IdempotencyKeyHash() string          { return i.idempotencyKeyHash }
func (i *Instance) Payload() PayloadReference           { return i.payload }
func (i *Instance) BusinessValidated() Milestone        { return i.businessValidated }
func (i *Instance) SentToMeasurements() Milestone       { return i.sentToMeasurements }
func (i *Instance) ReceivedFromMeasurements() Milestone { return i.receivedFromMeasurements }
func (i *Instance) SentToEnqueue() Milestone            { return i.sentToEnqueue }
func (i *Instance) Terminated() Milestone               { return i.terminated }
func (i *Instance) ValidationFailed() bool              { return i.validationFailed }
func (i *Instance) RowVersion() int64                   { return i.rowVersion }

// IsTerminated reports whether the final milestone has been reached.
func (i *Instance) IsTerminated() bool { return i.terminated.Done }

// MarkBusinessValidated records the validation outcome. First milestone.
func (i *Instance) MarkBusinessValidated(clock orchestration.Clock, failed bool) error {
	if i.businessValidated.Done {
		return milestoneError("BusinessValidated", "already set")
	}
	i.businessValidated = Milestone{Done: true, At: clock.Now()}
	i.validationFailed = failed
	return nil
}

// MarkSentToMeasurements records hand-off to the measurements core.
// Requires a passed business validation.
func (i *Instance) MarkSentToMeasurements(clock orchestration.Clock) error {
	if !i.businessValidated.Done || i.validationFailed {
		return milestoneError("SentToMeasurements", "business validation has not passed")
	}
	if i.sentToMeasurements.Done {
		return milestoneError("SentToMeasurements", "already set")
	}
	i.sentToMeasurements = Milestone{Done: true, At: clock.Now()}
	return nil
}

// MarkReceivedFromMeasurements records the measurements core's
// confirmation.
func (i *Instance) MarkReceivedFromMeasurements(clock orchestration.Clock) error {
	if !i.sentToMeasurements.Done {
		return milestoneError("ReceivedFromMeasurements", "not sent to measurements yet")
	}
	if i.receivedFromMeasurements.Done {
		return milestoneError("ReceivedFromMeasurements", "already set")
	}
	i.receivedFromMeasurements = Milestone{Done: true, At: clock.Now()}
	return nil
}

// MarkSentToEnqueue records that outbound actor messages were enqueued.
func (i *Instance) MarkSentToEnqueue(clock orchestration.Clock) error {
	if !i.receivedFromMeasurements.Done {
		return milestoneError("SentToEnqueue", "not confirmed by measurements yet")
	}
	if i.sentToEnqueue.Done {
		return milestoneError("SentToEnqueue", "already set")
	}
	i.sentToEnqueue = Milestone{Done: true, At: clock.Now()}
	return nil
}

// MarkTerminated closes the instance. Legal once either the reject path
// (validation failed) or the full forward path has completed.
func (i *Instance) MarkTerminated(clock orchestration.Clock) error {
	if i.terminated.Done {
		return milestoneError("Terminated", "already set")
	}
	if !i.businessValidated.Done {
		return milestoneError("Terminated", "business validation has not run")
	}
	if !i.validationFailed && !i.sentToEnqueue.Done {
		return milestoneError("Terminated", "forward path has not completed")
	}
	i.terminated = Milestone{Done: true, At: clock.Now()}
	return nil
}

func milestoneError(milestone, reason string) error {
	return &orchestration.InvalidTransitionError{
		Aggregate: "send-measurements",
		From:      reason,
		To:        milestone,
	}
}

// Snapshot is the flattened form of an Instance for persistence.
type Snapshot struct {
	ID                       uuid.UUID
	CreatedBy                orchestration.Identity
	CreatedAt                time.Time
	TransactionID            string
	MeteringPointID          string
	IdempotencyKeyHash       string
	Payload                  PayloadReference
	BusinessValidated        Milestone
	ValidationFailed         bool
	SentToMeasurements       Milestone
	ReceivedFromMeasurements Milestone
	SentToEnqueue            Milestone
	Terminated               Milestone
	RowVersion               int64
}

// Snapshot flattens the instance for persistence.
func (i *Instance) Snapshot() Snapshot {
	return Snapshot{
		ID:                       i.id,
		CreatedBy:                i.createdBy,
		CreatedAt:                i.createdAt,
		TransactionID:            i.transactionID,
		MeteringPointID:          i.meteringPointID,
		IdempotencyKeyHash:       i.idempotencyKeyHash,
		Payload:                  i.payload,
		BusinessValidated:        i.businessValidated,
		ValidationFailed:         i.validationFailed,
		SentToMeasurements:       i.sentToMeasurements,
		ReceivedFromMeasurements: i.receivedFromMeasurements,
		SentToEnqueue:            i.sentToEnqueue,
		Terminated:               i.terminated,
		RowVersion:               i.rowVersion,
	}
}

// Restore rebuilds an instance from a stored snapshot.
func Restore(s Snapshot) *Instance {
	return &Instance{
		id:                       s.ID,
		createdBy:                s.CreatedBy,
		createdAt:                s.CreatedAt,
		transactionID:            s.TransactionID,
		meteringPointID:          s.MeteringPointID,
		idempotencyKeyHash:       s.IdempotencyKeyHash,
		payload:                  s.Payload,
		businessValidated:        s.BusinessValidated,
		validationFailed:         s.ValidationFailed,
		sentToMeasurements:       s.SentToMeasurements,
		receivedFromMeasurements: s.ReceivedFromMeasurements,
		sentToEnqueue:            s.SentToEnqueue,
		terminated:               s.Terminated,
		rowVersion:               s.RowVersion,
	}
}

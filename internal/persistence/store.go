package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

var (
	// ErrNotFound is returned when an orchestration instance is not found.
	ErrNotFound = errors.New("orchestration instance not found")

	// ErrDescriptionNotFound is returned when an orchestration description
	// is not found.
	ErrDescriptionNotFound = errors.New("orchestration description not found")

	// ErrConcurrency is returned by Commit when a loaded aggregate was
	// modified by another writer since it was read. The caller must
	// re-run its handler from a fresh read; the handlers' idempotent
	// design makes that safe.
	ErrConcurrency = errors.New("aggregate was modified by another writer")

	// ErrDuplicate is returned by Add when an aggregate with the same id
	// already exists.
	ErrDuplicate = errors.New("aggregate already exists")
)

// Filter selects orchestration instances. Zero values mean "no filter"
// for that field; set fields combine with logical AND.
type Filter struct {
	// Name and Version select by the referenced description.
	Name    string
	Version int

	State            orchestration.InstanceState
	TerminationState orchestration.TerminationState

	StartedAfter     time.Time
	StartedBefore    time.Time
	TerminatedAfter  time.Time
	TerminatedBefore time.Time

	// Activated bounds select on the instant the instance became
	// eligible to run: scheduledToRunAt when set, queuedAt otherwise.
	ActivatedAfter  time.Time
	ActivatedBefore time.Time
}

// DescriptionStore handles storage of orchestration descriptions.
// Descriptions are written by the registration process, outside any
// instance unit of work; the engine only ever flips the enabled flag.
type DescriptionStore interface {
	AddDescription(ctx context.Context, d *orchestration.OrchestrationDescription) error
	GetDescription(ctx context.Context, id uuid.UUID) (*orchestration.OrchestrationDescription, error)
	// GetDescriptionByName returns the description for a (name, version)
	// key, or ErrDescriptionNotFound.
	GetDescriptionByName(ctx context.Context, name string, version int) (*orchestration.OrchestrationDescription, error)
	SetDescriptionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
}

// UnitOfWork is the atomic-commit boundary over orchestration
// instances. Every aggregate returned by Get or GetByIdempotencyKey or
// passed to Add is tracked; Commit persists all tracked aggregates
// whose state changed in one transaction, failing with ErrConcurrency
// if any of them was modified by another writer since it was read.
//
// A unit of work is single-use: after Commit or Rollback it must be
// discarded, and in-memory aggregates must be re-read before further
// mutation.
type UnitOfWork interface {
	Get(ctx context.Context, id uuid.UUID) (*orchestration.OrchestrationInstance, error)

	// GetByIdempotencyKey returns the instance holding the key,
	// preferring a non-terminated one, then the most recently created.
	GetByIdempotencyKey(ctx context.Context, key orchestration.IdempotencyKey) (*orchestration.OrchestrationInstance, error)

	Add(ctx context.Context, inst *orchestration.OrchestrationInstance) error

	// FindScheduled returns all instances still Pending whose
	// scheduledToRunAt is at or before the given instant. Used by the
	// scheduler sweep; results are tracked like Get results.
	FindScheduled(ctx context.Context, runAtOrBefore time.Time) ([]*orchestration.OrchestrationInstance, error)

	// Search returns instances matching the filter. Results are NOT
	// tracked; they are read-only projections for operators.
	Search(ctx context.Context, f Filter) ([]*orchestration.OrchestrationInstance, error)

	Commit(ctx context.Context) error
	Rollback() error
}

// InstanceStore creates units of work over orchestration instances.
type InstanceStore interface {
	Begin(ctx context.Context) (UnitOfWork, error)
}

// Store is the full persistence surface the handlers depend on.
type Store interface {
	InstanceStore
	DescriptionStore
}

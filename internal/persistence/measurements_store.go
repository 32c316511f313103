package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/measurements"
)

// MeasurementsStore persists send-measurements instances. The aggregate
// is small and written by one handler at a time, so the contract is a
// plain version-checked Save rather than a unit of work: Save succeeds
// only when the stored row still carries the version the aggregate was
// loaded with, and the caller re-reads after every Save.
type MeasurementsStore interface {
	Add(ctx context.Context, inst *measurements.Instance) error
	Get(ctx context.Context, id uuid.UUID) (*measurements.Instance, error)

	// GetByIdempotencyKeyHash returns the non-terminated instance holding
	// the hashed key, or ErrNotFound.
	GetByIdempotencyKeyHash(ctx context.Context, hash string) (*measurements.Instance, error)

	Save(ctx context.Context, inst *measurements.Instance) error

	// FindUnterminated returns instances created at or before the given
	// instant that have not reached the terminated milestone, oldest
	// first. Used by the stuck-instance sweep.
	FindUnterminated(ctx context.Context, createdAtOrBefore time.Time) ([]*measurements.Instance, error)
}

// MemoryMeasurementsStore is a goroutine-safe in-memory
// MeasurementsStore.
type MemoryMeasurementsStore struct {
	mu        sync.RWMutex
	instances map[uuid.UUID]measurements.Snapshot
}

// NewMemoryMeasurementsStore creates an empty MemoryMeasurementsStore.
func NewMemoryMeasurementsStore() *MemoryMeasurementsStore {
	return &MemoryMeasurementsStore{
		instances: make(map[uuid.UUID]measurements.Snapshot),
	}
}

var _ MeasurementsStore = (*MemoryMeasurementsStore)(nil)

func (s *MemoryMeasurementsStore) Add(ctx context.Context, inst *measurements.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID()]; ok {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrDuplicate)
	}
	for _, snap := range s.instances {
		if snap.IdempotencyKeyHash == inst.IdempotencyKeyHash() && !snap.Terminated.Done {
			return fmt.Errorf("active instance with idempotency key already exists: %w", ErrDuplicate)
		}
	}

	snap := inst.Snapshot()
	snap.RowVersion = 1
	s.instances[snap.ID] = snap
	return nil
}

func (s *MemoryMeasurementsStore) Get(ctx context.Context, id uuid.UUID) (*measurements.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return measurements.Restore(snap), nil
}

func (s *MemoryMeasurementsStore) GetByIdempotencyKeyHash(ctx context.Context, hash string) (*measurements.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, snap := range s.instances {
		if snap.IdempotencyKeyHash == hash && !snap.Terminated.Done {
			return measurements.Restore(snap), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryMeasurementsStore) Save(ctx context.Context, inst *measurements.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID()]
	if !ok {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrNotFound)
	}
	if stored.RowVersion != inst.RowVersion() {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrConcurrency)
	}

	snap := inst.Snapshot()
	snap.RowVersion = stored.RowVersion + 1
	s.instances[snap.ID] = snap
	return nil
}

func (s *MemoryMeasurementsStore) FindUnterminated(ctx context.Context, createdAtOrBefore time.Time) ([]*measurements.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []measurements.Snapshot
	for _, snap := range s.instances {
		if snap.Terminated.Done || snap.CreatedAt.After(createdAtOrBefore) {
			continue
		}
		matches = append(matches, snap)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	out := make([]*measurements.Instance, 0, len(matches))
	for _, snap := range matches {
		out = append(out, measurements.Restore(snap))
	}
	return out, nil
}

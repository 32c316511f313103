package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// MemoryStore is a goroutine-safe Store backed by maps. It implements
// the same optimistic-concurrency contract as the SQL stores and is the
// store of choice for tests and embedded use.
type MemoryStore struct {
	mu           sync.RWMutex
	descriptions map[uuid.UUID]*orchestration.OrchestrationDescription
	descIndex    map[descKey]uuid.UUID
	instances    map[uuid.UUID]orchestration.InstanceSnapshot
}

type descKey struct {
	name    string
	version int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		descriptions: make(map[uuid.UUID]*orchestration.OrchestrationDescription),
		descIndex:    make(map[descKey]uuid.UUID),
		instances:    make(map[uuid.UUID]orchestration.InstanceSnapshot),
	}
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) AddDescription(ctx context.Context, d *orchestration.OrchestrationDescription) error {
	if err := d.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := descKey{name: d.Name, version: d.Version}
	if _, ok := s.descIndex[key]; ok {
		return fmt.Errorf("description %q v%d: %w", d.Name, d.Version, ErrDuplicate)
	}
	s.descriptions[d.ID] = cloneDescription(d)
	s.descIndex[key] = d.ID
	return nil
}

func (s *MemoryStore) GetDescription(ctx context.Context, id uuid.UUID) (*orchestration.OrchestrationDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.descriptions[id]
	if !ok {
		return nil, ErrDescriptionNotFound
	}
	return cloneDescription(d), nil
}

func (s *MemoryStore) GetDescriptionByName(ctx context.Context, name string, version int) (*orchestration.OrchestrationDescription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.descIndex[descKey{name: name, version: version}]
	if !ok {
		return nil, ErrDescriptionNotFound
	}
	return cloneDescription(s.descriptions[id]), nil
}

func (s *MemoryStore) SetDescriptionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.descriptions[id]
	if !ok {
		return ErrDescriptionNotFound
	}
	d.IsEnabled = enabled
	return nil
}

func (s *MemoryStore) Begin(ctx context.Context) (UnitOfWork, error) {
	return &memoryUnitOfWork{
		store:   s,
		tracked: make(map[uuid.UUID]*trackedInstance),
	}, nil
}

// trackedInstance pairs the live aggregate with the snapshot it was
// loaded from, so Commit can detect changes and check versions.
type trackedInstance struct {
	inst   *orchestration.OrchestrationInstance
	loaded orchestration.InstanceSnapshot
	added  bool
}

type memoryUnitOfWork struct {
	store   *MemoryStore
	tracked map[uuid.UUID]*trackedInstance
	done    bool
}

func (u *memoryUnitOfWork) Get(ctx context.Context, id uuid.UUID) (*orchestration.OrchestrationInstance, error) {
	if t, ok := u.tracked[id]; ok {
		return t.inst, nil
	}

	u.store.mu.RLock()
	snap, ok := u.store.instances[id]
	u.store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return u.track(snap), nil
}

func (u *memoryUnitOfWork) GetByIdempotencyKey(ctx context.Context, key orchestration.IdempotencyKey) (*orchestration.OrchestrationInstance, error) {
	u.store.mu.RLock()
	var best *orchestration.InstanceSnapshot
	for id := range u.store.instances {
		snap := u.store.instances[id]
		if snap.IdempotencyKey != key {
			continue
		}
		if best == nil || preferByKey(snap, *best) {
			best = &snap
		}
	}
	u.store.mu.RUnlock()

	if best == nil {
		return nil, ErrNotFound
	}
	if t, ok := u.tracked[best.ID]; ok {
		return t.inst, nil
	}
	return u.track(*best), nil
}

// preferByKey reports whether a beats b as the result of a lookup by
// idempotency key: non-terminated first, then most recently created.
func preferByKey(a, b orchestration.InstanceSnapshot) bool {
	aTerm := a.Lifecycle.State == orchestration.StateTerminated
	bTerm := b.Lifecycle.State == orchestration.StateTerminated
	if aTerm != bTerm {
		return !aTerm
	}
	return a.Lifecycle.CreatedAt.After(b.Lifecycle.CreatedAt)
}

func (u *memoryUnitOfWork) Add(ctx context.Context, inst *orchestration.OrchestrationInstance) error {
	if _, ok := u.tracked[inst.ID()]; ok {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrDuplicate)
	}
	u.store.mu.RLock()
	_, exists := u.store.instances[inst.ID()]
	u.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrDuplicate)
	}

	u.tracked[inst.ID()] = &trackedInstance{inst: inst, added: true}
	return nil
}

func (u *memoryUnitOfWork) FindScheduled(ctx context.Context, runAtOrBefore time.Time) ([]*orchestration.OrchestrationInstance, error) {
	u.store.mu.RLock()
	var due []orchestration.InstanceSnapshot
	for _, snap := range u.store.instances {
		l := snap.Lifecycle
		if l.State != orchestration.StatePending || l.ScheduledToRunAt.IsZero() {
			continue
		}
		if l.ScheduledToRunAt.After(runAtOrBefore) {
			continue
		}
		due = append(due, cloneSnapshot(snap))
	}
	u.store.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		return due[i].Lifecycle.ScheduledToRunAt.Before(due[j].Lifecycle.ScheduledToRunAt)
	})

	out := make([]*orchestration.OrchestrationInstance, 0, len(due))
	for _, snap := range due {
		if t, ok := u.tracked[snap.ID]; ok {
			out = append(out, t.inst)
			continue
		}
		inst := orchestration.RestoreInstance(snap)
		u.tracked[snap.ID] = &trackedInstance{inst: inst, loaded: cloneSnapshot(snap)}
		out = append(out, inst)
	}
	return out, nil
}

func (u *memoryUnitOfWork) Search(ctx context.Context, f Filter) ([]*orchestration.OrchestrationInstance, error) {
	u.store.mu.RLock()
	defer u.store.mu.RUnlock()

	var matches []orchestration.InstanceSnapshot
	for _, snap := range u.store.instances {
		if u.store.matchesLocked(snap, f) {
			matches = append(matches, cloneSnapshot(snap))
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Lifecycle.CreatedAt.Before(matches[j].Lifecycle.CreatedAt)
	})

	out := make([]*orchestration.OrchestrationInstance, 0, len(matches))
	for _, snap := range matches {
		out = append(out, orchestration.RestoreInstance(snap))
	}
	return out, nil
}

// matchesLocked applies a filter to one snapshot. Callers hold the
// store lock (for the description lookup).
func (s *MemoryStore) matchesLocked(snap orchestration.InstanceSnapshot, f Filter) bool {
	if f.Name != "" || f.Version != 0 {
		d, ok := s.descriptions[snap.DescriptionID]
		if !ok {
			return false
		}
		if f.Name != "" && d.Name != f.Name {
			return false
		}
		if f.Version != 0 && d.Version != f.Version {
			return false
		}
	}

	l := snap.Lifecycle
	if f.State != "" && l.State != f.State {
		return false
	}
	if f.TerminationState != "" && l.TerminationState != f.TerminationState {
		return false
	}
	if !within(l.StartedAt, f.StartedAfter, f.StartedBefore) {
		return false
	}
	if !within(l.TerminatedAt, f.TerminatedAfter, f.TerminatedBefore) {
		return false
	}

	if !f.ActivatedAfter.IsZero() || !f.ActivatedBefore.IsZero() {
		activated := l.ScheduledToRunAt
		if activated.IsZero() {
			activated = l.QueuedAt
		}
		if !within(activated, f.ActivatedAfter, f.ActivatedBefore) {
			return false
		}
	}
	return true
}

// within checks t against optional [after, before] bounds. A zero t
// matches only when no bound is set.
func within(t, after, before time.Time) bool {
	if after.IsZero() && before.IsZero() {
		return true
	}
	if t.IsZero() {
		return false
	}
	if !after.IsZero() && t.Before(after) {
		return false
	}
	if !before.IsZero() && t.After(before) {
		return false
	}
	return true
}

func (u *memoryUnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already completed")
	}
	u.done = true

	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	// Validate everything before writing anything; the commit is atomic.
	type write struct {
		snap orchestration.InstanceSnapshot
	}
	var writes []write

	for id, t := range u.tracked {
		if t.added {
			if _, exists := u.store.instances[id]; exists {
				return fmt.Errorf("instance %s: %w", id, ErrDuplicate)
			}
			if err := u.store.checkActiveKeyLocked(t.inst); err != nil {
				return err
			}
			snap := t.inst.Snapshot()
			snap.RowVersion = 1
			writes = append(writes, write{snap: snap})
			continue
		}

		cur := t.inst.Snapshot()
		if snapshotsEqual(cur, t.loaded) {
			continue
		}
		stored, exists := u.store.instances[id]
		if !exists {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		if stored.RowVersion != t.loaded.RowVersion {
			return fmt.Errorf("instance %s: %w", id, ErrConcurrency)
		}
		cur.RowVersion = t.loaded.RowVersion + 1
		writes = append(writes, write{snap: cur})
	}

	for _, w := range writes {
		u.store.instances[w.snap.ID] = cloneSnapshot(w.snap)
	}
	return nil
}

// checkActiveKeyLocked enforces the unique-active-idempotency-key
// constraint the SQL stores get from a partial unique index.
func (s *MemoryStore) checkActiveKeyLocked(inst *orchestration.OrchestrationInstance) error {
	for _, snap := range s.instances {
		if snap.IdempotencyKey == inst.IdempotencyKey() &&
			snap.Lifecycle.State != orchestration.StateTerminated {
			return fmt.Errorf("active instance with idempotency key already exists: %w", ErrDuplicate)
		}
	}
	return nil
}

func (u *memoryUnitOfWork) Rollback() error {
	u.done = true
	return nil
}

func (u *memoryUnitOfWork) track(snap orchestration.InstanceSnapshot) *orchestration.OrchestrationInstance {
	clone := cloneSnapshot(snap)
	inst := orchestration.RestoreInstance(clone)
	u.tracked[snap.ID] = &trackedInstance{inst: inst, loaded: cloneSnapshot(snap)}
	return inst
}

func cloneDescription(d *orchestration.OrchestrationDescription) *orchestration.OrchestrationDescription {
	c := *d
	c.Steps = append([]orchestration.StepDescription(nil), d.Steps...)
	return &c
}

func cloneSnapshot(s orchestration.InstanceSnapshot) orchestration.InstanceSnapshot {
	c := s
	c.Parameter = append([]byte(nil), s.Parameter...)
	c.CustomState.Data = append([]byte(nil), s.CustomState.Data...)
	c.Steps = make([]orchestration.StepSnapshot, len(s.Steps))
	for i, st := range s.Steps {
		cs := st
		cs.CustomState.Data = append([]byte(nil), st.CustomState.Data...)
		c.Steps[i] = cs
	}
	return c
}

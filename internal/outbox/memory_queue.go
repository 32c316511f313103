package outbox

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

type dedupKey struct {
	instanceID uuid.UUID
	key        orchestration.IdempotencyKey
}

// MemoryQueue is a Queue backed by a buffered channel, with an
// in-process dedup set for idempotent enqueues. Safe for concurrent
// use.
type MemoryQueue struct {
	mu   sync.Mutex
	seen map[dedupKey]struct{}
	ch   chan Message
}

// NewMemoryQueue creates a new queue with the given capacity.
// For tests and small deployments, a modest capacity (e.g. 1024) is fine.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		seen: make(map[dedupKey]struct{}),
		ch:   make(chan Message, capacity),
	}
}

// Ensure MemoryQueue implements Queue.
var _ Queue = (*MemoryQueue)(nil)

func (q *MemoryQueue) Enqueue(ctx context.Context, m Message) error {
	k := dedupKey{instanceID: m.InstanceID, key: m.IdempotencyKey}

	q.mu.Lock()
	if _, dup := q.seen[k]; dup {
		q.mu.Unlock()
		return nil
	}
	q.seen[k] = struct{}{}
	q.mu.Unlock()

	select {
	case q.ch <- m:
		return nil
	case <-ctx.Done():
		// Undo the reservation so a retry can enqueue.
		q.mu.Lock()
		delete(q.seen, k)
		q.mu.Unlock()
		return ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Message, error) {
	select {
	case m := <-q.ch:
		return &m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int {
	return len(q.ch)
}

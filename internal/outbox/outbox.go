// Package outbox delivers outbound messages produced by process
// handlers to the actor-message delivery system.
//
// Every enqueue is idempotent on (instance id, idempotency key): a
// handler that is retried after a commit conflict or a crash may call
// Enqueue again with the same key and the message is stored once.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// Kind identifies what the outbound message carries.
type Kind string

const (
	// KindEnqueueActorMessages asks the delivery system to build and
	// enqueue per-receiver actor messages from the referenced result.
	KindEnqueueActorMessages Kind = "enqueue-actor-messages"

	// KindRejectMessage carries a validation-reject response for the
	// original sender.
	KindRejectMessage Kind = "reject-message"
)

// Message is one outbound unit of delivery.
type Message struct {
	Kind       Kind
	InstanceID uuid.UUID
	CreatedBy  orchestration.Identity

	// IdempotencyKey deduplicates retried enqueues of the same logical
	// message. Unique per (InstanceID, IdempotencyKey).
	IdempotencyKey orchestration.IdempotencyKey

	// Payload is the serialized message body. The outbox never
	// interprets it.
	Payload []byte

	EnqueuedAt time.Time
}

// Enqueuer is the write side of the outbox, used by handlers.
type Enqueuer interface {
	// Enqueue stores the message for delivery. Re-enqueueing a message
	// with an (InstanceID, IdempotencyKey) pair that was already stored
	// is a no-op, not an error.
	Enqueue(ctx context.Context, m Message) error
}

// Queue is the full outbox surface: handlers enqueue, the delivery
// worker dequeues.
type Queue interface {
	Enqueuer

	// Dequeue removes and returns the next message, blocking until one
	// is available or the context is cancelled.
	Dequeue(ctx context.Context) (*Message, error)

	// Len returns the approximate number of undelivered messages.
	Len() int
}

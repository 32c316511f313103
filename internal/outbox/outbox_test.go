package outbox

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/gridmesh/procman/pkg/orchestration"
)

var testIdentity = orchestration.Identity{
	Number: "5790001330552",
	Role:   orchestration.RoleEnergySupplier,
}

func newTestSQLiteQueue(t *testing.T) Queue {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = db.Close()
	})

	q, err := NewSQLiteQueue(db)
	if err != nil {
		t.Fatalf("NewSQLiteQueue failed: %v", err)
	}
	return q
}

func forEachQueue(t *testing.T, fn func(t *testing.T, q Queue)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryQueue(16))
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newTestSQLiteQueue(t))
	})
}

func testMessage(instanceID uuid.UUID, key, body string) Message {
	return Message{
		Kind:           KindEnqueueActorMessages,
		InstanceID:     instanceID,
		CreatedBy:      testIdentity,
		IdempotencyKey: orchestration.IdempotencyKey(key),
		Payload:        []byte(body),
		EnqueuedAt:     time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestQueue_EnqueueDequeueRoundTrip(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		id := uuid.New()

		require.NoError(t, q.Enqueue(ctx, testMessage(id, "msg-1", `{"n":1}`)))
		require.Equal(t, 1, q.Len())

		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, KindEnqueueActorMessages, got.Kind)
		assert.Equal(t, id, got.InstanceID)
		assert.Equal(t, testIdentity, got.CreatedBy)
		assert.Equal(t, orchestration.IdempotencyKey("msg-1"), got.IdempotencyKey)
		assert.JSONEq(t, `{"n":1}`, string(got.Payload))
		assert.Equal(t, 0, q.Len())
	})
}

func TestQueue_EnqueueIsIdempotent(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		id := uuid.New()

		require.NoError(t, q.Enqueue(ctx, testMessage(id, "msg-1", `{"n":1}`)))
		require.NoError(t, q.Enqueue(ctx, testMessage(id, "msg-1", `{"n":1}`)))
		assert.Equal(t, 1, q.Len())

		// Same key on a different instance is a different message.
		require.NoError(t, q.Enqueue(ctx, testMessage(uuid.New(), "msg-1", `{"n":2}`)))
		assert.Equal(t, 2, q.Len())
	})
}

func TestQueue_DequeueIsFIFO(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx := context.Background()
		id := uuid.New()

		require.NoError(t, q.Enqueue(ctx, testMessage(id, "msg-1", `{"n":1}`)))
		require.NoError(t, q.Enqueue(ctx, testMessage(id, "msg-2", `{"n":2}`)))

		first, err := q.Dequeue(ctx)
		require.NoError(t, err)
		second, err := q.Dequeue(ctx)
		require.NoError(t, err)

		assert.Equal(t, orchestration.IdempotencyKey("msg-1"), first.IdempotencyKey)
		assert.Equal(t, orchestration.IdempotencyKey("msg-2"), second.IdempotencyKey)
	})
}

func TestQueue_DequeueHonorsContextCancel(t *testing.T) {
	forEachQueue(t, func(t *testing.T, q Queue) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := q.Dequeue(ctx)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

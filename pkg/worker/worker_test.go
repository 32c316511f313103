package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridmesh/procman/internal/outbox"
	"github.com/gridmesh/procman/pkg/orchestration"
)

func newMessage(key string) outbox.Message {
	return outbox.Message{
		Kind:           outbox.KindEnqueueActorMessages,
		InstanceID:     uuid.New(),
		IdempotencyKey: orchestration.IdempotencyKey(key),
		Payload:        []byte(`{"n":1}`),
	}
}

func TestWorker_DeliversMessages(t *testing.T) {
	q := outbox.NewMemoryQueue(8)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, newMessage("a")))
	require.NoError(t, q.Enqueue(ctx, newMessage("b")))

	var got []string
	w := New(q, func(ctx context.Context, m outbox.Message) error {
		got = append(got, string(m.IdempotencyKey))
		return nil
	})

	for i := 0; i < 2; i++ {
		processed, err := w.ProcessOne(ctx)
		require.NoError(t, err)
		assert.True(t, processed)
	}
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_RetriesFailedPublish(t *testing.T) {
	q := outbox.NewMemoryQueue(8)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newMessage("a")))

	var attempts atomic.Int32
	w := NewWithConfig(q, func(ctx context.Context, m outbox.Message) error {
		if attempts.Add(1) < 3 {
			return errors.New("broker unavailable")
		}
		return nil
	}, Config{MaxAttempts: 3, Backoff: time.Millisecond})

	processed, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	q := outbox.NewMemoryQueue(8)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, newMessage("a")))

	var attempts atomic.Int32
	w := NewWithConfig(q, func(ctx context.Context, m outbox.Message) error {
		attempts.Add(1)
		return errors.New("broker unavailable")
	}, Config{MaxAttempts: 2, Backoff: time.Millisecond})

	processed, err := w.ProcessOne(ctx)
	assert.True(t, processed)
	require.Error(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestWorker_ProcessOneHonorsCancellation(t *testing.T) {
	q := outbox.NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := New(q, func(ctx context.Context, m outbox.Message) error { return nil })
	processed, err := w.ProcessOne(ctx)
	assert.False(t, processed)
	require.ErrorIs(t, err, context.Canceled)
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	q := outbox.NewMemoryQueue(8)
	ctx, cancel := context.WithCancel(context.Background())

	w := New(q, func(ctx context.Context, m outbox.Message) error { return nil })

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is an outbox backed by Redis. It uses a simple key
// structure:
//
//	<prefix>queue                      => LIST of JSON-encoded messages
//	<prefix>dedup:<instance>:<key>     => dedup marker per enqueued message
//
// Dedup markers expire after dedupTTL so the key space does not grow
// without bound; retries of the same handler land well inside the TTL.
type RedisQueue struct {
	client   *redis.Client
	prefix   string
	dedupTTL time.Duration
}

// NewRedisQueue creates a RedisQueue.
// prefix is optional but recommended (e.g. "procman:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "procman:"
	}
	return &RedisQueue{
		client:   client,
		prefix:   prefix,
		dedupTTL: 24 * time.Hour,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) keyQueue() string {
	return q.prefix + "queue"
}

func (q *RedisQueue) keyDedup(m Message) string {
	return q.prefix + "dedup:" + m.InstanceID.String() + ":" + string(m.IdempotencyKey)
}

func (q *RedisQueue) Enqueue(ctx context.Context, m Message) error {
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}

	set, err := q.client.SetNX(ctx, q.keyDedup(m), 1, q.dedupTTL).Result()
	if err != nil {
		return err
	}
	if !set {
		// Already enqueued under this key.
		return nil
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := q.client.RPush(ctx, q.keyQueue(), data).Err(); err != nil {
		// Release the marker so a retry can enqueue.
		_ = q.client.Del(ctx, q.keyDedup(m)).Err()
		return err
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		res, err := q.client.BLPop(ctx, time.Second, q.keyQueue()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				default:
					continue
				}
			}
			return nil, err
		}

		// BLPop returns [key, value].
		var m Message
		if err := json.Unmarshal([]byte(res[1]), &m); err != nil {
			return nil, err
		}
		return &m, nil
	}
}

func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.keyQueue()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}

package outbox

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// SQLiteQueue is a persistent outbox backed by SQLite, with FIFO
// semantics based on an auto-incrementing id. The unique index on
// (instance_id, idempotency_key) makes Enqueue idempotent.
type SQLiteQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewSQLiteQueue initializes the outbox table in the given DB and
// returns a new queue.
func NewSQLiteQueue(db *sql.DB) (*SQLiteQueue, error) {
	q := &SQLiteQueue{
		db:           db,
		pollInterval: 20 * time.Millisecond,
	}
	if err := q.initSchema(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *SQLiteQueue) initSchema() error {
	_, err := q.db.Exec(`
		CREATE TABLE IF NOT EXISTS outbound_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			created_by_number TEXT NOT NULL,
			created_by_role TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			payload BLOB,
			enqueued_at INTEGER NOT NULL,
			UNIQUE (instance_id, idempotency_key)
		);
	`)
	return err
}

// Ensure SQLiteQueue implements Queue.
var _ Queue = (*SQLiteQueue)(nil)

func (q *SQLiteQueue) Enqueue(ctx context.Context, m Message) error {
	enqueuedAt := m.EnqueuedAt
	if enqueuedAt.IsZero() {
		enqueuedAt = time.Now()
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbound_messages
			(kind, instance_id, created_by_number, created_by_role, idempotency_key, payload, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(m.Kind),
		m.InstanceID.String(),
		string(m.CreatedBy.Number),
		string(m.CreatedBy.Role),
		string(m.IdempotencyKey),
		m.Payload,
		enqueuedAt.UnixNano(),
	)
	return err
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tx, err := q.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}

		var (
			id            int64
			kind          string
			instanceID    string
			createdByNum  string
			createdByRole string
			key           string
			payload       []byte
			enqueuedNs    int64
		)

		row := tx.QueryRowContext(ctx, `
			SELECT id, kind, instance_id, created_by_number, created_by_role, idempotency_key, payload, enqueued_at
			FROM outbound_messages
			ORDER BY id
			LIMIT 1`)
		err = row.Scan(&id, &kind, &instanceID, &createdByNum, &createdByRole, &key, &payload, &enqueuedNs)
		if err != nil {
			_ = tx.Rollback()
			if errors.Is(err, sql.ErrNoRows) {
				// Nothing available: sleep a bit and retry.
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(q.pollInterval):
					continue
				}
			}
			return nil, err
		}

		// Delete the row we just claimed.
		if _, err := tx.ExecContext(ctx, `DELETE FROM outbound_messages WHERE id = ?`, id); err != nil {
			_ = tx.Rollback()
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}

		parsedID, err := uuid.Parse(instanceID)
		if err != nil {
			return nil, err
		}

		return &Message{
			Kind:       Kind(kind),
			InstanceID: parsedID,
			CreatedBy: orchestration.Identity{
				Number: orchestration.ActorNumber(createdByNum),
				Role:   orchestration.ActorRole(createdByRole),
			},
			IdempotencyKey: orchestration.IdempotencyKey(key),
			Payload:        payload,
			EnqueuedAt:     time.Unix(0, enqueuedNs).UTC(),
		}, nil
	}
}

func (q *SQLiteQueue) Len() int {
	var n int
	err := q.db.QueryRow(`SELECT COUNT(*) FROM outbound_messages`).Scan(&n)
	if err != nil {
		return 0
	}
	return n
}

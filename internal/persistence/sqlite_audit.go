package persistence

import (
	"context"
	"database/sql"
)

// SQLiteAuditStore stores lifecycle audit events in SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// Ensure SQLiteAuditStore implements AuditStore.
var _ AuditStore = (*SQLiteAuditStore)(nil)

func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	s := &SQLiteAuditStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteAuditStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			step INTEGER NOT NULL DEFAULT -1,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_lifecycle_events_instance_id ON lifecycle_events(instance_id, id);
	`)
	return err
}

func (s *SQLiteAuditStore) AppendEvent(ctx context.Context, ev AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (instance_id, at, type, step, detail)
		VALUES (?, ?, ?, ?, ?)`,
		ev.InstanceID,
		ev.At.UnixNano(),
		string(ev.Type),
		ev.Step,
		ev.Detail,
	)
	return err
}

func (s *SQLiteAuditStore) ListEvents(ctx context.Context, instanceID string) ([]AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, at, type, step, detail
		FROM lifecycle_events
		WHERE instance_id = ?
		ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEvent
	for rows.Next() {
		var (
			ev  AuditEvent
			atN int64
			typ string
		)
		if err := rows.Scan(&ev.InstanceID, &atN, &typ, &ev.Step, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = timeOf(atN)
		ev.Type = AuditEventType(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

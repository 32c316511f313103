package persistence

import (
	"database/sql"
)

// SQLiteStore is a Store backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	sqlStore
}

// Ensure SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database
// and returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{sqlStore{db: db, bind: bindQuestion}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orchestration_descriptions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			steps BLOB NOT NULL,
			can_be_scheduled INTEGER NOT NULL,
			is_enabled INTEGER NOT NULL,
			UNIQUE (name, version)
		);

		CREATE TABLE IF NOT EXISTS orchestration_instances (
			id TEXT PRIMARY KEY,
			description_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			actor_message_id TEXT,
			transaction_id TEXT,
			metering_point_id TEXT,
			parameter BLOB,
			custom_state BLOB,
			state TEXT NOT NULL,
			termination_state TEXT NOT NULL DEFAULT '',
			created_by_number TEXT NOT NULL,
			created_by_role TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			scheduled_to_run_at INTEGER NOT NULL DEFAULT 0,
			queued_at INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER NOT NULL DEFAULT 0,
			terminated_at INTEGER NOT NULL DEFAULT 0,
			row_version INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS orchestration_instances_active_key
			ON orchestration_instances (idempotency_key)
			WHERE state != 'TERMINATED';

		CREATE INDEX IF NOT EXISTS orchestration_instances_scheduled
			ON orchestration_instances (scheduled_to_run_at)
			WHERE state = 'PENDING';

		CREATE TABLE IF NOT EXISTS orchestration_steps (
			instance_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			description TEXT NOT NULL,
			state TEXT NOT NULL,
			termination_state TEXT NOT NULL DEFAULT '',
			custom_state BLOB,
			created_at INTEGER NOT NULL,
			started_at INTEGER NOT NULL DEFAULT 0,
			terminated_at INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (instance_id, sequence)
		);`,
	)
	return err
}

package persistence

import (
	"database/sql"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It expects an *sql.DB opened with the "pgx" driver, which importing
// this package registers:
//
//	db, err := sql.Open("pgx", dsn)
//
// Timestamps are stored as Unix-nanosecond BIGINT columns, matching
// the SQLite layout, so the two backends stay query-compatible.
type PostgresStore struct {
	sqlStore
}

// Ensure PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given
// database and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{sqlStore{db: db, bind: bindDollar}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS orchestration_descriptions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			steps BYTEA NOT NULL,
			can_be_scheduled BOOLEAN NOT NULL,
			is_enabled BOOLEAN NOT NULL,
			UNIQUE (name, version)
		);

		CREATE TABLE IF NOT EXISTS orchestration_instances (
			id TEXT PRIMARY KEY,
			description_id TEXT NOT NULL,
			idempotency_key TEXT NOT NULL,
			actor_message_id TEXT,
			transaction_id TEXT,
			metering_point_id TEXT,
			parameter BYTEA,
			custom_state BYTEA,
			state TEXT NOT NULL,
			termination_state TEXT NOT NULL DEFAULT '',
			created_by_number TEXT NOT NULL,
			created_by_role TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			scheduled_to_run_at BIGINT NOT NULL DEFAULT 0,
			queued_at BIGINT NOT NULL DEFAULT 0,
			started_at BIGINT NOT NULL DEFAULT 0,
			terminated_at BIGINT NOT NULL DEFAULT 0,
			row_version BIGINT NOT NULL
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
			custom_state BYTEA,
			created_at BIGINT NOT NULL,
			started_at BIGINT NOT NULL DEFAULT 0,
			terminated_at BIGINT NOT NULL DEFAULT 0,
			PRIMARY KEY (instance_id, sequence)
		);`,
	)
	return err
}

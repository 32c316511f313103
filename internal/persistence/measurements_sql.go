package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/measurements"
	"github.com/gridmesh/procman/pkg/orchestration"
)

// Milestones are stored as their Unix-nanosecond timestamp; 0 means not
// reached. A milestone can only be set with the current clock reading,
// so a reached milestone always has a non-zero timestamp.

const measurementsColumns = `id, created_by_number, created_by_role, created_at,
	transaction_id, metering_point_id, idempotency_key_hash,
	payload_category, payload_path,
	business_validated_at, validation_failed, sent_to_measurements_at,
	received_from_measurements_at, sent_to_enqueue_at, terminated_at, row_version`

// sqlMeasurementsStore is the shared SQL implementation behind the
// SQLite and Postgres measurements stores.
type sqlMeasurementsStore struct {
	sqlStore
}

// NewSQLiteMeasurementsStore initializes the schema and returns a
// MeasurementsStore backed by SQLite.
func NewSQLiteMeasurementsStore(db *sql.DB) (MeasurementsStore, error) {
	s := &sqlMeasurementsStore{sqlStore{db: db, bind: bindQuestion}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresMeasurementsStore initializes the schema and returns a
// MeasurementsStore backed by PostgreSQL.
//
// The DDL sticks to type names both backends accept; the payload
// itself lives in the file store, so there are no blob columns here.
func NewPostgresMeasurementsStore(db *sql.DB) (MeasurementsStore, error) {
	s := &sqlMeasurementsStore{sqlStore{db: db, bind: bindDollar}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlMeasurementsStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS measurements_instances (
			id TEXT PRIMARY KEY,
			created_by_number TEXT NOT NULL,
			created_by_role TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			transaction_id TEXT NOT NULL,
			metering_point_id TEXT,
			idempotency_key_hash TEXT NOT NULL,
			payload_category TEXT NOT NULL,
			payload_path TEXT NOT NULL,
			business_validated_at BIGINT NOT NULL DEFAULT 0,
			validation_failed BOOLEAN NOT NULL DEFAULT FALSE,
			sent_to_measurements_at BIGINT NOT NULL DEFAULT 0,
			received_from_measurements_at BIGINT NOT NULL DEFAULT 0,
			sent_to_enqueue_at BIGINT NOT NULL DEFAULT 0,
			terminated_at BIGINT NOT NULL DEFAULT 0,
			row_version BIGINT NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS measurements_instances_active_key
			ON measurements_instances (idempotency_key_hash)
			WHERE terminated_at = 0;`,
	)
	return err
}

func (s *sqlMeasurementsStore) Add(ctx context.Context, inst *measurements.Instance) error {
	snap := inst.Snapshot()
	snap.RowVersion = 1

	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO measurements_instances (`+measurementsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		snap.ID.String(),
		string(snap.CreatedBy.Number),
		string(snap.CreatedBy.Role),
		nsOf(snap.CreatedAt),
		snap.TransactionID,
		snap.MeteringPointID,
		snap.IdempotencyKeyHash,
		snap.Payload.Category,
		snap.Payload.Path,
		nsOf(snap.BusinessValidated.At),
		snap.ValidationFailed,
		nsOf(snap.SentToMeasurements.At),
		nsOf(snap.ReceivedFromMeasurements.At),
		nsOf(snap.SentToEnqueue.At),
		nsOf(snap.Terminated.At),
		snap.RowVersion,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("instance %s: %w", snap.ID, ErrDuplicate)
	}
	return err
}

func (s *sqlMeasurementsStore) Get(ctx context.Context, id uuid.UUID) (*measurements.Instance, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+measurementsColumns+` FROM measurements_instances WHERE id = ?`),
		id.String(),
	)
	return scanMeasurements(row)
}

func (s *sqlMeasurementsStore) GetByIdempotencyKeyHash(ctx context.Context, hash string) (*measurements.Instance, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT `+measurementsColumns+`
		FROM measurements_instances
		WHERE idempotency_key_hash = ? AND terminated_at = 0`),
		hash,
	)
	return scanMeasurements(row)
}

func (s *sqlMeasurementsStore) Save(ctx context.Context, inst *measurements.Instance) error {
	snap := inst.Snapshot()

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE measurements_instances
		SET business_validated_at = ?, validation_failed = ?,
			sent_to_measurements_at = ?, received_from_measurements_at = ?,
			sent_to_enqueue_at = ?, terminated_at = ?, row_version = ?
		WHERE id = ? AND row_version = ?`),
		nsOf(snap.BusinessValidated.At),
		snap.ValidationFailed,
		nsOf(snap.SentToMeasurements.At),
		nsOf(snap.ReceivedFromMeasurements.At),
		nsOf(snap.SentToEnqueue.At),
		nsOf(snap.Terminated.At),
		snap.RowVersion+1,
		snap.ID.String(), snap.RowVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, s.rebind(`
			SELECT EXISTS (SELECT 1 FROM measurements_instances WHERE id = ?)`),
			snap.ID.String(),
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("instance %s: %w", snap.ID, ErrNotFound)
		}
		return fmt.Errorf("instance %s: %w", snap.ID, ErrConcurrency)
	}
	return nil
}

func (s *sqlMeasurementsStore) FindUnterminated(ctx context.Context, createdAtOrBefore time.Time) ([]*measurements.Instance, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT `+measurementsColumns+`
		FROM measurements_instances
		WHERE terminated_at = 0 AND created_at <= ?
		ORDER BY created_at`),
		createdAtOrBefore.UnixNano(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*measurements.Instance
	for rows.Next() {
		inst, err := scanMeasurements(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func scanMeasurements(row rowScanner) (*measurements.Instance, error) {
	var (
		snap          measurements.Snapshot
		id            string
		createdByNum  string
		createdByRole string
		createdNs     int64
		validatedNs   int64
		sentNs        int64
		receivedNs    int64
		enqueuedNs    int64
		terminatedNs  int64
	)

	err := row.Scan(
		&id, &createdByNum, &createdByRole, &createdNs,
		&snap.TransactionID, &snap.MeteringPointID, &snap.IdempotencyKeyHash,
		&snap.Payload.Category, &snap.Payload.Path,
		&validatedNs, &snap.ValidationFailed, &sentNs,
		&receivedNs, &enqueuedNs, &terminatedNs, &snap.RowVersion,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if snap.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse instance id: %w", err)
	}
	snap.CreatedBy = orchestration.Identity{
		Number: orchestration.ActorNumber(createdByNum),
		Role:   orchestration.ActorRole(createdByRole),
	}
	snap.CreatedAt = timeOf(createdNs)
	snap.BusinessValidated = milestoneOf(validatedNs)
	snap.SentToMeasurements = milestoneOf(sentNs)
	snap.ReceivedFromMeasurements = milestoneOf(receivedNs)
	snap.SentToEnqueue = milestoneOf(enqueuedNs)
	snap.Terminated = milestoneOf(terminatedNs)
	return measurements.Restore(snap), nil
}

func milestoneOf(ns int64) measurements.Milestone {
	if ns == 0 {
		return measurements.Milestone{}
	}
	return measurements.Milestone{Done: true, At: timeOf(ns)}
}

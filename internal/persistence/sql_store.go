package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// bindStyle selects the placeholder syntax of the backing database.
type bindStyle int

const (
	bindQuestion bindStyle = iota // SQLite: ?
	bindDollar                    // Postgres: $1, $2, ...
)

// sqlStore is the shared implementation behind SQLiteStore and
// PostgresStore. Queries are written with ? placeholders and rebound
// for Postgres.
type sqlStore struct {
	db   *sql.DB
	bind bindStyle
}

// rebind rewrites ? placeholders to the store's bind style.
func (s *sqlStore) rebind(query string) string {
	if s.bind == bindQuestion {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isUniqueViolation detects unique-constraint errors across drivers
// without binding to driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate key")
}

func (s *sqlStore) AddDescription(ctx context.Context, d *orchestration.OrchestrationDescription) error {
	if err := d.Validate(); err != nil {
		return err
	}
	steps, err := encodeStepDescriptions(d.Steps)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO orchestration_descriptions (id, name, version, steps, can_be_scheduled, is_enabled)
		VALUES (?, ?, ?, ?, ?, ?)`),
		d.ID.String(), d.Name, d.Version, steps, d.CanBeScheduled, d.IsEnabled,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("description %q v%d: %w", d.Name, d.Version, ErrDuplicate)
	}
	return err
}

func (s *sqlStore) GetDescription(ctx context.Context, id uuid.UUID) (*orchestration.OrchestrationDescription, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, version, steps, can_be_scheduled, is_enabled
		FROM orchestration_descriptions
		WHERE id = ?`),
		id.String(),
	)
	return scanDescription(row)
}

func (s *sqlStore) GetDescriptionByName(ctx context.Context, name string, version int) (*orchestration.OrchestrationDescription, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, version, steps, can_be_scheduled, is_enabled
		FROM orchestration_descriptions
		WHERE name = ? AND version = ?`),
		name, version,
	)
	return scanDescription(row)
}

func scanDescription(row rowScanner) (*orchestration.OrchestrationDescription, error) {
	var (
		d     orchestration.OrchestrationDescription
		id    string
		steps []byte
	)
	if err := row.Scan(&id, &d.Name, &d.Version, &steps, &d.CanBeScheduled, &d.IsEnabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDescriptionNotFound
		}
		return nil, err
	}

	var err error
	if d.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse description id: %w", err)
	}
	if d.Steps, err = decodeStepDescriptions(steps); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *sqlStore) SetDescriptionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE orchestration_descriptions SET is_enabled = ? WHERE id = ?`),
		enabled, id.String(),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrDescriptionNotFound
	}
	return nil
}

func (s *sqlStore) Begin(ctx context.Context) (UnitOfWork, error) {
	return &sqlUnitOfWork{
		store:   s,
		tracked: make(map[uuid.UUID]*trackedInstance),
	}, nil
}

// sqlUnitOfWork reads outside any transaction and opens a short
// transaction only at Commit, relying on row versions rather than
// held locks for isolation.
type sqlUnitOfWork struct {
	store   *sqlStore
	tracked map[uuid.UUID]*trackedInstance
	done    bool
}

func (u *sqlUnitOfWork) Get(ctx context.Context, id uuid.UUID) (*orchestration.OrchestrationInstance, error) {
	if t, ok := u.tracked[id]; ok {
		return t.inst, nil
	}
	snap, err := u.loadOne(ctx, `WHERE id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	return u.track(snap), nil
}

func (u *sqlUnitOfWork) GetByIdempotencyKey(ctx context.Context, key orchestration.IdempotencyKey) (*orchestration.OrchestrationInstance, error) {
	snap, err := u.loadOne(ctx, `
		WHERE idempotency_key = ?
		ORDER BY CASE WHEN state = 'TERMINATED' THEN 1 ELSE 0 END, created_at DESC
		LIMIT 1`,
		string(key),
	)
	if err != nil {
		return nil, err
	}
	if t, ok := u.tracked[snap.ID]; ok {
		return t.inst, nil
	}
	return u.track(snap), nil
}

func (u *sqlUnitOfWork) Add(ctx context.Context, inst *orchestration.OrchestrationInstance) error {
	if _, ok := u.tracked[inst.ID()]; ok {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrDuplicate)
	}
	var exists bool
	err := u.store.db.QueryRowContext(ctx, u.store.rebind(`
		SELECT EXISTS (SELECT 1 FROM orchestration_instances WHERE id = ?)`),
		inst.ID().String(),
	).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("instance %s: %w", inst.ID(), ErrDuplicate)
	}

	u.tracked[inst.ID()] = &trackedInstance{inst: inst, added: true}
	return nil
}

func (u *sqlUnitOfWork) FindScheduled(ctx context.Context, runAtOrBefore time.Time) ([]*orchestration.OrchestrationInstance, error) {
	snaps, err := u.loadMany(ctx, `
		WHERE state = 'PENDING' AND scheduled_to_run_at != 0 AND scheduled_to_run_at <= ?
		ORDER BY scheduled_to_run_at`,
		runAtOrBefore.UnixNano(),
	)
	if err != nil {
		return nil, err
	}

	out := make([]*orchestration.OrchestrationInstance, 0, len(snaps))
	for _, snap := range snaps {
		if t, ok := u.tracked[snap.ID]; ok {
			out = append(out, t.inst)
			continue
		}
		out = append(out, u.track(snap))
	}
	return out, nil
}

func (u *sqlUnitOfWork) Search(ctx context.Context, f Filter) ([]*orchestration.OrchestrationInstance, error) {
	var clauses []string
	var args []any

	if f.Name != "" || f.Version != 0 {
		sub := `description_id IN (SELECT id FROM orchestration_descriptions WHERE 1=1`
		if f.Name != "" {
			sub += ` AND name = ?`
			args = append(args, f.Name)
		}
		if f.Version != 0 {
			sub += ` AND version = ?`
			args = append(args, f.Version)
		}
		clauses = append(clauses, sub+`)`)
	}
	if f.State != "" {
		clauses = append(clauses, `state = ?`)
		args = append(args, string(f.State))
	}
	if f.TerminationState != "" {
		clauses = append(clauses, `termination_state = ?`)
		args = append(args, string(f.TerminationState))
	}
	timeBound := func(column string, after, before time.Time) {
		if !after.IsZero() {
			clauses = append(clauses, column+` != 0 AND `+column+` >= ?`)
			args = append(args, after.UnixNano())
		}
		if !before.IsZero() {
			clauses = append(clauses, column+` != 0 AND `+column+` <= ?`)
			args = append(args, before.UnixNano())
		}
	}
	timeBound(`started_at`, f.StartedAfter, f.StartedBefore)
	timeBound(`terminated_at`, f.TerminatedAfter, f.TerminatedBefore)
	timeBound(
		`(CASE WHEN scheduled_to_run_at != 0 THEN scheduled_to_run_at ELSE queued_at END)`,
		f.ActivatedAfter, f.ActivatedBefore,
	)

	where := ``
	if len(clauses) > 0 {
		where = `WHERE ` + strings.Join(clauses, ` AND `)
	}

	snaps, err := u.loadMany(ctx, where+` ORDER BY created_at`, args...)
	if err != nil {
		return nil, err
	}

	// Search results are read-only projections, never tracked.
	out := make([]*orchestration.OrchestrationInstance, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, orchestration.RestoreInstance(snap))
	}
	return out, nil
}

func (u *sqlUnitOfWork) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work already completed")
	}
	u.done = true

	tx, err := u.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rebind := u.store.rebind
	for id, t := range u.tracked {
		if t.added {
			if err := insertInstance(ctx, tx, rebind, t.inst.Snapshot()); err != nil {
				return err
			}
			continue
		}

		cur := t.inst.Snapshot()
		if snapshotsEqual(cur, t.loaded) {
			continue
		}
		if err := updateInstance(ctx, tx, rebind, cur, t.loaded.RowVersion); err != nil {
			return fmt.Errorf("instance %s: %w", id, err)
		}
	}

	return tx.Commit()
}

func (u *sqlUnitOfWork) Rollback() error {
	u.done = true
	return nil
}

func insertInstance(ctx context.Context, tx *sql.Tx, rebind func(string) string, snap orchestration.InstanceSnapshot) error {
	snap.RowVersion = 1
	args, err := instanceArgs(snap)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, rebind(`
		INSERT INTO orchestration_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		args...,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("instance %s: %w", snap.ID, ErrDuplicate)
	}
	if err != nil {
		return err
	}

	for _, step := range snap.Steps {
		sArgs, err := stepArgs(snap.ID, step)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, rebind(`
			INSERT INTO orchestration_steps (`+stepColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			sArgs...,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func updateInstance(ctx context.Context, tx *sql.Tx, rebind func(string) string, snap orchestration.InstanceSnapshot, loadedVersion int64) error {
	custom, err := encodeCustomState(snap.CustomState)
	if err != nil {
		return err
	}
	l := snap.Lifecycle

	res, err := tx.ExecContext(ctx, rebind(`
		UPDATE orchestration_instances
		SET custom_state = ?, state = ?, termination_state = ?,
			scheduled_to_run_at = ?, queued_at = ?, started_at = ?, terminated_at = ?,
			row_version = ?
		WHERE id = ? AND row_version = ?`),
		custom, string(l.State), string(l.TerminationState),
		nsOf(l.ScheduledToRunAt), nsOf(l.QueuedAt), nsOf(l.StartedAt), nsOf(l.TerminatedAt),
		loadedVersion+1,
		snap.ID.String(), loadedVersion,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConcurrency
	}

	for _, step := range snap.Steps {
		stepCustom, err := encodeCustomState(step.CustomState)
		if err != nil {
			return err
		}
		sl := step.Lifecycle
		_, err = tx.ExecContext(ctx, rebind(`
			UPDATE orchestration_steps
			SET state = ?, termination_state = ?, custom_state = ?,
				started_at = ?, terminated_at = ?
			WHERE instance_id = ? AND sequence = ?`),
			string(sl.State), string(sl.TerminationState), stepCustom,
			nsOf(sl.StartedAt), nsOf(sl.TerminatedAt),
			snap.ID.String(), step.Sequence,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *sqlUnitOfWork) track(snap orchestration.InstanceSnapshot) *orchestration.OrchestrationInstance {
	inst := orchestration.RestoreInstance(cloneSnapshot(snap))
	u.tracked[snap.ID] = &trackedInstance{inst: inst, loaded: snap}
	return inst
}

// loadOne reads a single instance row plus its steps.
func (u *sqlUnitOfWork) loadOne(ctx context.Context, where string, args ...any) (orchestration.InstanceSnapshot, error) {
	row := u.store.db.QueryRowContext(ctx, u.store.rebind(`
		SELECT `+instanceColumns+` FROM orchestration_instances `+where),
		args...,
	)
	snap, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return orchestration.InstanceSnapshot{}, ErrNotFound
		}
		return orchestration.InstanceSnapshot{}, err
	}
	if snap.Steps, err = u.loadSteps(ctx, snap.ID); err != nil {
		return orchestration.InstanceSnapshot{}, err
	}
	return snap, nil
}

func (u *sqlUnitOfWork) loadMany(ctx context.Context, where string, args ...any) ([]orchestration.InstanceSnapshot, error) {
	rows, err := u.store.db.QueryContext(ctx, u.store.rebind(`
		SELECT `+instanceColumns+` FROM orchestration_instances `+where),
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []orchestration.InstanceSnapshot
	for rows.Next() {
		snap, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range snaps {
		if snaps[i].Steps, err = u.loadSteps(ctx, snaps[i].ID); err != nil {
			return nil, err
		}
	}
	return snaps, nil
}

func (u *sqlUnitOfWork) loadSteps(ctx context.Context, instanceID uuid.UUID) ([]orchestration.StepSnapshot, error) {
	rows, err := u.store.db.QueryContext(ctx, u.store.rebind(`
		SELECT `+stepColumns+`
		FROM orchestration_steps
		WHERE instance_id = ?
		ORDER BY sequence`),
		instanceID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []orchestration.StepSnapshot
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

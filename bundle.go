package procman

import (
	"database/sql"

	"go.uber.org/multierr"

	"github.com/gridmesh/procman/internal/persistence"
)

// SQLiteBundle wires the instance store, the milestone store, the
// outbox and the audit log over a single SQLite database, so a
// single-file deployment gets every durable concern in one place.
type SQLiteBundle struct {
	Store        Store
	Measurements MeasurementsStore
	Outbox       Queue
	Audit        AuditStore
}

// NewSQLiteBundle constructs the bundle, creating any missing schema in
// the provided *sql.DB. The caller owns the database handle.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:procman.db?_journal=WAL")
//	bundle, err := procman.NewSQLiteBundle(db)
//	cfg := bundle.Config(files, masterData)
func NewSQLiteBundle(db *sql.DB) (*SQLiteBundle, error) {
	store, serr := persistence.NewSQLiteStore(db)
	msts, merr := persistence.NewSQLiteMeasurementsStore(db)
	queue, qerr := NewSQLiteOutbox(db)
	audit, aerr := persistence.NewSQLiteAuditStore(db)
	if err := multierr.Combine(serr, merr, qerr, aerr); err != nil {
		return nil, err
	}
	return &SQLiteBundle{
		Store:        store,
		Measurements: msts,
		Outbox:       queue,
		Audit:        audit,
	}, nil
}

// Config assembles a handler Config over the bundle's stores, with
// lifecycle events mirrored into the audit log. Clock, validator and
// receivers fall back to the handler defaults.
func (b *SQLiteBundle) Config(files FileStore, masterData MasterDataProvider) Config {
	clock := SystemClock{}
	return Config{
		Store:        b.Store,
		Measurements: b.Measurements,
		Outbox:       b.Outbox,
		Files:        files,
		MasterData:   masterData,
		Clock:        clock,
		Observer:     NewAuditObserver(b.Audit, clock),
	}
}

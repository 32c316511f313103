package procman

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gridmesh/procman/internal/blob"
	"github.com/gridmesh/procman/internal/handler"
	"github.com/gridmesh/procman/internal/outbox"
	"github.com/gridmesh/procman/internal/persistence"
	"github.com/gridmesh/procman/pkg/measurements"
	"github.com/gridmesh/procman/pkg/orchestration"
)

// Re-export key types so users don't need to dig into the sub-packages.

type (
	Clock       = orchestration.Clock
	SystemClock = orchestration.SystemClock
	FakeClock   = orchestration.FakeClock

	ActorNumber    = orchestration.ActorNumber
	ActorRole      = orchestration.ActorRole
	Identity       = orchestration.Identity
	IdempotencyKey = orchestration.IdempotencyKey

	OrchestrationDescription = orchestration.OrchestrationDescription
	StepDescription          = orchestration.StepDescription
	OrchestrationInstance    = orchestration.OrchestrationInstance
	StepInstance             = orchestration.StepInstance
	CustomState              = orchestration.CustomState

	InstanceState        = orchestration.InstanceState
	TerminationState     = orchestration.TerminationState
	StepState            = orchestration.StepState
	StepTerminationState = orchestration.StepTerminationState

	Observer             = orchestration.Observer
	NoopObserver         = orchestration.NoopObserver
	CompositeObserver    = orchestration.CompositeObserver
	LoggingObserver      = orchestration.LoggingObserver
	BasicMetrics         = orchestration.BasicMetrics
	BasicMetricsSnapshot = orchestration.BasicMetricsSnapshot

	Store                = persistence.Store
	MeasurementsStore    = persistence.MeasurementsStore
	UnitOfWork           = persistence.UnitOfWork
	Filter               = persistence.Filter
	Enqueuer             = outbox.Enqueuer
	Queue                = outbox.Queue
	Message              = outbox.Message
	FileStore            = blob.FileStore
	Reference            = blob.Reference
	AuditStore           = persistence.AuditStore
	AuditEvent           = persistence.AuditEvent
	MeasurementsInstance = measurements.Instance

	Config                    = handler.Config
	ForwardMeteredDataRequest = handler.ForwardMeteredDataRequest
	StartHandler              = handler.StartHandler
	ProgressHandler           = handler.ProgressHandler
	TerminateHandler          = handler.TerminateHandler
	CancelHandler             = handler.CancelHandler
	ScheduleHandler           = handler.ScheduleHandler
	SendMeasurementsHandler   = handler.SendMeasurementsHandler
	Starter                   = handler.Starter
	StartResult               = handler.StartResult
	FeatureFlags              = handler.FeatureFlags
	StaticFlags               = handler.StaticFlags
	MasterDataProvider        = handler.MasterDataProvider
	StaticMasterData          = handler.StaticMasterData
)

// Re-export lifecycle states for convenience.

const (
	StatePending    = orchestration.StatePending
	StateQueued     = orchestration.StateQueued
	StateRunning    = orchestration.StateRunning
	StateTerminated = orchestration.StateTerminated

	TerminationSucceeded    = orchestration.TerminationSucceeded
	TerminationFailed       = orchestration.TerminationFailed
	TerminationUserCanceled = orchestration.TerminationUserCanceled

	StepSucceeded = orchestration.StepSucceeded
	StepFailed    = orchestration.StepFailed
	StepSkipped   = orchestration.StepSkipped
)

// Re-export sentinel errors and observer helpers.

var (
	ErrNotFound    = persistence.ErrNotFound
	ErrConcurrency = persistence.ErrConcurrency
	ErrDuplicate   = persistence.ErrDuplicate

	NewLoggingObserver   = orchestration.NewLoggingObserver
	NewCompositeObserver = orchestration.NewCompositeObserver

	NewStartHandler            = handler.NewStartHandler
	NewProgressHandler         = handler.NewProgressHandler
	NewTerminateHandler        = handler.NewTerminateHandler
	NewCancelHandler           = handler.NewCancelHandler
	NewScheduleHandler         = handler.NewScheduleHandler
	NewSendMeasurementsHandler = handler.NewSendMeasurementsHandler
	NewStarter                 = handler.NewStarter

	RegisterDescriptions = handler.RegisterDescriptions
)

// Store constructors
// These wrap the internal packages so external callers never need to
// import them.

// NewMemoryStore returns a Store backed entirely by in-process maps.
// Non-durable; best for tests.
func NewMemoryStore() Store {
	return persistence.NewMemoryStore()
}

// NewSQLiteStore returns a Store that persists instances in a SQLite
// database, creating the schema if needed.
func NewSQLiteStore(db *sql.DB) (Store, error) {
	return persistence.NewSQLiteStore(db)
}

// NewPostgresStore returns a Store that persists instances in
// PostgreSQL. The caller opens the *sql.DB via a registered Postgres
// driver (e.g. github.com/jackc/pgx/v5/stdlib).
func NewPostgresStore(db *sql.DB) (Store, error) {
	return persistence.NewPostgresStore(db)
}

// NewMemoryMeasurementsStore returns an in-process store for the
// milestone-based send-measurements aggregate.
func NewMemoryMeasurementsStore() MeasurementsStore {
	return persistence.NewMemoryMeasurementsStore()
}

// NewSQLiteMeasurementsStore returns a SQLite-backed store for the
// milestone-based send-measurements aggregate.
func NewSQLiteMeasurementsStore(db *sql.DB) (MeasurementsStore, error) {
	return persistence.NewSQLiteMeasurementsStore(db)
}

// Outbox constructors

// NewMemoryOutbox returns an in-process outbound message queue.
func NewMemoryOutbox(capacity int) Queue {
	return outbox.NewMemoryQueue(capacity)
}

// NewSQLiteOutbox returns a durable outbound message queue sharing the
// given SQLite database.
func NewSQLiteOutbox(db *sql.DB) (Queue, error) {
	return outbox.NewSQLiteQueue(db)
}

// NewRedisOutbox returns an outbound message queue backed by a Redis
// list, with SETNX-based enqueue dedup.
func NewRedisOutbox(client *redis.Client, prefix string) Queue {
	return outbox.NewRedisQueue(client, prefix)
}

// Blob store constructors

// NewMemoryFileStore returns an in-process payload store.
func NewMemoryFileStore() FileStore {
	return blob.NewMemoryFileStore()
}

// NewFSFileStore returns a payload store rooted at the given directory.
func NewFSFileStore(root string) (FileStore, error) {
	return blob.NewFSFileStore(root)
}

// NewAuditObserver returns an Observer that appends lifecycle events to
// the given audit store.
func NewAuditObserver(store AuditStore, clock Clock) Observer {
	return persistence.NewAuditObserver(store, clock)
}

// NewSQLiteAuditStore returns an append-only lifecycle event log in the
// given SQLite database.
func NewSQLiteAuditStore(db *sql.DB) (AuditStore, error) {
	return persistence.NewSQLiteAuditStore(db)
}

// Convenience helpers that just forward to the underlying handlers.

// Start handles one inbound forward-metered-data request.
func Start(ctx context.Context, cfg Config, req ForwardMeteredDataRequest) (*OrchestrationInstance, error) {
	return handler.NewStartHandler(cfg).Start(ctx, req)
}

// Progress advances an instance on the measurements-stored notification.
func Progress(ctx context.Context, cfg Config, id uuid.UUID) error {
	return handler.NewProgressHandler(cfg).Progress(ctx, id)
}

// Terminate closes an instance on the messages-delivered notification.
func Terminate(ctx context.Context, cfg Config, id uuid.UUID) error {
	return handler.NewTerminateHandler(cfg).Terminate(ctx, id)
}

// Cancel terminates a not-yet-running instance on user request.
func Cancel(ctx context.Context, cfg Config, id uuid.UUID) error {
	return handler.NewCancelHandler(cfg).Cancel(ctx, id)
}

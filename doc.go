// Package procman provides a durable business-process orchestration
// engine for energy-market data platforms.
//
// Procman tracks long-running, multi-step business processes — its
// first family being BRS-021 forward metered data — as persistent
// aggregates with guarded lifecycle state machines. It is a library,
// not a runtime: an external host (message consumer, HTTP server, cron)
// invokes the handlers, and every handler is safe to re-invoke under
// at-least-once delivery.
//
// # Core Concepts
//
//  1. OrchestrationDescription — the static shape of a process: a
//     unique (name, version) and an ordered list of steps.
//  2. OrchestrationInstance — one durable occurrence of a process,
//     with a guarded lifecycle (Pending → Queued → Running →
//     Terminated) and per-step lifecycles.
//  3. Store / UnitOfWork — the repository contract: load aggregates,
//     mutate them in memory, commit atomically with optimistic
//     concurrency. Memory, SQLite and Postgres implementations.
//  4. Handlers — idempotent Start / Progress / Terminate / Cancel
//     operations plus a scheduling sweep. Retried invocations converge
//     on the same result instead of duplicating work.
//  5. Outbox — the outbound actor-message boundary, idempotent on
//     (instance, message key). Memory, SQLite and Redis backends.
//
// # Idempotency
//
// Every external effect is keyed. Starting the same request twice
// returns the first instance untouched; re-delivering a progress
// notification re-uses the message keys cached in step state, and the
// outbox drops duplicates. Commits are version-checked: a handler that
// loses an optimistic-concurrency race fails with ErrConcurrency and
// can simply be re-run (see RetryOnConflict).
//
// # Persistence
//
// Aggregates round-trip through snapshots, so stores never reach into
// lifecycle internals. Backends:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability, modernc.org/sqlite)
//   - PostgreSQL (via a database/sql driver such as pgx)
//
// NewSQLiteBundle wires the instance store, the milestone store, the
// outbox and the audit log over a single SQLite database.
//
// # Running scheduled instances
//
// A request may carry a future run time; the instance then waits in
// Pending until a sweep queues it. Runner polls the store and drives
// due instances through the start pipeline:
//
//	runner := procman.NewRunner(cfg, time.Second)
//	_ = runner.Start(ctx)
//	defer runner.Stop()
//
// # Observability
//
// Handlers report lifecycle events through an Observer. Implementations
// include LoggingObserver (log/slog), BasicMetrics (atomic counters),
// an audit-log observer, and CompositeObserver to combine them.
package procman

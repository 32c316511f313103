// Package worker delivers outbound actor messages from the outbox to a
// caller-supplied publish function.
//
// The engine itself never talks to a transport; handlers enqueue
// messages on the outbox and a Worker drains it. Delivery is
// at-least-once: the publish function must tolerate duplicates, which
// the per-message idempotency keys make cheap on the receiving side.
package worker

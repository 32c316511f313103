package orchestration

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from handlers for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be
// done asynchronously so as not to delay handler execution.
type Observer interface {
	// OnInstanceStarted is called once after the commit that creates a
	// new instance succeeds. A failed or conflicted creating commit
	// emits no event.
	OnInstanceStarted(ctx context.Context, inst *OrchestrationInstance)

	// OnInstanceTerminated is called when an instance reaches
	// StateTerminated, with the termination state on the lifecycle.
	OnInstanceTerminated(ctx context.Context, inst *OrchestrationInstance)

	// OnStepStarted is called when a step transitions to StepRunning.
	OnStepStarted(ctx context.Context, inst *OrchestrationInstance, sequence int)

	// OnStepTerminated is called when a step reaches StepTerminated, for
	// all termination states including StepSkipped.
	OnStepTerminated(ctx context.Context, inst *OrchestrationInstance, sequence int, ts StepTerminationState, duration time.Duration)

	// OnCommitConflict is called when a unit-of-work commit loses an
	// optimistic-concurrency race and the handler will be retried.
	OnCommitConflict(ctx context.Context, instanceID string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, inst *OrchestrationInstance)    {}
func (NoopObserver) OnInstanceTerminated(ctx context.Context, inst *OrchestrationInstance) {}
func (NoopObserver) OnStepStarted(ctx context.Context, inst *OrchestrationInstance, sequence int) {
}
func (NoopObserver) OnStepTerminated(ctx context.Context, inst *OrchestrationInstance, sequence int, ts StepTerminationState, d time.Duration) {
}
func (NoopObserver) OnCommitConflict(ctx context.Context, instanceID string, err error) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, inst *OrchestrationInstance) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceTerminated(ctx context.Context, inst *OrchestrationInstance) {
	for _, o := range c.observers {
		o.OnInstanceTerminated(ctx, inst)
	}
}

func (c *CompositeObserver) OnStepStarted(ctx context.Context, inst *OrchestrationInstance, sequence int) {
	for _, o := range c.observers {
		o.OnStepStarted(ctx, inst, sequence)
	}
}

func (c *CompositeObserver) OnStepTerminated(ctx context.Context, inst *OrchestrationInstance, sequence int, ts StepTerminationState, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepTerminated(ctx, inst, sequence, ts, d)
	}
}

func (c *CompositeObserver) OnCommitConflict(ctx context.Context, instanceID string, err error) {
	for _, o := range c.observers {
		o.OnCommitConflict(ctx, instanceID, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance / step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, inst *OrchestrationInstance) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("instance_id", inst.ID().String()),
		slog.String("idempotency_key", string(inst.IdempotencyKey())),
	)
}

func (o *LoggingObserver) OnInstanceTerminated(ctx context.Context, inst *OrchestrationInstance) {
	level := slog.LevelInfo
	if inst.Lifecycle().TerminationState() == TerminationFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "instance_terminated",
		slog.String("instance_id", inst.ID().String()),
		slog.String("termination_state", string(inst.Lifecycle().TerminationState())),
	)
}

func (o *LoggingObserver) OnStepStarted(ctx context.Context, inst *OrchestrationInstance, sequence int) {
	o.Logger.DebugContext(ctx, "step_started",
		slog.String("instance_id", inst.ID().String()),
		slog.Int("sequence", sequence),
	)
}

func (o *LoggingObserver) OnStepTerminated(ctx context.Context, inst *OrchestrationInstance, sequence int, ts StepTerminationState, d time.Duration) {
	level := slog.LevelDebug
	if ts == StepFailed {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_terminated",
		slog.String("instance_id", inst.ID().String()),
		slog.Int("sequence", sequence),
		slog.String("termination_state", string(ts)),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnCommitConflict(ctx context.Context, instanceID string, err error) {
	o.Logger.WarnContext(ctx, "commit_conflict",
		slog.String("instance_id", instanceID),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters for instance and step outcomes.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted    atomic.Int64
	instancesSucceeded  atomic.Int64
	instancesFailed     atomic.Int64
	instancesCanceled   atomic.Int64
	stepsTerminated     atomic.Int64
	commitConflicts     atomic.Int64
	totalStepDurationNs atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesSucceeded int64
	InstancesFailed    int64
	InstancesCanceled  int64
	StepsTerminated    int64
	CommitConflicts    int64
	AvgStepDuration    time.Duration
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, inst *OrchestrationInstance) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceTerminated(ctx context.Context, inst *OrchestrationInstance) {
	switch inst.Lifecycle().TerminationState() {
	case TerminationSucceeded:
		m.instancesSucceeded.Add(1)
	case TerminationFailed:
		m.instancesFailed.Add(1)
	case TerminationUserCanceled:
		m.instancesCanceled.Add(1)
	}
}

func (m *BasicMetrics) OnStepTerminated(ctx context.Context, inst *OrchestrationInstance, sequence int, ts StepTerminationState, d time.Duration) {
	m.stepsTerminated.Add(1)
	m.totalStepDurationNs.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnCommitConflict(ctx context.Context, instanceID string, err error) {
	m.commitConflicts.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsTerminated.Load()
	totalNs := m.totalStepDurationNs.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		InstancesStarted:   m.instancesStarted.Load(),
		InstancesSucceeded: m.instancesSucceeded.Load(),
		InstancesFailed:    m.instancesFailed.Load(),
		InstancesCanceled:  m.instancesCanceled.Load(),
		StepsTerminated:    steps,
		CommitConflicts:    m.commitConflicts.Load(),
		AvgStepDuration:    avg,
	}
}

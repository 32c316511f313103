package handler

import "context"

// Feature flag names understood by this package.
const (
	// FlagUseMilestoneInstances routes new forward-metered-data starts to
	// the milestone-based aggregate instead of the generic step machine.
	FlagUseMilestoneInstances = "brs021-milestone-instances"
)

// FeatureFlags answers yes/no feature questions. Unknown flags are off.
type FeatureFlags interface {
	IsEnabled(ctx context.Context, name string) bool
}

// StaticFlags is a fixed in-process FeatureFlags, mainly for tests and
// single-binary deployments.
type StaticFlags map[string]bool

func (f StaticFlags) IsEnabled(ctx context.Context, name string) bool {
	return f[name]
}

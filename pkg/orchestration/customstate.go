package orchestration

import (
	"encoding/json"
	"fmt"
)

// CustomState is an engine-opaque blob attached to instances and steps.
//
// Handlers use it to remember intermediate results (cached validation
// errors, idempotency keys minted while executing a step) so that
// re-execution is a cache read instead of a recomputation. The payload is
// a versioned envelope rather than a bare blob: readers switch on
// SchemaVersion, which lets two shapes of the same state coexist while a
// process family migrates from one to the other.
type CustomState struct {
	SchemaVersion int             `json:"schemaVersion"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewCustomState marshals v into a CustomState with the given schema
// version.
func NewCustomState(schemaVersion int, v any) (CustomState, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return CustomState{}, fmt.Errorf("marshal custom state: %w", err)
	}
	return CustomState{SchemaVersion: schemaVersion, Data: data}, nil
}

// Unmarshal decodes the state payload into v. It is the caller's job to
// pick the right target type for the envelope's SchemaVersion.
func (s CustomState) Unmarshal(v any) error {
	if len(s.Data) == 0 {
		return fmt.Errorf("custom state is empty")
	}
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("unmarshal custom state (schema v%d): %w", s.SchemaVersion, err)
	}
	return nil
}

// IsZero reports whether no state has been stored yet.
func (s CustomState) IsZero() bool {
	return s.SchemaVersion == 0 && len(s.Data) == 0
}

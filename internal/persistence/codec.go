package persistence

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/gridmesh/procman/pkg/orchestration"
)

// Timestamps are stored as Unix nanoseconds; 0 means "not set" and maps
// to the zero time.Time on the way back.

func nsOf(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func timeOf(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

// encodeCustomState serializes a custom-state envelope. A zero envelope
// encodes to nil so the column stays NULL until state is written.
func encodeCustomState(s orchestration.CustomState) ([]byte, error) {
	if s.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode custom state: %w", err)
	}
	return data, nil
}

func decodeCustomState(data []byte) (orchestration.CustomState, error) {
	if len(data) == 0 {
		return orchestration.CustomState{}, nil
	}
	var s orchestration.CustomState
	if err := json.Unmarshal(data, &s); err != nil {
		return orchestration.CustomState{}, fmt.Errorf("decode custom state: %w", err)
	}
	return s, nil
}

// encodeStepDescriptions serializes a description's ordered step list.
func encodeStepDescriptions(steps []orchestration.StepDescription) ([]byte, error) {
	return json.Marshal(steps)
}

func decodeStepDescriptions(data []byte) ([]orchestration.StepDescription, error) {
	var steps []orchestration.StepDescription
	if err := json.Unmarshal(data, &steps); err != nil {
		return nil, fmt.Errorf("decode step descriptions: %w", err)
	}
	return steps, nil
}

// snapshotsEqual reports whether two instance snapshots carry the same
// state. Commit uses it to skip writes for aggregates that were only
// read.
func snapshotsEqual(a, b orchestration.InstanceSnapshot) bool {
	return reflect.DeepEqual(a, b)
}

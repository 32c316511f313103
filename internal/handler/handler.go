// Package handler implements the process handlers for the
// forward-metered-data process family: idempotent start, progress on
// external notifications, termination, cancellation and the scheduled
// sweep.
//
// Handlers are stateless; all durable state lives in the stores. Every
// handler is safe to re-run: lookups by idempotency key, step-state
// caches and idempotent outbox enqueues make a retried handler converge
// on the same result instead of duplicating work.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gridmesh/procman/internal/blob"
	"github.com/gridmesh/procman/internal/outbox"
	"github.com/gridmesh/procman/internal/persistence"
	"github.com/gridmesh/procman/pkg/orchestration"
	"github.com/gridmesh/procman/pkg/receivers"
	"github.com/gridmesh/procman/pkg/validation"
)

// Process name and step layout of the forward-metered-data process.
const (
	ProcessForwardMeteredData        = "Brs021ForwardMeteredData"
	ProcessForwardMeteredDataVersion = 1

	StepBusinessValidation    = 1
	StepForwardToMeasurements = 2
	StepEnqueueActorMessages  = 3
)

// RegisterDescriptions registers the process descriptions this package
// handles. Registering an already-registered (name, version) is not an
// error.
func RegisterDescriptions(ctx context.Context, store persistence.Store) error {
	desc, err := orchestration.NewDescription(
		ProcessForwardMeteredData, ProcessForwardMeteredDataVersion, true,
		"BusinessValidation", "ForwardToMeasurements", "EnqueueActorMessages",
	)
	if err != nil {
		return err
	}
	if err := store.AddDescription(ctx, desc); err != nil && !errors.Is(err, persistence.ErrDuplicate) {
		return err
	}
	return nil
}

// ForwardMeteredDataRequest is the parsed inbound request: one
// transaction of metered values for one metering point.
type ForwardMeteredDataRequest struct {
	SentBy         orchestration.Identity       `json:"sentBy"`
	IdempotencyKey orchestration.IdempotencyKey `json:"idempotencyKey"`

	ActorMessageID  string `json:"actorMessageId"`
	TransactionID   string `json:"transactionId"`
	MeteringPointID string `json:"meteringPointId"`

	Period     receivers.Interval      `json:"period"`
	Resolution receivers.Resolution    `json:"resolution"`
	Values     []receivers.MeteredValue `json:"values"`

	// ScheduledToRunAt defers the start until the scheduler sweep picks
	// the instance up. Zero means start immediately.
	ScheduledToRunAt time.Time `json:"scheduledToRunAt,omitempty"`
}

func decodeRequest(parameter []byte) (ForwardMeteredDataRequest, error) {
	var req ForwardMeteredDataRequest
	if err := json.Unmarshal(parameter, &req); err != nil {
		return ForwardMeteredDataRequest{}, fmt.Errorf("decode request parameter: %w", err)
	}
	return req, nil
}

// Config wires a handler set together. Store, Outbox and MasterData are
// required; the rest default via withDefaults.
type Config struct {
	Store        persistence.Store
	Measurements persistence.MeasurementsStore
	Outbox       outbox.Enqueuer
	Files        blob.FileStore
	MasterData   MasterDataProvider
	Flags        FeatureFlags

	Clock     orchestration.Clock
	Observer  orchestration.Observer
	Validator *validation.Validator
	Receivers *receivers.Provider
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = orchestration.SystemClock{}
	}
	if c.Observer == nil {
		c.Observer = orchestration.NoopObserver{}
	}
	if c.Validator == nil {
		c.Validator = validation.NewValidator(validation.DefaultRules()...)
	}
	if c.Receivers == nil {
		c.Receivers = receivers.NewProvider()
	}
	if c.Flags == nil {
		c.Flags = StaticFlags{}
	}
	return c
}

// validationOutcome is the step-1 custom state: the cached result of
// the business-validation pipeline, plus the idempotency key minted for
// the reject message so a replay re-uses it instead of minting another.
type validationOutcome struct {
	Failed           bool               `json:"failed"`
	Errors           []validation.Error `json:"errors,omitempty"`
	RejectMessageKey string             `json:"rejectMessageKey,omitempty"`
}

const validationOutcomeSchema = 1

// enqueueState is the step-3 custom state: the idempotency keys minted
// for the per-segment actor messages on the first pass.
type enqueueState struct {
	MessageKeys []string `json:"messageKeys"`
}

const enqueueStateSchema = 1

// rejectPayload is the body of a reject message sent back to the
// requester when business validation fails.
type rejectPayload struct {
	TransactionID string             `json:"transactionId"`
	Errors        []validation.Error `json:"errors"`
}

// segmentPayload is the body of one enqueue-actor-messages message: a
// receiver-resolved slice of the reported interval.
type segmentPayload struct {
	TransactionID   string                   `json:"transactionId"`
	MeteringPointID string                   `json:"meteringPointId"`
	Resolution      receivers.Resolution     `json:"resolution"`
	Interval        receivers.Interval       `json:"interval"`
	GridAreaCode    string                   `json:"gridAreaCode"`
	Recipients      []orchestration.Identity `json:"recipients"`
	Values          []receivers.MeteredValue `json:"values"`
}

// stepDuration computes the observer-reported duration of a terminated
// step from its own timestamps.
func stepDuration(step *orchestration.StepInstance) time.Duration {
	l := step.Lifecycle()
	if l.StartedAt().IsZero() || l.TerminatedAt().IsZero() {
		return 0
	}
	return l.TerminatedAt().Sub(l.StartedAt())
}

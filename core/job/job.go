package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle state of a Record within the queue.
type Status int

const (
	StatusQueued Status = iota
	StatusStarted
	StatusDeferred
	StatusFinished
	StatusFailed
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusStarted:
		return "started"
	case StatusDeferred:
		return "deferred"
	case StatusFinished:
		return "finished"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// FailureKind is the closed taxonomy of computation failures. Failures are
// data attached to the record, never errors thrown across the queue boundary.
type FailureKind int

const (
	// FailureMalformedRequest: the request failed structural validation.
	// Rejected before enqueue; a worker never sees it.
	FailureMalformedRequest FailureKind = iota
	// FailureInfeasibleSchedule: restrictions leave no valid placement.
	FailureInfeasibleSchedule
	// FailureInsufficientData: not enough cost or historical data.
	FailureInsufficientData
	// FailureUnknownModel: the model identifier resolves to nothing.
	FailureUnknownModel
)

// String returns the wire name of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureMalformedRequest:
		return "malformed_request"
	case FailureInfeasibleSchedule:
		return "infeasible_schedule"
	case FailureInsufficientData:
		return "insufficient_data"
	case FailureUnknownModel:
		return "unknown_model"
	default:
		return "unknown"
	}
}

// Failure carries the typed reason and human-readable detail of a failed run.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Detail string      `json:"detail"`
}

// Args captures every input needed to reproduce a run deterministically.
// Records sharing identical Args form one fallback lineage.
type Args struct {
	// DeviceID identifies the flexible device for scheduling jobs.
	DeviceID string `json:"device_id,omitempty"`
	// Sensor identifies the series to forecast for forecasting jobs.
	Sensor string `json:"sensor,omitempty"`
	// Start and End bound the half-open planning window.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Resolution is the slot duration of the window.
	Resolution time.Duration `json:"resolution"`
	// BeliefTime is the point in time as of which inputs are known.
	BeliefTime time.Time `json:"belief_time"`
	// Constraints is the raw flex-model payload for scheduling jobs.
	Constraints json.RawMessage `json:"constraints,omitempty"`
	// Horizon is the forecast horizon for forecasting jobs.
	Horizon time.Duration `json:"horizon,omitempty"`
}

// Metadata is the typed job metadata mutated by workers and the fallback
// resolver. Explicit fields replace the mutable key/value bag the queue
// library would otherwise grow.
type Metadata struct {
	// ModelID names the algorithm variant to run.
	ModelID string `json:"model_id"`
	// FallbackModelID names the next model to try after a failure, if any.
	FallbackModelID string `json:"fallback_model_id,omitempty"`
	// FailureCount counts prior failures along the fallback lineage.
	FailureCount int `json:"failure_count"`
	// Failure holds the typed reason once the record fails.
	Failure *Failure `json:"failure,omitempty"`
}

// Record is the persisted envelope of one queued computation. Records are
// never deleted; a fallback run supersedes its predecessor with a new Record
// sharing the same Args and NaturalKey.
type Record struct {
	ID         string    `json:"id"`
	NaturalKey string    `json:"natural_key"`
	Args       Args      `json:"args"`
	Meta       Metadata  `json:"meta"`
	Status     Status    `json:"status"`
	// DependsOn defers the record until the named job reaches a terminal
	// state.
	DependsOn string    `json:"depends_on,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ErrNotFound is returned by queue lookups for unknown ids or keys.
var ErrNotFound = errors.New("job: record not found")

// Queue is the append/withdraw contract over the durable backing store.
// Dequeue must deliver each record to at most one caller.
type Queue interface {
	// Enqueue appends the record. Records with an unresolved DependsOn are
	// stored as deferred and surface once the dependency finishes.
	Enqueue(ctx context.Context, rec *Record) error
	// Dequeue withdraws the oldest queued record, marking it started.
	// ok is false when nothing is queued.
	Dequeue(ctx context.Context) (rec *Record, ok bool, err error)
	// Update persists the record's current state by id.
	Update(ctx context.Context, rec *Record) error
	// Fetch returns the record with the given id.
	Fetch(ctx context.Context, id string) (*Record, error)
	// LatestByKey returns the most recently created record for a natural key.
	LatestByKey(ctx context.Context, key string) (*Record, error)
	Close() error
}

// SourceIdentity derives the series-store identity a model's result is
// persisted under, so a status read can locate it without the record.
func SourceIdentity(modelID string, args Args) string {
	subject := args.DeviceID
	if subject == "" {
		subject = args.Sensor
	}
	return "fluxplan:" + modelID + ":" + subject
}

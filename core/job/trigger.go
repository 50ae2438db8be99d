package job

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fluxplan/core/flexmodel"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/internal/eventbus"
)

// MalformedRequestError rejects a trigger request before anything reaches
// the queue.
type MalformedRequestError struct {
	Detail string
}

func (e *MalformedRequestError) Error() string {
	return "malformed request: " + e.Detail
}

// TriggerRequest is the caller-facing input to Trigger.
type TriggerRequest struct {
	// NaturalKey is the caller's handle for later status polls. Defaults to
	// the generated job id.
	NaturalKey string
	DeviceID   string
	Sensor     string
	Start      time.Time
	End        time.Time
	Resolution time.Duration
	BeliefTime time.Time
	// Constraints is the flex-model payload for scheduling models.
	Constraints json.RawMessage
	// Horizon is set for forecasting models instead of Constraints.
	Horizon         time.Duration
	ModelID         string
	FallbackModelID string
}

// Trigger validates the request, builds a Record capturing every input
// needed to reproduce the run, and enqueues it. It never blocks on
// computation and completes in bounded time regardless of queue depth.
// The bus may be nil.
func Trigger(ctx context.Context, q Queue, bus *eventbus.Bus[Event], req TriggerRequest) (*Record, error) {
	if req.ModelID == "" {
		return nil, &MalformedRequestError{Detail: "model identifier is required"}
	}
	win := timeseries.Window{Start: req.Start, End: req.End, Resolution: req.Resolution}
	if err := win.Validate(); err != nil {
		return nil, &MalformedRequestError{Detail: err.Error()}
	}
	// Every model needs one of the two payloads: a flex-model for scheduling,
	// a horizon for forecasting. Which one the model actually expects is checked
	// in the worker, where the registry is available.
	if len(req.Constraints) == 0 && req.Horizon <= 0 {
		return nil, &MalformedRequestError{Detail: "either constraints or a forecast horizon is required"}
	}
	if len(req.Constraints) > 0 {
		if _, err := flexmodel.Parse(req.Constraints, win); err != nil {
			return nil, &MalformedRequestError{Detail: err.Error()}
		}
	}

	belief := req.BeliefTime
	if belief.IsZero() {
		belief = time.Now().UTC()
	}
	now := time.Now().UTC()
	rec := &Record{
		ID:         uuid.NewString(),
		NaturalKey: req.NaturalKey,
		Args: Args{
			DeviceID:    req.DeviceID,
			Sensor:      req.Sensor,
			Start:       req.Start,
			End:         req.End,
			Resolution:  req.Resolution,
			BeliefTime:  belief,
			Constraints: req.Constraints,
			Horizon:     req.Horizon,
		},
		Meta: Metadata{
			ModelID:         req.ModelID,
			FallbackModelID: req.FallbackModelID,
		},
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rec.NaturalKey == "" {
		rec.NaturalKey = rec.ID
	}
	if err := q.Enqueue(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue job %s: %w", rec.ID, err)
	}
	if bus != nil {
		bus.Publish(Event{Type: EventEnqueued, JobID: rec.ID, NaturalKey: rec.NaturalKey,
			ModelID: rec.Meta.ModelID, Time: now})
	}
	return rec, nil
}

package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/core/worker"
)

// State is the client-facing status of a computation.
type State int

const (
	StatePending State = iota
	StateInProgress
	StateReady
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in progress"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Report is the status payload returned to pollers. For StateReady, Series
// holds the result trimmed to the overlap with the requested window; callers
// detect truncation by comparing the returned window against the one they
// asked for.
type Report struct {
	State   State
	Detail  string
	Series  timeseries.Series
	Window  timeseries.Window
	Unit    string
	Failure *job.Failure
}

// Resolver maps queue state onto client statuses and reads back persisted
// results. Reads are idempotent and never mutate the queue.
type Resolver struct {
	queue    job.Queue
	store    store.SeriesStore
	registry *worker.Registry
}

// NewResolver creates a Resolver.
func NewResolver(q job.Queue, st store.SeriesStore, reg *worker.Registry) (*Resolver, error) {
	if q == nil || st == nil || reg == nil {
		return nil, fmt.Errorf("status: nil parameter provided to NewResolver")
	}
	return &Resolver{queue: q, store: st, registry: reg}, nil
}

// Status resolves the most recent record for the natural key. When the
// record has aged out of the queue, the result marker persisted on success
// still locates the latest series.
func (r *Resolver) Status(ctx context.Context, naturalKey string, win timeseries.Window) (Report, error) {
	rec, err := r.queue.LatestByKey(ctx, naturalKey)
	if errors.Is(err, job.ErrNotFound) {
		return r.fromMarker(ctx, naturalKey, win)
	}
	if err != nil {
		return Report{}, fmt.Errorf("look up job for %q: %w", naturalKey, err)
	}

	switch rec.Status {
	case job.StatusQueued:
		return Report{State: StatePending, Detail: "queued"}, nil
	case job.StatusDeferred:
		return Report{State: StatePending,
			Detail: fmt.Sprintf("waiting on job %s", rec.DependsOn)}, nil
	case job.StatusStarted:
		return Report{State: StateInProgress, Detail: "running model " + rec.Meta.ModelID}, nil
	case job.StatusFailed:
		rep := Report{State: StateFailed, Failure: rec.Meta.Failure}
		if rec.Meta.Failure != nil {
			rep.Detail = rec.Meta.Failure.Detail
		}
		return rep, nil
	case job.StatusFinished:
		source := job.SourceIdentity(rec.Meta.ModelID, rec.Args)
		return r.read(ctx, source, rec.Meta.ModelID, win)
	default:
		return Report{}, fmt.Errorf("job %s has unknown status %d", rec.ID, rec.Status)
	}
}

// fromMarker serves results whose job record is gone from the queue.
func (r *Resolver) fromMarker(ctx context.Context, naturalKey string, win timeseries.Window) (Report, error) {
	source, err := r.store.Marker(ctx, naturalKey)
	if errors.Is(err, store.ErrNotFound) {
		return Report{}, fmt.Errorf("no job or result for %q: %w", naturalKey, job.ErrNotFound)
	}
	if err != nil {
		return Report{}, fmt.Errorf("look up result marker for %q: %w", naturalKey, err)
	}
	modelID := ""
	if parts := splitSource(source); parts != "" {
		modelID = parts
	}
	return r.read(ctx, source, modelID, win)
}

// read returns the persisted series trimmed to the caller's window. A
// narrower-than-requested window is reported, not an error.
func (r *Resolver) read(ctx context.Context, source, modelID string, win timeseries.Window) (Report, error) {
	series, err := r.store.Read(ctx, source, win)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Report{}, fmt.Errorf("result %q missing from store: %w", source, err)
		}
		return Report{}, fmt.Errorf("read result %q: %w", source, err)
	}
	unit := "kWh"
	if reg, ok := r.registry.Resolve(modelID); ok && reg.Unit != "" {
		unit = reg.Unit
	}
	return Report{
		State:  StateReady,
		Series: series,
		Window: series.Window(),
		Unit:   unit,
	}, nil
}

// splitSource extracts the model identifier from a source identity of the
// form "fluxplan:<model>:<subject>".
func splitSource(source string) string {
	const prefix = "fluxplan:"
	if len(source) <= len(prefix) || source[:len(prefix)] != prefix {
		return ""
	}
	rest := source[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == ':' {
			return rest[:i]
		}
	}
	return ""
}

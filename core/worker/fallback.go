package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/logger"
)

// FallbackResolver decides, after a failed run, whether a simpler model
// should take over. Each fallback creates a distinct record sharing the
// failed job's Args and NaturalKey, so the chain stays auditable. The same
// model is never re-queued: deterministic failures would loop forever.
type FallbackResolver struct {
	queue    job.Queue
	registry *Registry
	log      logger.Logger
}

// NewFallbackResolver creates a resolver over the queue and registry.
func NewFallbackResolver(q job.Queue, reg *Registry, log logger.Logger) (*FallbackResolver, error) {
	if q == nil || reg == nil {
		return nil, fmt.Errorf("worker: nil parameter provided to NewFallbackResolver")
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &FallbackResolver{queue: q, registry: reg, log: log}, nil
}

// Resolve inspects the typed failure and either enqueues the fallback model
// or terminates the chain. It returns the new record, or nil when the
// failure is terminal.
func (r *FallbackResolver) Resolve(ctx context.Context, failed *job.Record, failure *job.Failure) (*job.Record, error) {
	fbID := failed.Meta.FallbackModelID
	if fbID == "" {
		return nil, nil
	}

	switch failure.Kind {
	case job.FailureUnknownModel, job.FailureMalformedRequest:
		// A broken reference or bad input will not self-heal.
		return nil, nil
	case job.FailureInfeasibleSchedule:
		reg, ok := r.registry.Resolve(fbID)
		if !ok || !reg.RelaxesRestrictions {
			r.log.Debugf("skipping fallback %s after infeasibility: same constraints would fail identically", fbID)
			return nil, nil
		}
	case job.FailureInsufficientData:
		// Simpler models need less data; always worth a try.
	}

	var nextFallback string
	if reg, ok := r.registry.Resolve(fbID); ok {
		nextFallback = reg.Fallback
	}

	now := time.Now().UTC()
	next := &job.Record{
		ID:         uuid.NewString(),
		NaturalKey: failed.NaturalKey,
		Args:       failed.Args,
		Meta: job.Metadata{
			ModelID:         fbID,
			FallbackModelID: nextFallback,
			FailureCount:    failed.Meta.FailureCount + 1,
		},
		Status:    job.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.queue.Enqueue(ctx, next); err != nil {
		return nil, fmt.Errorf("enqueue fallback job %s: %w", next.ID, err)
	}
	return next, nil
}

package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/logger"
	"github.com/kilianp07/fluxplan/core/metrics"
	"github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/internal/eventbus"
)

// Worker resolves a dequeued record's model, runs it, persists the result
// and drives the record to a terminal state. Many workers may run
// concurrently; each record is processed by exactly one (queue contract).
type Worker struct {
	queue    job.Queue
	registry *Registry
	store    store.SeriesStore
	fallback *FallbackResolver
	bus      *eventbus.Bus[job.Event]
	sink     metrics.Sink
	log      logger.Logger
}

// New creates a Worker. bus may be nil; sink and log default to no-ops.
func New(q job.Queue, reg *Registry, st store.SeriesStore, fb *FallbackResolver, bus *eventbus.Bus[job.Event], sink metrics.Sink, log logger.Logger) (*Worker, error) {
	if q == nil || reg == nil || st == nil || fb == nil {
		return nil, fmt.Errorf("worker: nil parameter provided to New")
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Worker{queue: q, registry: reg, store: st, fallback: fb, bus: bus, sink: sink, log: log}, nil
}

// Process runs one record to a terminal state. Computation failures become
// typed Failure metadata on the record and are handed to the fallback
// resolver; only infrastructure errors (queue or store outages) are returned
// as Go errors, leaving the record in a pending-equivalent state.
func (w *Worker) Process(ctx context.Context, rec *job.Record) error {
	started := time.Now()
	rec.Status = job.StatusStarted
	rec.UpdatedAt = started.UTC()
	if err := w.queue.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark job %s started: %w", rec.ID, err)
	}
	w.publish(job.EventStarted, rec, nil)
	w.log.Debugw("job started", map[string]any{"job_id": rec.ID, "model": rec.Meta.ModelID})

	reg, ok := w.registry.Resolve(rec.Meta.ModelID)
	if !ok {
		failure := &job.Failure{
			Kind:   job.FailureUnknownModel,
			Detail: fmt.Sprintf("model %q is not registered", rec.Meta.ModelID),
		}
		return w.fail(ctx, rec, failure, started)
	}

	series, failure := reg.Runner.Run(ctx, rec.Args)
	if failure != nil {
		return w.fail(ctx, rec, failure, started)
	}

	source := job.SourceIdentity(rec.Meta.ModelID, rec.Args)
	if err := w.store.Persist(ctx, source, series); err != nil {
		// Storage outages are transient infrastructure trouble, not part of
		// the failure taxonomy. The record stays started, which status reads
		// report as in-progress until a replay lands the result.
		return fmt.Errorf("persist result of job %s: %w", rec.ID, err)
	}
	if err := w.store.SetMarker(ctx, rec.NaturalKey, source); err != nil {
		return fmt.Errorf("set result marker for job %s: %w", rec.ID, err)
	}

	rec.Status = job.StatusFinished
	rec.UpdatedAt = time.Now().UTC()
	if err := w.queue.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark job %s finished: %w", rec.ID, err)
	}
	w.publish(job.EventFinished, rec, nil)
	w.record(rec, "", time.Since(started))
	w.log.Infof("job %s finished with model %s (%d slots)", rec.ID, rec.Meta.ModelID, series.Len())
	return nil
}

// fail drives the record to FAILED and always consults the fallback
// resolver. A failure is never silently dropped.
func (w *Worker) fail(ctx context.Context, rec *job.Record, failure *job.Failure, started time.Time) error {
	rec.Status = job.StatusFailed
	rec.Meta.Failure = failure
	rec.UpdatedAt = time.Now().UTC()
	if err := w.queue.Update(ctx, rec); err != nil {
		return fmt.Errorf("mark job %s failed: %w", rec.ID, err)
	}
	w.publish(job.EventFailed, rec, failure)
	w.record(rec, failure.Kind.String(), time.Since(started))
	w.log.Warnf("job %s failed with model %s: %s: %s", rec.ID, rec.Meta.ModelID, failure.Kind, failure.Detail)

	next, err := w.fallback.Resolve(ctx, rec, failure)
	if err != nil {
		return fmt.Errorf("fallback for job %s: %w", rec.ID, err)
	}
	if next != nil {
		w.publish(job.EventFallbackScheduled, next, failure)
		w.log.Infof("job %s re-enqueued as %s with fallback model %s", rec.ID, next.ID, next.Meta.ModelID)
	}
	return nil
}

func (w *Worker) publish(t job.EventType, rec *job.Record, failure *job.Failure) {
	if w.bus == nil {
		return
	}
	w.bus.Publish(job.Event{
		Type:       t,
		JobID:      rec.ID,
		NaturalKey: rec.NaturalKey,
		ModelID:    rec.Meta.ModelID,
		Failure:    failure,
		Time:       time.Now().UTC(),
	})
}

func (w *Worker) record(rec *job.Record, reason string, dur time.Duration) {
	ev := metrics.JobEvent{
		JobID:      rec.ID,
		NaturalKey: rec.NaturalKey,
		ModelID:    rec.Meta.ModelID,
		Status:     rec.Status,
		Reason:     reason,
		Duration:   dur,
		Time:       time.Now().UTC(),
	}
	if err := w.sink.RecordJobEvent(ev); err != nil {
		w.log.Errorf("record job event: %v", err)
	}
}

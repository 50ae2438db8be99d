package queue

import (
	"context"
	"sync"
	"time"

	"github.com/kilianp07/fluxplan/core/job"
)

// MemoryQueue is an in-process Queue for tests and single-node setups.
// Records are stored as copies so callers cannot mutate queue state behind
// its back. Delivery is FIFO by enqueue time, at most once per record.
type MemoryQueue struct {
	mu      sync.Mutex
	records map[string]*job.Record
	pending []string
	// waiting maps a dependency id to the deferred records blocked on it.
	waiting map[string][]string
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		records: make(map[string]*job.Record),
		waiting: make(map[string][]string),
	}
}

// Enqueue implements job.Queue. A record depending on an unresolved job is
// held as deferred until the dependency reaches a terminal state.
func (q *MemoryQueue) Enqueue(_ context.Context, rec *job.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c := clone(rec)
	if c.DependsOn != "" {
		dep, ok := q.records[c.DependsOn]
		if ok && !dep.Status.Terminal() {
			c.Status = job.StatusDeferred
			q.records[c.ID] = c
			q.waiting[c.DependsOn] = append(q.waiting[c.DependsOn], c.ID)
			return nil
		}
		if ok && dep.Status == job.StatusFailed {
			c.Status = job.StatusFailed
			c.Meta.Failure = dependencyFailure(dep)
			q.records[c.ID] = c
			return nil
		}
	}
	c.Status = job.StatusQueued
	q.records[c.ID] = c
	q.pending = append(q.pending, c.ID)
	return nil
}

// Dequeue implements job.Queue.
func (q *MemoryQueue) Dequeue(_ context.Context) (*job.Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		rec, ok := q.records[id]
		if !ok || rec.Status != job.StatusQueued {
			continue
		}
		rec.Status = job.StatusStarted
		rec.UpdatedAt = time.Now().UTC()
		return clone(rec), true, nil
	}
	return nil, false, nil
}

// Update implements job.Queue. Terminal transitions release records deferred
// on this one: a finished dependency queues them, a failed one fails them.
func (q *MemoryQueue) Update(_ context.Context, rec *job.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.records[rec.ID]; !ok {
		return job.ErrNotFound
	}
	c := clone(rec)
	q.records[c.ID] = c
	if c.Status.Terminal() {
		q.release(c)
	}
	return nil
}

func (q *MemoryQueue) release(dep *job.Record) {
	ids := q.waiting[dep.ID]
	delete(q.waiting, dep.ID)
	for _, id := range ids {
		blocked, ok := q.records[id]
		if !ok || blocked.Status != job.StatusDeferred {
			continue
		}
		blocked.UpdatedAt = time.Now().UTC()
		if dep.Status == job.StatusFinished {
			blocked.Status = job.StatusQueued
			q.pending = append(q.pending, id)
		} else {
			blocked.Status = job.StatusFailed
			blocked.Meta.Failure = dependencyFailure(dep)
		}
	}
}

// Fetch implements job.Queue.
func (q *MemoryQueue) Fetch(_ context.Context, id string) (*job.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.records[id]
	if !ok {
		return nil, job.ErrNotFound
	}
	return clone(rec), nil
}

// LatestByKey implements job.Queue.
func (q *MemoryQueue) LatestByKey(_ context.Context, key string) (*job.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var latest *job.Record
	for _, rec := range q.records {
		if rec.NaturalKey != key {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			latest = rec
		}
	}
	if latest == nil {
		return nil, job.ErrNotFound
	}
	return clone(latest), nil
}

// Close implements job.Queue.
func (q *MemoryQueue) Close() error { return nil }

func clone(rec *job.Record) *job.Record {
	c := *rec
	if rec.Meta.Failure != nil {
		f := *rec.Meta.Failure
		c.Meta.Failure = &f
	}
	if rec.Args.Constraints != nil {
		c.Args.Constraints = append([]byte(nil), rec.Args.Constraints...)
	}
	return &c
}

func dependencyFailure(dep *job.Record) *job.Failure {
	detail := "dependency " + dep.ID + " failed"
	if dep.Meta.Failure != nil {
		detail += ": " + dep.Meta.Failure.Detail
	}
	return &job.Failure{Kind: job.FailureInsufficientData, Detail: detail}
}

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/metrics"
	"github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/internal/eventbus"
)

type fakeQueue struct {
	updates  []job.Status
	enqueued []*job.Record
}

func (q *fakeQueue) Enqueue(_ context.Context, rec *job.Record) error {
	q.enqueued = append(q.enqueued, rec)
	return nil
}

func (q *fakeQueue) Dequeue(context.Context) (*job.Record, bool, error) { return nil, false, nil }
func (q *fakeQueue) Update(_ context.Context, rec *job.Record) error {
	q.updates = append(q.updates, rec.Status)
	return nil
}
func (q *fakeQueue) Fetch(context.Context, string) (*job.Record, error) {
	return nil, job.ErrNotFound
}
func (q *fakeQueue) LatestByKey(context.Context, string) (*job.Record, error) {
	return nil, job.ErrNotFound
}
func (q *fakeQueue) Close() error { return nil }

type fakeStore struct {
	persisted  map[string]timeseries.Series
	markers    map[string]string
	persistErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{persisted: make(map[string]timeseries.Series), markers: make(map[string]string)}
}

func (s *fakeStore) Persist(_ context.Context, source string, series timeseries.Series) error {
	if s.persistErr != nil {
		return s.persistErr
	}
	s.persisted[source] = series
	return nil
}

func (s *fakeStore) Read(context.Context, string, timeseries.Window) (timeseries.Series, error) {
	return timeseries.Series{}, store.ErrNotFound
}

func (s *fakeStore) SetMarker(_ context.Context, key, source string) error {
	s.markers[key] = source
	return nil
}

func (s *fakeStore) Marker(context.Context, string) (string, error) { return "", store.ErrNotFound }
func (s *fakeStore) Close() error                                   { return nil }

type stubRunner struct {
	series  timeseries.Series
	failure *job.Failure
}

func (r stubRunner) Run(context.Context, job.Args) (timeseries.Series, *job.Failure) {
	return r.series, r.failure
}

func testRecord(model, fallback string) *job.Record {
	start := time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)
	now := time.Now().UTC()
	return &job.Record{
		ID:         "job-1",
		NaturalKey: "device-1/schedule",
		Args: job.Args{
			DeviceID: "device-1", Start: start, End: start.Add(4 * time.Hour),
			Resolution: time.Hour, BeliefTime: start,
		},
		Meta:      job.Metadata{ModelID: model, FallbackModelID: fallback},
		Status:    job.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newWorker(t *testing.T, q *fakeQueue, st *fakeStore, reg *Registry) *Worker {
	t.Helper()
	fb, err := NewFallbackResolver(q, reg, nil)
	if err != nil {
		t.Fatalf("fallback resolver: %v", err)
	}
	w, err := New(q, reg, st, fb, nil, nil, nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	return w
}

func TestProcessSuccessPersistsResultAndMarker(t *testing.T) {
	start := time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)
	result, err := timeseries.New(start, time.Hour, []float64{4, 4, 0, 0})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{series: result}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	q := &fakeQueue{}
	st := newFakeStore()
	rec := testRecord("model-a", "")

	if err := newWorker(t, q, st, reg).Process(context.Background(), rec); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.Status != job.StatusFinished {
		t.Errorf("status %v, want finished", rec.Status)
	}
	source := "fluxplan:model-a:device-1"
	if got, ok := st.persisted[source]; !ok || !got.Equal(result) {
		t.Errorf("result not persisted under %q", source)
	}
	if st.markers[rec.NaturalKey] != source {
		t.Errorf("marker %q, want %q", st.markers[rec.NaturalKey], source)
	}
}

func TestProcessUnknownModelFailsTerminal(t *testing.T) {
	q := &fakeQueue{}
	rec := testRecord("missing-model", "model-b")

	if err := newWorker(t, q, newFakeStore(), NewRegistry()).Process(context.Background(), rec); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.Status != job.StatusFailed {
		t.Fatalf("status %v, want failed", rec.Status)
	}
	if rec.Meta.Failure == nil || rec.Meta.Failure.Kind != job.FailureUnknownModel {
		t.Fatalf("failure %+v, want unknown model", rec.Meta.Failure)
	}
	if len(q.enqueued) != 0 {
		t.Errorf("unknown model must not schedule a fallback")
	}
}

func TestProcessFailureTriggersExactlyOneFallback(t *testing.T) {
	reg := NewRegistry()
	failure := &job.Failure{Kind: job.FailureInsufficientData, Detail: "no history"}
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{failure: failure}, Fallback: "model-b"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Registration{ID: "model-b", Runner: stubRunner{}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	q := &fakeQueue{}
	bus := eventbus.New[job.Event]()
	defer bus.Close()
	events := bus.Subscribe()
	fb, err := NewFallbackResolver(q, reg, nil)
	if err != nil {
		t.Fatalf("fallback resolver: %v", err)
	}
	w, err := New(q, reg, newFakeStore(), fb, bus, nil, nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	rec := testRecord("model-a", "model-b")

	if err := w.Process(context.Background(), rec); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.Status != job.StatusFailed {
		t.Fatalf("status %v, want failed", rec.Status)
	}
	if len(q.enqueued) != 1 {
		t.Fatalf("got %d fallback records, want exactly 1", len(q.enqueued))
	}
	next := q.enqueued[0]
	if next.Meta.ModelID != "model-b" {
		t.Errorf("fallback model %q, want model-b", next.Meta.ModelID)
	}
	if next.ID == rec.ID {
		t.Errorf("fallback must be a distinct record")
	}
	if next.NaturalKey != rec.NaturalKey {
		t.Errorf("fallback natural key %q, want %q", next.NaturalKey, rec.NaturalKey)
	}
	if next.Meta.FailureCount != 1 {
		t.Errorf("failure count %d, want 1", next.Meta.FailureCount)
	}
	if !next.Args.BeliefTime.Equal(rec.Args.BeliefTime) {
		t.Errorf("fallback must reuse the original args")
	}

	var sawFallback bool
	deadline := time.After(time.Second)
	for !sawFallback {
		select {
		case ev := <-events:
			if ev.Type == job.EventFallbackScheduled && ev.JobID == next.ID {
				sawFallback = true
			}
		case <-deadline:
			t.Fatalf("no fallback event published")
		}
	}
}

func TestFallbackChainExhausts(t *testing.T) {
	reg := NewRegistry()
	failure := &job.Failure{Kind: job.FailureInsufficientData, Detail: "no history"}
	if err := reg.Register(Registration{ID: "model-b", Runner: stubRunner{failure: failure}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	q := &fakeQueue{}
	rec := testRecord("model-b", "")

	if err := newWorker(t, q, newFakeStore(), reg).Process(context.Background(), rec); err != nil {
		t.Fatalf("process: %v", err)
	}
	if rec.Status != job.StatusFailed {
		t.Fatalf("status %v, want failed", rec.Status)
	}
	if len(q.enqueued) != 0 {
		t.Errorf("exhausted chain must not enqueue anything")
	}
}

func TestFallbackInfeasibilityNeedsRelaxingModel(t *testing.T) {
	failure := &job.Failure{Kind: job.FailureInfeasibleSchedule, Detail: "no placement"}

	t.Run("strict fallback skipped", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Register(Registration{ID: "model-b", Runner: stubRunner{}}); err != nil {
			t.Fatalf("register: %v", err)
		}
		q := &fakeQueue{}
		fb, err := NewFallbackResolver(q, reg, nil)
		if err != nil {
			t.Fatalf("resolver: %v", err)
		}
		next, err := fb.Resolve(context.Background(), testRecord("model-a", "model-b"), failure)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if next != nil {
			t.Fatalf("strict fallback must not be retried after infeasibility")
		}
	})

	t.Run("relaxing fallback retried", func(t *testing.T) {
		reg := NewRegistry()
		if err := reg.Register(Registration{ID: "model-b", Runner: stubRunner{}, RelaxesRestrictions: true}); err != nil {
			t.Fatalf("register: %v", err)
		}
		q := &fakeQueue{}
		fb, err := NewFallbackResolver(q, reg, nil)
		if err != nil {
			t.Fatalf("resolver: %v", err)
		}
		next, err := fb.Resolve(context.Background(), testRecord("model-a", "model-b"), failure)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if next == nil || next.Meta.ModelID != "model-b" {
			t.Fatalf("relaxing fallback should be retried, got %+v", next)
		}
	})
}

func TestFallbackNeverRetriesSameModel(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{}, Fallback: "model-b"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Registration{ID: "model-b", Runner: stubRunner{}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	q := &fakeQueue{}
	fb, err := NewFallbackResolver(q, reg, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	failure := &job.Failure{Kind: job.FailureInsufficientData, Detail: "no history"}
	next, err := fb.Resolve(context.Background(), testRecord("model-a", "model-b"), failure)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if next.Meta.ModelID == "model-a" {
		t.Fatalf("fallback re-queued the failed model")
	}
	if next.Meta.FallbackModelID != "" {
		t.Errorf("chain tail should have no further fallback, got %q", next.Meta.FallbackModelID)
	}
}

func TestProcessStoreOutageLeavesRecordStarted(t *testing.T) {
	start := time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)
	result, err := timeseries.New(start, time.Hour, []float64{1})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{series: result}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	st := newFakeStore()
	st.persistErr = errors.New("connection refused")
	rec := testRecord("model-a", "")

	if err := newWorker(t, &fakeQueue{}, st, reg).Process(context.Background(), rec); err == nil {
		t.Fatalf("expected infrastructure error")
	}
	if rec.Status != job.StatusStarted {
		t.Errorf("status %v, want started (pending replay)", rec.Status)
	}
	if rec.Meta.Failure != nil {
		t.Errorf("storage outage must not join the failure taxonomy")
	}
}

type recordingSink struct {
	mu       sync.Mutex
	statuses []job.Status
}

func (s *recordingSink) RecordJobEvent(ev metrics.JobEvent) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, ev.Status)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []job.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]job.Status(nil), s.statuses...)
}

// The sink must see the full lifecycle of a job, including the enqueue that
// happens before any worker touches the record.
func TestSinkSeesQueuedAndFinished(t *testing.T) {
	start := time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)
	result, err := timeseries.New(start, time.Hour, []float64{1})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	reg := NewRegistry()
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{series: result}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	bus := eventbus.New[job.Event]()
	defer bus.Close()
	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go metrics.RunBridge(ctx, bus, sink, nil)
	// Let the bridge subscribe before anything publishes.
	time.Sleep(10 * time.Millisecond)

	q := &fakeQueue{}
	fb, err := NewFallbackResolver(q, reg, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	w, err := New(q, reg, newFakeStore(), fb, bus, sink, nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}

	rec, err := job.Trigger(ctx, q, bus, job.TriggerRequest{
		DeviceID: "device-1", Start: start, End: start.Add(time.Hour),
		Resolution: time.Hour, ModelID: "model-a", Horizon: time.Hour,
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if err := w.Process(ctx, rec); err != nil {
		t.Fatalf("process: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := sink.snapshot()
		var queued, finished bool
		for _, s := range got {
			switch s {
			case job.StatusQueued:
				queued = true
			case job.StatusFinished:
				finished = true
			}
		}
		if queued && finished {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sink saw %v, want both queued and finished", got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{}}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(Registration{ID: "model-a", Runner: stubRunner{}}); err == nil {
		t.Fatalf("expected duplicate error")
	}
	if _, ok := reg.Resolve("model-z"); ok {
		t.Fatalf("resolved unknown model")
	}
}

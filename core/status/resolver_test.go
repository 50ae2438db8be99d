package status

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/core/worker"
)

type fakeQueue struct {
	latest *job.Record
}

func (q fakeQueue) Enqueue(context.Context, *job.Record) error           { return nil }
func (q fakeQueue) Dequeue(context.Context) (*job.Record, bool, error)   { return nil, false, nil }
func (q fakeQueue) Update(context.Context, *job.Record) error            { return nil }
func (q fakeQueue) Fetch(context.Context, string) (*job.Record, error)   { return nil, job.ErrNotFound }
func (q fakeQueue) LatestByKey(context.Context, string) (*job.Record, error) {
	if q.latest == nil {
		return nil, job.ErrNotFound
	}
	return q.latest, nil
}
func (q fakeQueue) Close() error { return nil }

type fakeStore struct {
	series  map[string]timeseries.Series
	markers map[string]string
}

func (s fakeStore) Persist(context.Context, string, timeseries.Series) error { return nil }
func (s fakeStore) Read(_ context.Context, source string, win timeseries.Window) (timeseries.Series, error) {
	full, ok := s.series[source]
	if !ok {
		return timeseries.Series{}, store.ErrNotFound
	}
	sub := full.Slice(win.Start, win.End)
	if sub.Len() == 0 {
		return timeseries.Series{}, store.ErrNotFound
	}
	return sub, nil
}
func (s fakeStore) SetMarker(context.Context, string, string) error { return nil }
func (s fakeStore) Marker(_ context.Context, key string) (string, error) {
	source, ok := s.markers[key]
	if !ok {
		return "", store.ErrNotFound
	}
	return source, nil
}
func (s fakeStore) Close() error { return nil }

type nopRunner struct{}

func (nopRunner) Run(context.Context, job.Args) (timeseries.Series, *job.Failure) {
	return timeseries.Series{}, nil
}

var windowStart = time.Date(2015, 1, 2, 0, 0, 0, 0, time.UTC)

func requestWindow(hours int) timeseries.Window {
	return timeseries.Window{
		Start: windowStart, End: windowStart.Add(time.Duration(hours) * time.Hour), Resolution: time.Hour,
	}
}

func newResolver(t *testing.T, q job.Queue, st store.SeriesStore) *Resolver {
	t.Helper()
	reg := worker.NewRegistry()
	if err := reg.Register(worker.Registration{ID: "flex-planner", Runner: nopRunner{}, Unit: "kWh"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	r, err := NewResolver(q, st, reg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return r
}

func record(status job.Status) *job.Record {
	return &job.Record{
		ID:         "job-1",
		NaturalKey: "device-1/schedule",
		Args: job.Args{
			DeviceID: "device-1", Start: windowStart, End: windowStart.Add(4 * time.Hour),
			Resolution: time.Hour,
		},
		Meta:   job.Metadata{ModelID: "flex-planner"},
		Status: status,
	}
}

func TestStatusStateMapping(t *testing.T) {
	st := fakeStore{series: map[string]timeseries.Series{}, markers: map[string]string{}}

	cases := []struct {
		name   string
		rec    *job.Record
		want   State
		detail string
	}{
		{"queued", record(job.StatusQueued), StatePending, "queued"},
		{"started", record(job.StatusStarted), StateInProgress, "flex-planner"},
	}
	deferred := record(job.StatusDeferred)
	deferred.DependsOn = "job-0"
	cases = append(cases, struct {
		name   string
		rec    *job.Record
		want   State
		detail string
	}{"deferred", deferred, StatePending, "job-0"})

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newResolver(t, fakeQueue{latest: tc.rec}, st)
			rep, err := r.Status(context.Background(), tc.rec.NaturalKey, requestWindow(4))
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if rep.State != tc.want {
				t.Errorf("state %v, want %v", rep.State, tc.want)
			}
			if !strings.Contains(rep.Detail, tc.detail) {
				t.Errorf("detail %q does not mention %q", rep.Detail, tc.detail)
			}
		})
	}
}

func TestStatusFailedCarriesFailureVerbatim(t *testing.T) {
	rec := record(job.StatusFailed)
	rec.Meta.Failure = &job.Failure{Kind: job.FailureInfeasibleSchedule, Detail: "no placement"}
	st := fakeStore{series: map[string]timeseries.Series{}, markers: map[string]string{}}

	rep, err := newResolver(t, fakeQueue{latest: rec}, st).Status(context.Background(), rec.NaturalKey, requestWindow(4))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.State != StateFailed {
		t.Fatalf("state %v, want failed", rep.State)
	}
	if rep.Failure == nil || rep.Failure.Kind != job.FailureInfeasibleSchedule || rep.Failure.Detail != "no placement" {
		t.Errorf("failure %+v not carried verbatim", rep.Failure)
	}
}

func TestStatusReadyTrimsToRequestedWindow(t *testing.T) {
	result, err := timeseries.New(windowStart, time.Hour, []float64{4, 4, 0, 0})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	st := fakeStore{
		series:  map[string]timeseries.Series{"fluxplan:flex-planner:device-1": result},
		markers: map[string]string{},
	}
	r := newResolver(t, fakeQueue{latest: record(job.StatusFinished)}, st)

	// Request a wider window than the result covers.
	rep, err := r.Status(context.Background(), "device-1/schedule", requestWindow(24))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.State != StateReady {
		t.Fatalf("state %v, want ready", rep.State)
	}
	if rep.Series.Len() != 4 {
		t.Errorf("series has %d slots, want the 4 that exist", rep.Series.Len())
	}
	// The reported window exposes the truncation.
	if !rep.Window.End.Equal(windowStart.Add(4 * time.Hour)) {
		t.Errorf("reported window end %v", rep.Window.End)
	}
	if rep.Unit != "kWh" {
		t.Errorf("unit %q, want kWh", rep.Unit)
	}
}

func TestStatusFallsBackToMarker(t *testing.T) {
	result, err := timeseries.New(windowStart, time.Hour, []float64{1, 2})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	st := fakeStore{
		series:  map[string]timeseries.Series{"fluxplan:flex-planner:device-1": result},
		markers: map[string]string{"device-1/schedule": "fluxplan:flex-planner:device-1"},
	}
	r := newResolver(t, fakeQueue{}, st)

	rep, err := r.Status(context.Background(), "device-1/schedule", requestWindow(2))
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.State != StateReady || rep.Series.Len() != 2 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.Unit != "kWh" {
		t.Errorf("unit %q not resolved from the marker's model", rep.Unit)
	}
}

func TestStatusUnknownKey(t *testing.T) {
	st := fakeStore{series: map[string]timeseries.Series{}, markers: map[string]string{}}
	_, err := newResolver(t, fakeQueue{}, st).Status(context.Background(), "nope", requestWindow(2))
	if !errors.Is(err, job.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/status"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/core/worker"
	"github.com/kilianp07/fluxplan/infra/queue"
	"github.com/kilianp07/fluxplan/infra/store"
)

const (
	influxOrg    = "e2e_org"
	influxBucket = "e2e_bucket"
	influxToken  = "e2e-token"
)

// startInflux starts an InfluxDB 2.7 container pre-provisioned with an org,
// bucket and token, and returns its base URL.
func startInflux(ctx context.Context, t *testing.T) (tc.Container, string) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "influxdb:2.7",
		ExposedPorts: []string{"8086/tcp"},
		Env: map[string]string{
			"DOCKER_INFLUXDB_INIT_MODE":        "setup",
			"DOCKER_INFLUXDB_INIT_USERNAME":    "e2e",
			"DOCKER_INFLUXDB_INIT_PASSWORD":    "e2e-password",
			"DOCKER_INFLUXDB_INIT_ORG":         influxOrg,
			"DOCKER_INFLUXDB_INIT_BUCKET":      influxBucket,
			"DOCKER_INFLUXDB_INIT_ADMIN_TOKEN": influxToken,
		},
		WaitingFor: wait.ForHTTP("/health").WithPort("8086/tcp").WithStartupTimeout(60 * time.Second),
	}
	cont, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Skipf("unable to start influx container: %v", err)
	}
	host, _ := cont.Host(ctx)
	port, _ := cont.MappedPort(ctx, "8086")
	return cont, fmt.Sprintf("http://%s:%s", host, port.Port())
}

// Test_E2E_ScheduleRoundTrip runs the full flow against a real InfluxDB:
// sync a cost signal, trigger a scheduling job, let a worker process it and
// read the result back through the status resolver.
func Test_E2E_ScheduleRoundTrip(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cont, url := startInflux(ctx, t)
	if cont != nil {
		defer cont.Terminate(ctx) //nolint:errcheck
	}

	st := store.NewInfluxStore(url, influxToken, influxOrg, influxBucket, nil)
	defer func() { _ = st.Close() }()

	windowStart := time.Now().UTC().Truncate(time.Hour).Add(-48 * time.Hour)
	win := timeseries.Window{Start: windowStart, End: windowStart.Add(24 * time.Hour), Resolution: time.Hour}

	// Seed the cost signal: hours 10-13 are the cheapest 4h block.
	costs := make([]float64, 24)
	for i := range costs {
		costs[i] = 60
	}
	for i := 10; i < 14; i++ {
		costs[i] = 5
	}
	costSeries, err := timeseries.New(win.Start, win.Resolution, costs)
	if err != nil {
		t.Fatalf("cost series: %v", err)
	}
	if err := st.Persist(ctx, "prices/day-ahead", costSeries); err != nil {
		t.Fatalf("persist costs: %v", err)
	}

	q := queue.NewMemoryQueue()
	reg := worker.NewRegistry()
	if err := reg.Register(worker.Registration{
		ID:     worker.PlannerModelID,
		Runner: worker.SchedulingRunner{Store: st},
		Unit:   "kWh",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	fb, err := worker.NewFallbackResolver(q, reg, nil)
	if err != nil {
		t.Fatalf("fallback resolver: %v", err)
	}
	w, err := worker.New(q, reg, st, fb, nil, nil, nil)
	if err != nil {
		t.Fatalf("worker: %v", err)
	}

	rec, err := job.Trigger(ctx, q, nil, job.TriggerRequest{
		NaturalKey: "e2e/device-1",
		DeviceID:   "device-1",
		Start:      win.Start,
		End:        win.End,
		Resolution: win.Resolution,
		ModelID:    worker.PlannerModelID,
		Constraints: json.RawMessage(`{
            "power_kw": 4, "duration": "4h",
            "load_type": "shiftable", "cost_sensor": "prices/day-ahead"
        }`),
	})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	dequeued, ok, err := q.Dequeue(ctx)
	if err != nil || !ok {
		t.Fatalf("dequeue: ok=%v err=%v", ok, err)
	}
	if err := w.Process(ctx, dequeued); err != nil {
		t.Fatalf("process: %v", err)
	}

	resolver, err := status.NewResolver(q, st, reg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	rep, err := resolver.Status(ctx, rec.NaturalKey, win)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.State != status.StateReady {
		t.Fatalf("state %v (%s), want ready", rep.State, rep.Detail)
	}
	if got := rep.Series.Sum(); got != 16 {
		t.Errorf("scheduled energy %v kWh, want 16", got)
	}
	for i := 0; i < rep.Series.Len(); i++ {
		slot := rep.Series.TimeAt(i)
		hour := int(slot.Sub(win.Start) / time.Hour)
		if rep.Series.At(i) > 0 && (hour < 10 || hour > 13) {
			t.Errorf("power scheduled outside the cheap block at %v", slot)
		}
	}
}

// Test_E2E_MarkerSurvivesQueueLoss exercises the result marker: once a job
// has finished, a fresh queue (simulating queue loss or rotation) can still
// serve the result from the store alone.
func Test_E2E_MarkerSurvivesQueueLoss(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not installed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cont, url := startInflux(ctx, t)
	if cont != nil {
		defer cont.Terminate(ctx) //nolint:errcheck
	}

	st := store.NewInfluxStore(url, influxToken, influxOrg, influxBucket, nil)
	defer func() { _ = st.Close() }()

	windowStart := time.Now().UTC().Truncate(time.Hour).Add(-24 * time.Hour)
	win := timeseries.Window{Start: windowStart, End: windowStart.Add(4 * time.Hour), Resolution: time.Hour}
	result, err := timeseries.New(win.Start, win.Resolution, []float64{4, 4, 4, 4})
	if err != nil {
		t.Fatalf("series: %v", err)
	}
	source := job.SourceIdentity(worker.PlannerModelID, job.Args{DeviceID: "device-2"})
	if err := st.Persist(ctx, source, result); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := st.SetMarker(ctx, "e2e/device-2", source); err != nil {
		t.Fatalf("set marker: %v", err)
	}

	reg := worker.NewRegistry()
	if err := reg.Register(worker.Registration{
		ID: worker.PlannerModelID, Runner: worker.SchedulingRunner{Store: st}, Unit: "kWh",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	resolver, err := status.NewResolver(queue.NewMemoryQueue(), st, reg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	rep, err := resolver.Status(ctx, "e2e/device-2", win)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if rep.State != status.StateReady || rep.Series.Len() != 4 {
		t.Fatalf("unexpected report: state=%v len=%d", rep.State, rep.Series.Len())
	}
	if rep.Unit != "kWh" {
		t.Errorf("unit %q", rep.Unit)
	}
}

package store

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kilianp07/fluxplan/core/logger"
	corestore "github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

const (
	seriesMeasurement = "fluxplan_series"
	markerMeasurement = "fluxplan_marker"
)

// InfluxStore persists series in an InfluxDB v2 bucket using the official
// client. One point per slot, tagged with the source identity; a rewrite of
// the same identity replaces slot values point by point.
type InfluxStore struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
	query  api.QueryAPI
	bucket string
	log    logger.Logger
}

// NewInfluxStore creates a store for the given InfluxDB endpoint.
func NewInfluxStore(url, token, org, bucket string, log logger.Logger) *InfluxStore {
	client := influxdb2.NewClientWithOptions(url, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 10 * time.Second}))
	if log == nil {
		log = logger.Nop{}
	}
	return &InfluxStore{
		client: client,
		write:  client.WriteAPIBlocking(org, bucket),
		query:  client.QueryAPI(org),
		bucket: bucket,
		log:    log,
	}
}

// NewInfluxStoreWithFallback pings the InfluxDB instance and degrades to a
// memory store when the health check fails, so a missing database never
// keeps the service from starting.
func NewInfluxStoreWithFallback(url, token, org, bucket string, log logger.Logger) corestore.SeriesStore {
	st := NewInfluxStore(url, token, org, bucket, log)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := st.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			st.log.Errorf("influx health check error: %v", err)
		} else {
			st.log.Errorf("influx health status: %s", health.Status)
		}
		st.client.Close()
		return NewMemoryStore()
	}
	return st
}

// Persist implements store.SeriesStore.
func (s *InfluxStore) Persist(ctx context.Context, source string, series timeseries.Series) error {
	points := make([]*write.Point, 0, series.Len())
	for i := 0; i < series.Len(); i++ {
		v := series.At(i)
		if math.IsNaN(v) {
			continue
		}
		points = append(points, influxdb2.NewPoint(seriesMeasurement,
			map[string]string{"source": source},
			map[string]interface{}{"value": v},
			series.TimeAt(i)))
	}
	if len(points) == 0 {
		return nil
	}
	if err := s.write.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write series %q: %w", source, err)
	}
	return nil
}

// Read implements store.SeriesStore. The stored points are mapped back onto
// the window grid; the result is trimmed to the covered slots, with NaN for
// gaps inside the coverage.
func (s *InfluxStore) Read(ctx context.Context, source string, win timeseries.Window) (timeseries.Series, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r._measurement == %q and r.source == %q and r._field == "value")`,
		s.bucket, win.Start.UTC().Format(time.RFC3339), win.End.UTC().Format(time.RFC3339),
		seriesMeasurement, source)
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return timeseries.Series{}, fmt.Errorf("query series %q: %w", source, err)
	}

	slots := win.Slots()
	values := make([]float64, slots)
	for i := range values {
		values[i] = math.NaN()
	}
	first, last := slots, -1
	for result.Next() {
		rec := result.Record()
		v, ok := rec.Value().(float64)
		if !ok {
			continue
		}
		idx := int(rec.Time().Sub(win.Start) / win.Resolution)
		if idx < 0 || idx >= slots {
			continue
		}
		values[idx] = v
		if idx < first {
			first = idx
		}
		if idx > last {
			last = idx
		}
	}
	if result.Err() != nil {
		return timeseries.Series{}, fmt.Errorf("query series %q: %w", source, result.Err())
	}
	if last < 0 {
		return timeseries.Series{}, corestore.ErrNotFound
	}
	return timeseries.New(win.SlotTime(first), win.Resolution, values[first:last+1])
}

// SetMarker implements store.SeriesStore.
func (s *InfluxStore) SetMarker(ctx context.Context, naturalKey, source string) error {
	point := influxdb2.NewPoint(markerMeasurement,
		map[string]string{"natural_key": naturalKey},
		map[string]interface{}{"source": source},
		time.Now().UTC())
	if err := s.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("write marker %q: %w", naturalKey, err)
	}
	return nil
}

// Marker implements store.SeriesStore.
func (s *InfluxStore) Marker(ctx context.Context, naturalKey string) (string, error) {
	flux := fmt.Sprintf(`from(bucket: %q)
  |> range(start: 0)
  |> filter(fn: (r) => r._measurement == %q and r.natural_key == %q and r._field == "source")
  |> last()`,
		s.bucket, markerMeasurement, naturalKey)
	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return "", fmt.Errorf("query marker %q: %w", naturalKey, err)
	}
	source := ""
	for result.Next() {
		if v, ok := result.Record().Value().(string); ok {
			source = v
		}
	}
	if result.Err() != nil {
		return "", fmt.Errorf("query marker %q: %w", naturalKey, result.Err())
	}
	if source == "" {
		return "", corestore.ErrNotFound
	}
	return source, nil
}

// Close implements store.SeriesStore.
func (s *InfluxStore) Close() error {
	s.client.Close()
	return nil
}

package store

import (
	"context"
	"sync"

	corestore "github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

// MemoryStore keeps series and markers in process memory. Suitable for
// tests and single-node setups without an InfluxDB instance.
type MemoryStore struct {
	mu      sync.RWMutex
	series  map[string]timeseries.Series
	markers map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		series:  make(map[string]timeseries.Series),
		markers: make(map[string]string),
	}
}

// Persist implements store.SeriesStore, replacing any previous series for
// the identity.
func (m *MemoryStore) Persist(_ context.Context, source string, s timeseries.Series) error {
	m.mu.Lock()
	m.series[source] = s
	m.mu.Unlock()
	return nil
}

// Read implements store.SeriesStore.
func (m *MemoryStore) Read(_ context.Context, source string, win timeseries.Window) (timeseries.Series, error) {
	m.mu.RLock()
	s, ok := m.series[source]
	m.mu.RUnlock()
	if !ok {
		return timeseries.Series{}, corestore.ErrNotFound
	}
	sub := s.Slice(win.Start, win.End)
	if sub.Len() == 0 {
		return timeseries.Series{}, corestore.ErrNotFound
	}
	return sub, nil
}

// SetMarker implements store.SeriesStore.
func (m *MemoryStore) SetMarker(_ context.Context, naturalKey, source string) error {
	m.mu.Lock()
	m.markers[naturalKey] = source
	m.mu.Unlock()
	return nil
}

// Marker implements store.SeriesStore.
func (m *MemoryStore) Marker(_ context.Context, naturalKey string) (string, error) {
	m.mu.RLock()
	source, ok := m.markers[naturalKey]
	m.mu.RUnlock()
	if !ok {
		return "", corestore.ErrNotFound
	}
	return source, nil
}

// Close implements store.SeriesStore.
func (m *MemoryStore) Close() error { return nil }

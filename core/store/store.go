package store

import (
	"context"
	"errors"

	"github.com/kilianp07/fluxplan/core/timeseries"
)

// ErrNotFound is returned when no series or marker exists for an identity.
var ErrNotFound = errors.New("store: series not found")

// SeriesStore is the durable time-series storage consumed by workers (one
// write per finished job) and status reads. Persist replaces by identity; it
// is never mutated concurrently for the same logical result.
type SeriesStore interface {
	// Persist writes the series under the source identity, replacing any
	// previous result for that identity.
	Persist(ctx context.Context, source string, s timeseries.Series) error
	// Read returns the stored series trimmed to the overlap with win.
	Read(ctx context.Context, source string, win timeseries.Window) (timeseries.Series, error)
	// SetMarker records the most recent result source for a natural key, so
	// status reads survive the job record aging out of the queue.
	SetMarker(ctx context.Context, naturalKey, source string) error
	// Marker returns the source recorded for the natural key.
	Marker(ctx context.Context, naturalKey string) (string, error)
	Close() error
}

package timeseries

import (
	"fmt"
	"math"
	"time"
)

// Window describes a half-open planning window [Start, End) sampled at a
// fixed Resolution.
type Window struct {
	Start      time.Time
	End        time.Time
	Resolution time.Duration
}

// Validate checks that the window is well formed: Start < End and the span is
// a positive multiple of the resolution.
func (w Window) Validate() error {
	if w.Resolution <= 0 {
		return fmt.Errorf("resolution must be positive, got %v", w.Resolution)
	}
	if !w.Start.Before(w.End) {
		return fmt.Errorf("window start %v must precede end %v", w.Start, w.End)
	}
	span := w.End.Sub(w.Start)
	if span%w.Resolution != 0 {
		return fmt.Errorf("window span %v is not a multiple of resolution %v", span, w.Resolution)
	}
	return nil
}

// Slots returns the number of resolution-sized slots in the window.
func (w Window) Slots() int {
	if w.Resolution <= 0 {
		return 0
	}
	return int(w.End.Sub(w.Start) / w.Resolution)
}

// SlotTime returns the start time of slot i.
func (w Window) SlotTime(i int) time.Time {
	return w.Start.Add(time.Duration(i) * w.Resolution)
}

// Series is an ordered sequence of values at a uniform resolution over the
// half-open window [Start, End). Values may be NaN, meaning "unknown".
// A Series is immutable once created; accessors return copies.
type Series struct {
	start      time.Time
	resolution time.Duration
	values     []float64
}

// New creates a Series starting at start with one value per resolution slot.
// The values slice is copied.
func New(start time.Time, resolution time.Duration, values []float64) (Series, error) {
	if resolution <= 0 {
		return Series{}, fmt.Errorf("resolution must be positive, got %v", resolution)
	}
	vs := make([]float64, len(values))
	copy(vs, values)
	return Series{start: start, resolution: resolution, values: vs}, nil
}

// Zero returns a Series covering the window with every value set to 0.
func Zero(w Window) Series {
	return Series{start: w.Start, resolution: w.Resolution, values: make([]float64, w.Slots())}
}

// Start returns the timestamp of the first slot.
func (s Series) Start() time.Time { return s.start }

// End returns the exclusive end of the covered window.
func (s Series) End() time.Time {
	return s.start.Add(time.Duration(len(s.values)) * s.resolution)
}

// Resolution returns the slot duration.
func (s Series) Resolution() time.Duration { return s.resolution }

// Len returns the number of slots.
func (s Series) Len() int { return len(s.values) }

// Window returns the covered window.
func (s Series) Window() Window {
	return Window{Start: s.start, End: s.End(), Resolution: s.resolution}
}

// At returns the value of slot i.
func (s Series) At(i int) float64 { return s.values[i] }

// TimeAt returns the timestamp of slot i.
func (s Series) TimeAt(i int) time.Time {
	return s.start.Add(time.Duration(i) * s.resolution)
}

// Values returns a copy of the underlying values.
func (s Series) Values() []float64 {
	vs := make([]float64, len(s.values))
	copy(vs, s.values)
	return vs
}

// Sum returns the sum of all known values. NaN entries are skipped.
func (s Series) Sum() float64 {
	var total float64
	for _, v := range s.values {
		if !math.IsNaN(v) {
			total += v
		}
	}
	return total
}

// HasNaN reports whether any slot holds an unknown value.
func (s Series) HasNaN() bool {
	for _, v := range s.values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// Slice returns the sub-series overlapping [from, to), trimmed to the data
// actually covered. The bounds are aligned to the series grid: a partial
// leading slot is dropped, a partial trailing slot is dropped. The result may
// be empty when there is no overlap.
func (s Series) Slice(from, to time.Time) Series {
	if len(s.values) == 0 || !from.Before(to) {
		return Series{start: s.start, resolution: s.resolution}
	}
	lo := 0
	if from.After(s.start) {
		d := from.Sub(s.start)
		lo = int((d + s.resolution - 1) / s.resolution)
	}
	hi := len(s.values)
	if to.Before(s.End()) {
		hi = int(to.Sub(s.start) / s.resolution)
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(s.values) {
		hi = len(s.values)
	}
	if lo >= hi {
		return Series{start: s.start, resolution: s.resolution}
	}
	vs := make([]float64, hi-lo)
	copy(vs, s.values[lo:hi])
	return Series{
		start:      s.start.Add(time.Duration(lo) * s.resolution),
		resolution: s.resolution,
		values:     vs,
	}
}

// Equal reports whether both series cover the same window at the same
// resolution with identical values. NaN entries compare equal to NaN.
func (s Series) Equal(o Series) bool {
	if !s.start.Equal(o.start) || s.resolution != o.resolution || len(s.values) != len(o.values) {
		return false
	}
	for i, v := range s.values {
		w := o.values[i]
		if math.IsNaN(v) && math.IsNaN(w) {
			continue
		}
		if v != w {
			return false
		}
	}
	return true
}

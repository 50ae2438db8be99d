package forecast

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/fluxplan/core/timeseries"
)

// SupportedHorizons lists the forecast horizons models accept. A horizon is
// the gap between the belief time and the predicted slot.
var SupportedHorizons = []time.Duration{
	time.Hour,
	6 * time.Hour,
	24 * time.Hour,
	48 * time.Hour,
}

// HorizonSupported reports whether h is one of the supported horizons.
func HorizonSupported(h time.Duration) bool {
	for _, s := range SupportedHorizons {
		if h == s {
			return true
		}
	}
	return false
}

// InsufficientHistoryError reports that the sensor history does not cover
// what the model needs.
type InsufficientHistoryError struct {
	Sensor string
	Window timeseries.Window
	Reason string
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("history of %q insufficient for [%v, %v): %s",
		e.Sensor, e.Window.Start, e.Window.End, e.Reason)
}

// Naive is the persistence model: each slot repeats the value observed one
// horizon earlier. history must cover [win.Start-horizon, win.End-horizon)
// without unknown values.
func Naive(history timeseries.Series, win timeseries.Window, horizon time.Duration, sensor string) (timeseries.Series, error) {
	lagged := history.Slice(win.Start.Add(-horizon), win.End.Add(-horizon))
	if lagged.Len() < win.Slots() || lagged.HasNaN() {
		return timeseries.Series{}, &InsufficientHistoryError{Sensor: sensor, Window: win,
			Reason: fmt.Sprintf("need %d known lagged values, have %d", win.Slots(), knownCount(lagged))}
	}
	return timeseries.New(win.Start, win.Resolution, lagged.Values())
}

// trainingHorizons is the length of the OLS training window, expressed in
// multiples of the forecast horizon.
const trainingHorizons = 4

// OLS fits an ordinary least squares trend over the training window ending
// at win.Start and extrapolates it across the forecast window. history must
// cover [win.Start-trainingHorizons*horizon, win.Start) without unknowns.
func OLS(history timeseries.Series, win timeseries.Window, horizon time.Duration, sensor string) (timeseries.Series, error) {
	trainStart := win.Start.Add(-time.Duration(trainingHorizons) * horizon)
	train := history.Slice(trainStart, win.Start)
	need := int(time.Duration(trainingHorizons) * horizon / win.Resolution)
	if train.Len() < need || train.HasNaN() {
		return timeseries.Series{}, &InsufficientHistoryError{Sensor: sensor, Window: win,
			Reason: fmt.Sprintf("need %d known training values, have %d", need, knownCount(train))}
	}
	if train.Len() < 2 {
		return timeseries.Series{}, &InsufficientHistoryError{Sensor: sensor, Window: win,
			Reason: "need at least two training values"}
	}

	xs := make([]float64, train.Len())
	for i := range xs {
		xs[i] = float64(i)
	}
	alpha, beta := stat.LinearRegression(xs, train.Values(), nil, false)

	offset := float64(win.Start.Sub(train.Start()) / win.Resolution)
	values := make([]float64, win.Slots())
	for i := range values {
		values[i] = alpha + beta*(offset+float64(i))
	}
	return timeseries.New(win.Start, win.Resolution, values)
}

func knownCount(s timeseries.Series) int {
	n := 0
	for i := 0; i < s.Len(); i++ {
		if !math.IsNaN(s.At(i)) {
			n++
		}
	}
	return n
}

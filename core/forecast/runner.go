package forecast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

// Model identifiers as registered with the worker registry. The default
// chain tries the trend model first and falls back to persistence.
const (
	OLSModelID   = "forecast-ols"
	NaiveModelID = "forecast-naive"
)

// Runner adapts a forecast model to the worker's Runner contract: it reads
// sensor history from the series store and maps model errors onto the
// failure taxonomy.
type Runner struct {
	Store store.SeriesStore
	// Model computes the forecast from history. Wire Naive or OLS.
	Model func(history timeseries.Series, win timeseries.Window, horizon time.Duration, sensor string) (timeseries.Series, error)
}

// Run implements worker.Runner.
func (r Runner) Run(ctx context.Context, args job.Args) (timeseries.Series, *job.Failure) {
	win := timeseries.Window{Start: args.Start, End: args.End, Resolution: args.Resolution}
	if err := win.Validate(); err != nil {
		return timeseries.Series{}, &job.Failure{Kind: job.FailureMalformedRequest, Detail: err.Error()}
	}
	if !HorizonSupported(args.Horizon) {
		// Fallback-eligible: the chain ends on its own once every model has
		// rejected the horizon.
		return timeseries.Series{}, &job.Failure{
			Kind:   job.FailureInsufficientData,
			Detail: fmt.Sprintf("horizon %v is not supported (supported: %v)", args.Horizon, SupportedHorizons),
		}
	}

	// History needed by the widest model: training window plus lagged reads.
	histStart := win.Start.Add(-time.Duration(trainingHorizons) * args.Horizon)
	history, err := r.Store.Read(ctx, args.Sensor, timeseries.Window{
		Start: histStart, End: win.End, Resolution: win.Resolution,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return timeseries.Series{}, &job.Failure{
			Kind:   job.FailureInsufficientData,
			Detail: fmt.Sprintf("fetch history of %q: %v", args.Sensor, err),
		}
	}

	result, err := r.Model(history, win, args.Horizon, args.Sensor)
	if err != nil {
		var insufficient *InsufficientHistoryError
		if errors.As(err, &insufficient) {
			return timeseries.Series{}, &job.Failure{Kind: job.FailureInsufficientData, Detail: err.Error()}
		}
		return timeseries.Series{}, &job.Failure{Kind: job.FailureMalformedRequest, Detail: err.Error()}
	}
	return result, nil
}

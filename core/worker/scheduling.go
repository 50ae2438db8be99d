package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/fluxplan/core/flexmodel"
	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/planner"
	"github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

// PlannerModelID is the identifier of the constrained load planner.
const PlannerModelID = "flex-planner"

// SchedulingRunner adapts the pure planner to the Runner contract: it
// decodes the flex-model, fetches the cost signal from the series store and
// maps planner errors onto the failure taxonomy.
type SchedulingRunner struct {
	Store store.SeriesStore
}

// Run implements Runner.
func (r SchedulingRunner) Run(ctx context.Context, args job.Args) (timeseries.Series, *job.Failure) {
	win := timeseries.Window{Start: args.Start, End: args.End, Resolution: args.Resolution}
	cs, err := flexmodel.Parse(args.Constraints, win)
	if err != nil {
		return timeseries.Series{}, &job.Failure{Kind: job.FailureMalformedRequest, Detail: err.Error()}
	}

	var cost timeseries.Series
	if cs.LoadType != flexmodel.Inflexible {
		cost, err = r.Store.Read(ctx, cs.CostSensor, win)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return timeseries.Series{}, &job.Failure{
					Kind:   job.FailureInsufficientData,
					Detail: fmt.Sprintf("cost series %q has no data for [%v, %v)", cs.CostSensor, win.Start, win.End),
				}
			}
			return timeseries.Series{}, &job.Failure{
				Kind:   job.FailureInsufficientData,
				Detail: fmt.Sprintf("fetch cost series %q: %v", cs.CostSensor, err),
			}
		}
	}

	schedule, err := planner.Plan(cs, win, cost)
	if err != nil {
		var infeasible *planner.InfeasibleError
		if errors.As(err, &infeasible) {
			return timeseries.Series{}, &job.Failure{Kind: job.FailureInfeasibleSchedule, Detail: err.Error()}
		}
		var insufficient *planner.InsufficientDataError
		if errors.As(err, &insufficient) {
			return timeseries.Series{}, &job.Failure{Kind: job.FailureInsufficientData, Detail: err.Error()}
		}
		return timeseries.Series{}, &job.Failure{Kind: job.FailureMalformedRequest, Detail: err.Error()}
	}
	return schedule, nil
}

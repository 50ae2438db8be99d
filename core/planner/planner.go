package planner

import (
	"fmt"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/kilianp07/fluxplan/core/flexmodel"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

// InfeasibleError reports that the time restrictions (or the window itself)
// leave no valid placement for the requested duration. A duration exceeding
// the window is infeasible for every load type; the planner never clamps.
type InfeasibleError struct {
	Duration time.Duration
	Window   timeseries.Window
	LoadType flexmodel.LoadType
}

func (e *InfeasibleError) Error() string {
	return fmt.Sprintf("no feasible %s placement of %v within [%v, %v)",
		e.LoadType, e.Duration, e.Window.Start, e.Window.End)
}

// InsufficientDataError reports that the cost signal does not cover the
// planning window, or contains unknown values inside it.
type InsufficientDataError struct {
	Sensor string
	Window timeseries.Window
	Reason string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("cost series %q insufficient for [%v, %v): %s",
		e.Sensor, e.Window.Start, e.Window.End, e.Reason)
}

// Plan places the load described by cs within win and returns the schedule
// series: energy-per-slot (kWh) at scheduled slots, 0 elsewhere. The cost
// series is only read for BREAKABLE and SHIFTABLE loads and must cover the
// whole window without unknown values.
//
// Plan is pure and deterministic: identical inputs yield an identical series.
func Plan(cs flexmodel.ConstraintSet, win timeseries.Window, cost timeseries.Series) (timeseries.Series, error) {
	if err := cs.Validate(win); err != nil {
		return timeseries.Series{}, err
	}
	slots := win.Slots()
	rows := cs.RowsToFill(win.Resolution)
	if rows > slots {
		return timeseries.Series{}, &InfeasibleError{Duration: cs.Duration, Window: win, LoadType: cs.LoadType}
	}

	var chosen []int
	var err error
	switch cs.LoadType {
	case flexmodel.Inflexible:
		chosen, err = placeEarliest(cs, win, slots, rows)
	case flexmodel.Breakable:
		chosen, err = placeRanked(cs, win, cost, slots, rows)
	case flexmodel.Shiftable:
		chosen, err = placeBestWindow(cs, win, cost, slots, rows)
	default:
		return timeseries.Series{}, fmt.Errorf("unknown load type %d", cs.LoadType)
	}
	if err != nil {
		return timeseries.Series{}, err
	}

	energyPerSlot := cs.PowerKW * win.Resolution.Hours()
	values := make([]float64, slots)
	for _, i := range chosen {
		values[i] = energyPerSlot
	}
	return timeseries.New(win.Start, win.Resolution, values)
}

// placeEarliest finds the first contiguous run of rows unrestricted slots.
// Cost is never consulted.
func placeEarliest(cs flexmodel.ConstraintSet, win timeseries.Window, slots, rows int) ([]int, error) {
	run := 0
	for i := 0; i < slots; i++ {
		if cs.Forbidden(i) {
			run = 0
			continue
		}
		run++
		if run == rows {
			return contiguous(i-rows+1, rows), nil
		}
	}
	return nil, &InfeasibleError{Duration: cs.Duration, Window: win, LoadType: cs.LoadType}
}

// placeRanked selects the rows cheapest (or most expensive) unrestricted
// slots. Ties break on the earlier timestamp, so the ordering is total and
// the result reproducible.
func placeRanked(cs flexmodel.ConstraintSet, win timeseries.Window, cost timeseries.Series, slots, rows int) ([]int, error) {
	costs, err := alignCost(cs, win, cost)
	if err != nil {
		return nil, err
	}
	var candidates []int
	for i := 0; i < slots; i++ {
		if !cs.Forbidden(i) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) < rows {
		return nil, &InfeasibleError{Duration: cs.Duration, Window: win, LoadType: cs.LoadType}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		ca, cb := costs[candidates[a]], costs[candidates[b]]
		if ca == cb {
			return candidates[a] < candidates[b]
		}
		if cs.Sense == flexmodel.Maximize {
			return ca > cb
		}
		return ca < cb
	})
	chosen := append([]int(nil), candidates[:rows]...)
	sort.Ints(chosen)
	return chosen, nil
}

// placeBestWindow evaluates the rolling cost sum of every fully unrestricted
// contiguous start and keeps the best one, ties broken by the earliest start.
func placeBestWindow(cs flexmodel.ConstraintSet, win timeseries.Window, cost timeseries.Series, slots, rows int) ([]int, error) {
	costs, err := alignCost(cs, win, cost)
	if err != nil {
		return nil, err
	}
	best := -1
	var bestSum float64
	for t := 0; t+rows <= slots; t++ {
		blocked := false
		for i := t; i < t+rows; i++ {
			if cs.Forbidden(i) {
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}
		sum := floats.Sum(costs[t : t+rows])
		better := best == -1 ||
			(cs.Sense == flexmodel.Minimize && sum < bestSum) ||
			(cs.Sense == flexmodel.Maximize && sum > bestSum)
		if better {
			best, bestSum = t, sum
		}
	}
	if best == -1 {
		return nil, &InfeasibleError{Duration: cs.Duration, Window: win, LoadType: cs.LoadType}
	}
	return contiguous(best, rows), nil
}

// alignCost trims the cost series to the planning window and checks full,
// known coverage. NaN means the signal is unknown for that slot, which the
// cost-aware planners treat as missing input rather than guessing.
func alignCost(cs flexmodel.ConstraintSet, win timeseries.Window, cost timeseries.Series) ([]float64, error) {
	if cost.Resolution() != win.Resolution {
		return nil, &InsufficientDataError{Sensor: cs.CostSensor, Window: win,
			Reason: fmt.Sprintf("resolution %v differs from planning resolution %v", cost.Resolution(), win.Resolution)}
	}
	if offset := cost.Start().Sub(win.Start) % win.Resolution; offset != 0 {
		return nil, &InsufficientDataError{Sensor: cs.CostSensor, Window: win,
			Reason: fmt.Sprintf("grid misaligned with planning window by %v", offset)}
	}
	trimmed := cost.Slice(win.Start, win.End)
	if trimmed.Len() < win.Slots() {
		return nil, &InsufficientDataError{Sensor: cs.CostSensor, Window: win,
			Reason: fmt.Sprintf("covers %d of %d slots", trimmed.Len(), win.Slots())}
	}
	values := trimmed.Values()
	for i, v := range values {
		if math.IsNaN(v) {
			return nil, &InsufficientDataError{Sensor: cs.CostSensor, Window: win,
				Reason: fmt.Sprintf("unknown value at slot %d (%v)", i, trimmed.TimeAt(i))}
		}
	}
	return values, nil
}

func contiguous(start, n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = start + i
	}
	return idx
}

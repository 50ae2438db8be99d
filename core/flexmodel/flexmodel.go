package flexmodel

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/fluxplan/core/timeseries"
)

// LoadType describes how a load may be placed within the planning window.
type LoadType int

const (
	// Inflexible loads run as soon as possible in one contiguous block.
	Inflexible LoadType = iota
	// Breakable loads may be split into independent slots.
	Breakable
	// Shiftable loads stay contiguous but may move within the window.
	Shiftable
)

// String returns the canonical wire name of the load type.
func (t LoadType) String() string {
	switch t {
	case Inflexible:
		return "INFLEXIBLE"
	case Breakable:
		return "BREAKABLE"
	case Shiftable:
		return "SHIFTABLE"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the load type as its canonical name.
func (t LoadType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the canonical names, case-insensitively.
func (t *LoadType) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch strings.ToUpper(s) {
	case "INFLEXIBLE":
		*t = Inflexible
	case "BREAKABLE":
		*t = Breakable
	case "SHIFTABLE":
		*t = Shiftable
	default:
		return fmt.Errorf("unknown load type %q", s)
	}
	return nil
}

// Sense selects the optimization direction over the cost signal.
type Sense int

const (
	// Minimize schedules against the lowest cost.
	Minimize Sense = iota
	// Maximize schedules against the highest cost (production revenue).
	Maximize
)

// String returns the canonical wire name of the sense.
func (s Sense) String() string {
	if s == Maximize {
		return "MAX"
	}
	return "MIN"
}

// MarshalJSON encodes the sense as its canonical name.
func (s Sense) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON accepts MIN and MAX, case-insensitively.
func (s *Sense) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch strings.ToUpper(v) {
	case "MIN":
		*s = Minimize
	case "MAX":
		*s = Maximize
	default:
		return fmt.Errorf("unknown optimization sense %q", v)
	}
	return nil
}

// ConstraintSet is the validated flex-model parameterizing one scheduling
// run: how much power to place, for how long, under which placement rules.
type ConstraintSet struct {
	// PowerKW is the constant power of the load while scheduled.
	PowerKW float64 `json:"power_kw"`
	// Duration is the total run time to place, a multiple of the resolution.
	Duration time.Duration `json:"duration"`
	// LoadType selects the placement variant.
	LoadType LoadType `json:"load_type"`
	// Sense selects cost minimization or maximization.
	Sense Sense `json:"sense"`
	// CostSensor names the series holding the cost signal (price, CO2).
	CostSensor string `json:"cost_sensor,omitempty"`
	// Restrictions marks forbidden slots, aligned to the planning window.
	// true means the slot must stay empty. Empty means no restrictions.
	Restrictions []bool `json:"restrictions,omitempty"`
}

// constraintPayload mirrors ConstraintSet on the wire with the duration as a
// Go duration string so payloads stay human-readable.
type constraintPayload struct {
	PowerKW      float64  `json:"power_kw"`
	Duration     string   `json:"duration"`
	LoadType     LoadType `json:"load_type"`
	Sense        Sense    `json:"sense"`
	CostSensor   string   `json:"cost_sensor,omitempty"`
	Restrictions []bool   `json:"restrictions,omitempty"`
}

// Parse decodes and validates a flex-model payload against the planning
// window it will be scheduled in.
func Parse(payload []byte, win timeseries.Window) (ConstraintSet, error) {
	var p constraintPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return ConstraintSet{}, fmt.Errorf("decode flex-model: %w", err)
	}
	dur, err := time.ParseDuration(p.Duration)
	if err != nil {
		return ConstraintSet{}, fmt.Errorf("decode flex-model duration: %w", err)
	}
	cs := ConstraintSet{
		PowerKW:      p.PowerKW,
		Duration:     dur,
		LoadType:     p.LoadType,
		Sense:        p.Sense,
		CostSensor:   p.CostSensor,
		Restrictions: p.Restrictions,
	}
	if err := cs.Validate(win); err != nil {
		return ConstraintSet{}, err
	}
	return cs, nil
}

// Encode serializes the constraint set to its wire payload.
func (c ConstraintSet) Encode() ([]byte, error) {
	return json.Marshal(constraintPayload{
		PowerKW:      c.PowerKW,
		Duration:     c.Duration.String(),
		LoadType:     c.LoadType,
		Sense:        c.Sense,
		CostSensor:   c.CostSensor,
		Restrictions: c.Restrictions,
	})
}

// Validate checks the structural invariants of the constraint set against
// the planning window. Feasibility (whether a placement exists) is decided
// later by the planner; Validate only rejects requests that can never be
// scheduled regardless of cost data.
func (c ConstraintSet) Validate(win timeseries.Window) error {
	if err := win.Validate(); err != nil {
		return err
	}
	if c.PowerKW <= 0 {
		return fmt.Errorf("power must be positive, got %v kW", c.PowerKW)
	}
	if c.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %v", c.Duration)
	}
	if c.Duration%win.Resolution != 0 {
		return fmt.Errorf("duration %v is not a multiple of resolution %v", c.Duration, win.Resolution)
	}
	if n := len(c.Restrictions); n != 0 && n != win.Slots() {
		return fmt.Errorf("restriction mask has %d slots, window has %d", n, win.Slots())
	}
	if c.LoadType != Inflexible && c.CostSensor == "" {
		return fmt.Errorf("%s loads require a cost sensor", c.LoadType)
	}
	return nil
}

// RowsToFill returns the number of slots the load occupies at the given
// resolution.
func (c ConstraintSet) RowsToFill(resolution time.Duration) int {
	if resolution <= 0 {
		return 0
	}
	rows := int(c.Duration / resolution)
	if c.Duration%resolution != 0 {
		rows++
	}
	return rows
}

// Forbidden reports whether slot i is excluded by the restriction mask.
func (c ConstraintSet) Forbidden(i int) bool {
	return i < len(c.Restrictions) && c.Restrictions[i]
}

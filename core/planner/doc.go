// Package planner implements constrained placement of a fixed-power,
// fixed-duration load within a planning window. Three variants exist:
// INFLEXIBLE (earliest contiguous run), BREAKABLE (cheapest independent
// slots) and SHIFTABLE (best contiguous rolling-sum window). All variants
// honor the restriction mask and report infeasibility instead of clamping.
package planner

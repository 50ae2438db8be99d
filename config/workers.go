package config

import (
	"fmt"
	"time"
)

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	// Count is the number of concurrent workers.
	Count int `json:"count"`
	// PollMS is the queue poll interval while idle, in milliseconds.
	PollMS int `json:"poll_ms"`
}

// SetDefaults applies sane defaults.
func (c *WorkersConfig) SetDefaults() {
	if c.Count == 0 {
		c.Count = 4
	}
	if c.PollMS == 0 {
		c.PollMS = 250
	}
}

// Validate checks the values are usable.
func (c WorkersConfig) Validate() error {
	if c.Count < 1 {
		return fmt.Errorf("worker count must be positive, got %d", c.Count)
	}
	if c.PollMS < 1 {
		return fmt.Errorf("poll interval must be positive, got %d ms", c.PollMS)
	}
	return nil
}

// Poll returns the poll interval as a duration.
func (c WorkersConfig) Poll() time.Duration {
	return time.Duration(c.PollMS) * time.Millisecond
}

// PlannerConfig holds planning defaults applied when a trigger request
// leaves them out.
type PlannerConfig struct {
	// DefaultDurationHours is the planning window length when the request
	// gives only a start time.
	DefaultDurationHours int `json:"default_duration_hours"`
	// ResolutionMinutes is the default slot duration.
	ResolutionMinutes int `json:"resolution_minutes"`
}

// SetDefaults applies sane defaults.
func (c *PlannerConfig) SetDefaults() {
	if c.DefaultDurationHours == 0 {
		c.DefaultDurationHours = 24
	}
	if c.ResolutionMinutes == 0 {
		c.ResolutionMinutes = 60
	}
}

// Validate checks the values are usable.
func (c PlannerConfig) Validate() error {
	if c.DefaultDurationHours < 1 {
		return fmt.Errorf("default duration must be positive, got %d hours", c.DefaultDurationHours)
	}
	if c.ResolutionMinutes < 1 {
		return fmt.Errorf("resolution must be positive, got %d minutes", c.ResolutionMinutes)
	}
	return nil
}

// DefaultDuration returns the default planning window length.
func (c PlannerConfig) DefaultDuration() time.Duration {
	return time.Duration(c.DefaultDurationHours) * time.Hour
}

// Resolution returns the default slot duration.
func (c PlannerConfig) Resolution() time.Duration {
	return time.Duration(c.ResolutionMinutes) * time.Minute
}

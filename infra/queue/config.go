package queue

import (
	"fmt"

	"github.com/kilianp07/fluxplan/core/job"
)

// Config selects the queue backing store.
type Config struct {
	// Backend is "memory" or "sqlite".
	Backend string `json:"backend"`
	// Path is the database file for the sqlite backend.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.Path == "" {
		c.Path = "fluxplan-jobs.db"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Backend != "memory" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown queue backend %s", c.Backend)
	}
	if c.Backend == "sqlite" && c.Path == "" {
		return fmt.Errorf("path is required for the sqlite backend")
	}
	return nil
}

// Open builds the queue selected by the configuration.
func Open(cfg Config) (job.Queue, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryQueue(), nil
	case "sqlite":
		return NewSQLiteQueue(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown queue backend %s", cfg.Backend)
	}
}

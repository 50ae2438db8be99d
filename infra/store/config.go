package store

import (
	"fmt"

	"github.com/kilianp07/fluxplan/core/logger"
	corestore "github.com/kilianp07/fluxplan/core/store"
)

// Config selects the series store backend.
type Config struct {
	// Backend is "memory" or "influx".
	Backend string `json:"backend"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
	if c.Bucket == "" {
		c.Bucket = "fluxplan"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	switch c.Backend {
	case "memory":
		return nil
	case "influx":
		if c.URL == "" || c.Org == "" || c.Bucket == "" {
			return fmt.Errorf("influx backend requires url, org and bucket")
		}
		return nil
	default:
		return fmt.Errorf("unknown store backend %s", c.Backend)
	}
}

// Open builds the store selected by the configuration. The influx backend
// degrades to memory when the database is unreachable.
func Open(cfg Config, log logger.Logger) (corestore.SeriesStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "influx":
		return NewInfluxStoreWithFallback(cfg.URL, cfg.Token, cfg.Org, cfg.Bucket, log), nil
	default:
		return nil, fmt.Errorf("unknown store backend %s", cfg.Backend)
	}
}

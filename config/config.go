package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fluxplan/core/metrics"
	"github.com/kilianp07/fluxplan/infra/notify"
	"github.com/kilianp07/fluxplan/infra/prices"
	"github.com/kilianp07/fluxplan/infra/queue"
	"github.com/kilianp07/fluxplan/infra/store"
)

// Config is the root service configuration.
type Config struct {
	Queue   queue.Config   `json:"queue"`
	Store   store.Config   `json:"store"`
	MQTT    notify.Config  `json:"mqtt"`
	Metrics metrics.Config `json:"metrics"`
	Workers WorkersConfig  `json:"workers"`
	Planner PlannerConfig  `json:"planner"`
	Prices  prices.Config  `json:"prices"`
}

// Load reads the configuration file (json or yaml) and applies FP_-prefixed
// environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("FP_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "fp_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Queue.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Workers.SetDefaults()
	cfg.Planner.SetDefaults()
	cfg.Prices.SetDefaults()
	if err := cfg.Queue.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Store.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.MQTT.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Metrics.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Workers.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Planner.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Prices.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

package metrics

import "fmt"

// Config controls the metrics sinks.
type Config struct {
	// PrometheusEnabled registers job metrics and serves them over HTTP.
	PrometheusEnabled bool `json:"prometheus_enabled"`
	// PrometheusPort is the listen address of the /metrics endpoint.
	PrometheusPort string `json:"prometheus_port"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PrometheusPort == "" {
		c.PrometheusPort = ":9090"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.PrometheusEnabled && c.PrometheusPort == "" {
		return fmt.Errorf("prometheus_port is required when prometheus is enabled")
	}
	return nil
}

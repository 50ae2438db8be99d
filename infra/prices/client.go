package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/kilianp07/fluxplan/core/logger"
	corestore "github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
)

// Config defines the day-ahead price feed.
type Config struct {
	// Enabled syncs prices into the series store at service start.
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
	// Sensor is the source identity the prices are stored under; scheduling
	// requests reference it as their cost sensor.
	Sensor string `json:"sensor"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Sensor == "" {
		c.Sensor = "prices/day-ahead"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.Enabled && c.BaseURL == "" {
		return fmt.Errorf("base_url is required when the price feed is enabled")
	}
	return nil
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpc = hc }
}

// Client fetches day-ahead prices from the upstream market API.
type Client struct {
	cfg   Config
	httpc *http.Client
	log   logger.Logger
}

// NewClient creates a Client for the configured feed.
func NewClient(cfg Config, log logger.Logger, opts ...Option) *Client {
	if log == nil {
		log = logger.Nop{}
	}
	c := &Client{cfg: cfg, httpc: &http.Client{Timeout: 15 * time.Second}, log: log}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// pricePoint is one slot of the upstream response.
type pricePoint struct {
	Start time.Time `json:"start"`
	Price float64   `json:"price_eur_mwh"`
}

// priceResponse is the upstream payload.
type priceResponse struct {
	ResolutionMinutes int          `json:"resolution_minutes"`
	Points            []pricePoint `json:"points"`
}

// FetchDayAhead retrieves prices covering the window. Missing slots stay NaN
// so downstream consumers see them as unknown.
func (c *Client) FetchDayAhead(ctx context.Context, win timeseries.Window) (timeseries.Series, error) {
	q := url.Values{}
	q.Set("start_date", win.Start.UTC().Format(time.RFC3339))
	q.Set("end_date", win.End.UTC().Format(time.RFC3339))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return timeseries.Series{}, fmt.Errorf("build price request: %w", err)
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return timeseries.Series{}, fmt.Errorf("fetch prices: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return timeseries.Series{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, body)
	}
	var payload priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return timeseries.Series{}, fmt.Errorf("decode price response: %w", err)
	}
	if got := time.Duration(payload.ResolutionMinutes) * time.Minute; got != win.Resolution {
		return timeseries.Series{}, fmt.Errorf("feed resolution %v differs from requested %v", got, win.Resolution)
	}

	values := make([]float64, win.Slots())
	for i := range values {
		values[i] = math.NaN()
	}
	for _, p := range payload.Points {
		idx := int(p.Start.Sub(win.Start) / win.Resolution)
		if idx >= 0 && idx < len(values) {
			values[idx] = p.Price
		}
	}
	return timeseries.New(win.Start, win.Resolution, values)
}

// Sync fetches the window and persists it under the configured sensor.
func (c *Client) Sync(ctx context.Context, st corestore.SeriesStore, win timeseries.Window) error {
	series, err := c.FetchDayAhead(ctx, win)
	if err != nil {
		return err
	}
	if err := st.Persist(ctx, c.cfg.Sensor, series); err != nil {
		return fmt.Errorf("persist prices: %w", err)
	}
	c.log.Infof("synced %d price slots into %s", series.Len(), c.cfg.Sensor)
	return nil
}

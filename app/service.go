package app

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/fluxplan/config"
	"github.com/kilianp07/fluxplan/core/forecast"
	"github.com/kilianp07/fluxplan/core/job"
	coremetrics "github.com/kilianp07/fluxplan/core/metrics"
	corestore "github.com/kilianp07/fluxplan/core/store"
	"github.com/kilianp07/fluxplan/core/timeseries"
	"github.com/kilianp07/fluxplan/core/worker"
	"github.com/kilianp07/fluxplan/infra/logger"
	"github.com/kilianp07/fluxplan/infra/metrics"
	"github.com/kilianp07/fluxplan/infra/notify"
	"github.com/kilianp07/fluxplan/infra/prices"
	"github.com/kilianp07/fluxplan/infra/queue"
	"github.com/kilianp07/fluxplan/infra/store"
	"github.com/kilianp07/fluxplan/internal/eventbus"
)

// NewRegistry builds the standard model registry over the series store: the
// constrained load planner plus the forecast chain.
func NewRegistry(st corestore.SeriesStore) (*worker.Registry, error) {
	reg := worker.NewRegistry()
	regs := []worker.Registration{
		{
			ID:     worker.PlannerModelID,
			Runner: worker.SchedulingRunner{Store: st},
			Unit:   "kWh",
		},
		{
			ID:       forecast.OLSModelID,
			Runner:   forecast.Runner{Store: st, Model: forecast.OLS},
			Fallback: forecast.NaiveModelID,
			Unit:     "kW",
		},
		{
			ID:     forecast.NaiveModelID,
			Runner: forecast.Runner{Store: st, Model: forecast.Naive},
			Unit:   "kW",
		},
	}
	for _, r := range regs {
		if err := reg.Register(r); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Service wires the queue, stores, workers and observability together.
type Service struct {
	cfg      *config.Config
	queue    job.Queue
	store    corestore.SeriesStore
	pool     *worker.Pool
	bus      *eventbus.Bus[job.Event]
	sink     coremetrics.Sink
	notifier *notify.Notifier
	prices   *prices.Client
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	log := logger.New("service")

	q, err := queue.Open(cfg.Queue)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	st, err := store.Open(cfg.Store, logger.New("store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	registry, err := NewRegistry(st)
	if err != nil {
		return nil, fmt.Errorf("build registry: %w", err)
	}

	var sink coremetrics.Sink = coremetrics.NopSink{}
	if cfg.Metrics.PrometheusEnabled {
		promSink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sink = promSink
	}

	bus := eventbus.New[job.Event]()
	fallback, err := worker.NewFallbackResolver(q, registry, logger.New("fallback"))
	if err != nil {
		return nil, err
	}
	w, err := worker.New(q, registry, st, fallback, bus, sink, logger.New("worker"))
	if err != nil {
		return nil, err
	}
	pool, err := worker.NewPool(w, cfg.Workers.Count, cfg.Workers.Poll(), logger.New("pool"))
	if err != nil {
		return nil, err
	}

	svc := &Service{cfg: cfg, queue: q, store: st, pool: pool, bus: bus, sink: sink, log: log}
	if cfg.MQTT.Enabled {
		notifier, err := notify.NewNotifier(cfg.MQTT, logger.New("notifier"))
		if err != nil {
			return nil, fmt.Errorf("mqtt notifier: %w", err)
		}
		svc.notifier = notifier
	}
	if cfg.Prices.Enabled {
		svc.prices = prices.NewClient(cfg.Prices, logger.New("prices"))
	}
	return svc, nil
}

// Run blocks until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if s.prices != nil {
		now := time.Now().UTC().Truncate(s.cfg.Planner.Resolution())
		win := timeseries.Window{
			Start:      now,
			End:        now.Add(s.cfg.Planner.DefaultDuration()),
			Resolution: s.cfg.Planner.Resolution(),
		}
		if err := s.prices.Sync(ctx, s.store, win); err != nil {
			s.log.Warnf("price sync: %v", err)
		}
	}
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	if s.notifier != nil {
		go s.notifier.Run(ctx, s.bus)
	}
	// Enqueues happen outside the worker (trigger, fallback resolver), so the
	// sink learns about them from the bus.
	go coremetrics.RunBridge(ctx, s.bus, s.sink, s.log)
	s.log.Infof("starting %d workers", s.cfg.Workers.Count)
	s.pool.Run(ctx)
	return nil
}

// Close releases the queue, store and broker connections.
func (s *Service) Close() error {
	if s.notifier != nil {
		s.notifier.Close()
	}
	s.bus.Close()
	if err := s.queue.Close(); err != nil {
		return err
	}
	return s.store.Close()
}

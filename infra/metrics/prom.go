package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/fluxplan/core/job"
	coremetrics "github.com/kilianp07/fluxplan/core/metrics"
)

// PromSink records job lifecycle events in Prometheus metrics.
type PromSink struct {
	enqueued prometheus.Counter
	finished *prometheus.CounterVec
	failed   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPromSink registers job metrics on the default Prometheus registerer.
// The metrics server should be started separately on cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.Sink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (coremetrics.Sink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	enqueued := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fluxplan_jobs_enqueued_total",
		Help: "Total number of jobs appended to the queue",
	})
	finished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxplan_jobs_finished_total",
		Help: "Total number of jobs finished successfully",
	}, []string{"model"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxplan_jobs_failed_total",
		Help: "Total number of failed jobs",
	}, []string{"model", "reason"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fluxplan_job_duration_seconds",
		Help:    "Wall-clock run time of jobs reaching a terminal state",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	if err := reg.Register(enqueued); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			enqueued = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(finished); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			finished = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(failed); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			failed = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(duration); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			duration = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}

	return &PromSink{enqueued: enqueued, finished: finished, failed: failed, duration: duration}, nil
}

// RecordJobEvent implements metrics.Sink.
func (s *PromSink) RecordJobEvent(ev coremetrics.JobEvent) error {
	switch ev.Status {
	case job.StatusQueued:
		s.enqueued.Inc()
	case job.StatusFinished:
		s.finished.WithLabelValues(ev.ModelID).Inc()
		s.duration.WithLabelValues(ev.ModelID).Observe(ev.Duration.Seconds())
	case job.StatusFailed:
		s.failed.WithLabelValues(ev.ModelID, ev.Reason).Inc()
		s.duration.WithLabelValues(ev.ModelID).Observe(ev.Duration.Seconds())
	}
	return nil
}

package metrics

import (
	"time"

	"github.com/kilianp07/fluxplan/core/job"
)

// JobEvent is one observable job state change.
type JobEvent struct {
	JobID      string
	NaturalKey string
	ModelID    string
	Status     job.Status
	// Reason is the failure kind name for failed jobs, empty otherwise.
	Reason string
	// Duration is the wall-clock run time for terminal events.
	Duration time.Duration
	Time     time.Time
}

// Sink records job events for observability purposes.
type Sink interface {
	RecordJobEvent(ev JobEvent) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) RecordJobEvent(JobEvent) error { return nil }

// MultiSink fans events out to several sinks, returning the first error.
type MultiSink []Sink

func (m MultiSink) RecordJobEvent(ev JobEvent) error {
	for _, s := range m {
		if err := s.RecordJobEvent(ev); err != nil {
			return err
		}
	}
	return nil
}

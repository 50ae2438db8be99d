package metrics

import (
	"context"

	"github.com/kilianp07/fluxplan/core/job"
	"github.com/kilianp07/fluxplan/core/logger"
	"github.com/kilianp07/fluxplan/internal/eventbus"
)

// RunBridge forwards queue-entry events from the bus into the sink until the
// context is canceled. The worker records its own transitions (started,
// finished, failed) directly; the bridge covers the events the worker never
// sees: initial enqueues and fallback re-enqueues.
func RunBridge(ctx context.Context, bus *eventbus.Bus[job.Event], sink Sink, log logger.Logger) {
	if log == nil {
		log = logger.Nop{}
	}
	events := bus.Subscribe()
	defer bus.Unsubscribe(events)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != job.EventEnqueued && ev.Type != job.EventFallbackScheduled {
				continue
			}
			err := sink.RecordJobEvent(JobEvent{
				JobID:      ev.JobID,
				NaturalKey: ev.NaturalKey,
				ModelID:    ev.ModelID,
				Status:     job.StatusQueued,
				Time:       ev.Time,
			})
			if err != nil {
				log.Errorf("record queued event for job %s: %v", ev.JobID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}

package job

import "time"

// EventType classifies job lifecycle events published on the bus.
type EventType int

const (
	EventEnqueued EventType = iota
	EventStarted
	EventFinished
	EventFailed
	EventFallbackScheduled
)

// String returns the wire name of the event type.
func (t EventType) String() string {
	switch t {
	case EventEnqueued:
		return "enqueued"
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	case EventFallbackScheduled:
		return "fallback_scheduled"
	default:
		return "unknown"
	}
}

// Event is published whenever a record changes state. Consumers (MQTT
// notifier, metrics bridge) subscribe via the event bus.
type Event struct {
	Type       EventType
	JobID      string
	NaturalKey string
	ModelID    string
	Failure    *Failure
	Time       time.Time
}

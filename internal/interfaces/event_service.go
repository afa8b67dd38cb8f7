package interfaces

import "time"

// EventType identifies the kind of event being published
type EventType string

const (
	EventTypeJobStatusChanged EventType = "job_status_changed"
	EventTypeJobProgress      EventType = "job_progress"
	EventTypeQueueStats       EventType = "queue_stats"
	EventTypeSchedulerState   EventType = "scheduler_state"
)

// Event represents a system event published to subscribers
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	JobID     string      `json:"job_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
}

// EventHandler processes a published event. Handlers must not block.
type EventHandler func(event Event)

// EventService is an in-process publish/subscribe bus
type EventService interface {
	Publish(event Event)
	Subscribe(eventType EventType, handler EventHandler) func()
	SubscribeAll(handler EventHandler) func()
}

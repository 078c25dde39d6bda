package notifications

import (
	"time"
)

// EventType represents the type of credential lifecycle event.
type EventType string

const (
	// EventTypeStarted indicates a rotation has started.
	EventTypeStarted EventType = "started"

	// EventTypeCompleted indicates a rotation has completed successfully.
	EventTypeCompleted EventType = "completed"

	// EventTypeFailed indicates a rotation has failed.
	EventTypeFailed EventType = "failed"

	// EventTypeSkipped indicates a rotation was aborted without changes, usually for a missing backup.
	EventTypeSkipped EventType = "skipped"

	// EventTypeFallback indicates an acquisition fell back to a secondary slot or degraded mode.
	EventTypeFallback EventType = "fallback"
)

// Status represents the outcome status of an event.
type Status string

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = "success"

	// StatusFailure indicates the operation failed.
	StatusFailure Status = "failure"

	// StatusWarning indicates the operation finished without effect.
	StatusWarning Status = "warning"
)

// Event is a rotation or acquisition event delivered to operators.
type Event struct {
	// Type is the type of event.
	Type EventType

	// Trigger is what caused the event (manual, scheduled, emergency, acquire).
	Trigger string

	// Status is the outcome status.
	Status Status

	// Reason is the operator supplied reason or the fallback cause.
	Reason string

	// Error contains the error if the operation failed.
	Error error

	// Duration is how long the operation took.
	Duration time.Duration

	// Metadata contains additional context such as slots involved.
	Metadata map[string]string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// RotationID is the unique identifier of the rotation, if any.
	RotationID string

	// InitiatedBy indicates who or what initiated the operation.
	InitiatedBy string
}

// AllEventTypes returns all valid event types.
func AllEventTypes() []EventType {
	return []EventType{
		EventTypeStarted,
		EventTypeCompleted,
		EventTypeFailed,
		EventTypeSkipped,
		EventTypeFallback,
	}
}

// supportsEvent reports whether eventType is in the configured list. An empty list supports all.
func supportsEvent(configured []string, eventType EventType) bool {
	if len(configured) == 0 {
		return true
	}
	for _, e := range configured {
		if equalFold(e, string(eventType)) {
			return true
		}
	}
	return false
}

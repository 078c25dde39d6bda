// Package notifications delivers credential rotation and fallback events to operators.
package notifications

import (
	"context"
	"strings"
)

// NotificationProvider defines the interface for sending events.
type NotificationProvider interface {
	// Name returns the provider name (e.g., "log", "slack", "webhook").
	Name() string

	// Send sends a notification for the given event.
	Send(ctx context.Context, event Event) error

	// SupportsEvent returns true if this provider handles the given event type.
	SupportsEvent(eventType EventType) bool

	// Validate checks if the provider configuration is valid.
	Validate(ctx context.Context) error
}

func equalFold(a, b string) bool {
	return strings.EqualFold(a, b)
}

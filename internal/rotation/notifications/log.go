package notifications

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/systmms/cookieguard/internal/logging"
)

// LogProvider writes events to the operator log. It is always registered so that
// emergency rotations are visible even with no remote channel configured.
type LogProvider struct {
	logger *logging.Logger
	events []string
}

// NewLogProvider creates a provider writing to logger. An empty events list supports all.
func NewLogProvider(logger *logging.Logger, events ...string) *LogProvider {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogProvider{logger: logger.Named("notify"), events: events}
}

// Name returns the provider name.
func (p *LogProvider) Name() string {
	return "log"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *LogProvider) SupportsEvent(eventType EventType) bool {
	return supportsEvent(p.events, eventType)
}

// Validate always succeeds.
func (p *LogProvider) Validate(ctx context.Context) error {
	return nil
}

// Send logs the event at a level matching its status.
func (p *LogProvider) Send(ctx context.Context, event Event) error {
	msg := formatEvent(event)
	switch event.Status {
	case StatusFailure:
		p.logger.Error("%s", msg)
	case StatusWarning:
		p.logger.Warn("%s", msg)
	default:
		p.logger.Info("%s", msg)
	}
	return nil
}

func formatEvent(event Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s", event.Type)
	if event.Trigger != "" {
		fmt.Fprintf(&b, " trigger=%s", event.Trigger)
	}
	if event.RotationID != "" {
		fmt.Fprintf(&b, " id=%s", event.RotationID)
	}
	if event.Reason != "" {
		fmt.Fprintf(&b, " reason=%q", event.Reason)
	}
	if event.Duration > 0 {
		fmt.Fprintf(&b, " duration=%s", event.Duration)
	}

	keys := make([]string, 0, len(event.Metadata))
	for k := range event.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, event.Metadata[k])
	}

	if event.Error != nil {
		fmt.Fprintf(&b, " error=%q", event.Error.Error())
	}
	return b.String()
}

package notifications

import (
	"context"
	"fmt"

	"github.com/systmms/cookieguard/internal/logging"
)

// Settings selects the notification channels to register.
type Settings struct {
	WebhookURL      string
	WebhookSecret   string
	SlackWebhookURL string
	SlackChannel    string
	SlackMentions   []string
	QueueSize       int
}

// NewFromSettings builds a Manager with the log provider plus any configured remote channels.
// Remote providers are validated; an invalid URL is a configuration error.
func NewFromSettings(s Settings, logger *logging.Logger) (*Manager, error) {
	m := NewManager(s.QueueSize, logger)
	m.RegisterProvider(NewLogProvider(logger))

	if s.WebhookURL != "" {
		p := NewWebhookProvider(WebhookConfig{Name: "operator", URL: s.WebhookURL, Secret: s.WebhookSecret})
		if err := p.Validate(context.Background()); err != nil {
			return nil, fmt.Errorf("webhook notifications: %w", err)
		}
		m.RegisterProvider(p)
	}

	if s.SlackWebhookURL != "" {
		p := NewSlackProvider(SlackConfig{
			WebhookURL: s.SlackWebhookURL,
			Channel:    s.SlackChannel,
			Mentions:   s.SlackMentions,
			// started events are noise in a channel
			Events: []string{
				string(EventTypeCompleted),
				string(EventTypeFailed),
				string(EventTypeSkipped),
				string(EventTypeFallback),
			},
		})
		if err := p.Validate(context.Background()); err != nil {
			return nil, fmt.Errorf("slack notifications: %w", err)
		}
		m.RegisterProvider(p)
	}

	return m, nil
}

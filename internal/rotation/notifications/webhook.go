package notifications

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// SignatureHeader carries the HMAC-SHA256 of the body when a webhook secret is set
const SignatureHeader = "X-Cookieguard-Signature"

// WebhookConfig holds configuration for webhook notifications.
type WebhookConfig struct {
	// Name distinguishes several webhooks in logs.
	Name string

	URL string

	// Secret signs each body; receivers recompute the HMAC to authenticate the sender.
	Secret string

	// Headers are added to every request, e.g. Authorization.
	Headers map[string]string

	// Events limits delivery to these event types. Empty means all.
	Events []string

	Retry   RetryPolicy
	Timeout time.Duration
}

// WebhookProvider posts events as JSON documents.
type WebhookProvider struct {
	config WebhookConfig
	poster *poster
}

// webhookPayload is the document posted for every event
type webhookPayload struct {
	Event           EventType         `json:"event"`
	Source          string            `json:"source"`
	Status          Status            `json:"status"`
	Timestamp       time.Time         `json:"timestamp"`
	Trigger         string            `json:"trigger,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	RotationID      string            `json:"rotation_id,omitempty"`
	InitiatedBy     string            `json:"initiated_by,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	Error           string            `json:"error,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewWebhookProvider creates a webhook notification provider.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	p := &WebhookProvider{config: config}
	p.poster = newPoster(p.Name(), config.Timeout, config.Retry)
	return p
}

// Name returns the provider name.
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *WebhookProvider) SupportsEvent(eventType EventType) bool {
	return supportsEvent(p.config.Events, eventType)
}

// Validate checks the endpoint URL.
func (p *WebhookProvider) Validate(ctx context.Context) error {
	return validateURL(p.config.URL)
}

// Send posts the event, signing the body when a secret is configured.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(newWebhookPayload(event))
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	headers := make(http.Header, len(p.config.Headers)+1)
	for k, v := range p.config.Headers {
		headers.Set(k, v)
	}
	if p.config.Secret != "" {
		headers.Set(SignatureHeader, Sign(p.config.Secret, body))
	}
	return p.poster.post(ctx, p.config.URL, body, headers)
}

func newWebhookPayload(event Event) webhookPayload {
	payload := webhookPayload{
		Event:       event.Type,
		Source:      "cookieguard",
		Status:      event.Status,
		Timestamp:   event.Timestamp.UTC(),
		Trigger:     event.Trigger,
		Reason:      event.Reason,
		RotationID:  event.RotationID,
		InitiatedBy: event.InitiatedBy,
		Metadata:    event.Metadata,
	}
	if event.Duration > 0 {
		payload.DurationSeconds = event.Duration.Seconds()
	}
	if event.Error != nil {
		payload.Error = event.Error.Error()
	}
	return payload
}

// Sign returns the signature header value for body: "sha256=" and the hex HMAC.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

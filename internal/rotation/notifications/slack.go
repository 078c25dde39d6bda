package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SlackConfig holds configuration for Slack incoming webhook notifications.
type SlackConfig struct {
	WebhookURL string

	// Channel overrides the webhook's default channel.
	Channel string

	// Events limits delivery to these event types. Empty means all.
	Events []string

	// Mentions are pinged on failures, fallbacks and emergency rotations.
	Mentions []string

	Retry   RetryPolicy
	Timeout time.Duration
}

// SlackProvider posts Block Kit messages to a Slack incoming webhook.
type SlackProvider struct {
	config SlackConfig
	poster *poster
}

type slackText struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Emoji bool   `json:"emoji,omitempty"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Fields   []slackText `json:"fields,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackMessage struct {
	Channel string       `json:"channel,omitempty"`
	Text    string       `json:"text"`
	Blocks  []slackBlock `json:"blocks"`
}

// NewSlackProvider creates a Slack notification provider.
func NewSlackProvider(config SlackConfig) *SlackProvider {
	return &SlackProvider{
		config: config,
		poster: newPoster("slack", config.Timeout, config.Retry),
	}
}

// Name returns the provider name.
func (p *SlackProvider) Name() string {
	return "slack"
}

// SupportsEvent returns true if this provider handles the given event type.
func (p *SlackProvider) SupportsEvent(eventType EventType) bool {
	return supportsEvent(p.config.Events, eventType)
}

// Validate checks the webhook URL.
func (p *SlackProvider) Validate(ctx context.Context) error {
	if err := validateURL(p.config.WebhookURL); err != nil {
		return fmt.Errorf("webhook %w", err)
	}
	return nil
}

// Send posts the event to Slack.
func (p *SlackProvider) Send(ctx context.Context, event Event) error {
	body, err := json.Marshal(p.buildMessage(event))
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}
	return p.poster.post(ctx, p.config.WebhookURL, body, nil)
}

func mrkdwn(format string, args ...interface{}) slackText {
	return slackText{Type: "mrkdwn", Text: fmt.Sprintf(format, args...)}
}

func (p *SlackProvider) buildMessage(event Event) slackMessage {
	title := eventTitle(event)
	msg := slackMessage{
		Channel: p.config.Channel,
		Text:    title,
	}

	msg.Blocks = append(msg.Blocks, slackBlock{
		Type: "header",
		Text: &slackText{Type: "plain_text", Text: eventEmoji(event) + " " + title, Emoji: true},
	})

	fields := []slackText{
		mrkdwn("*Trigger:*\n%s", orDash(event.Trigger)),
		mrkdwn("*Initiated by:*\n%s", orDash(event.InitiatedBy)),
	}
	if event.Reason != "" {
		fields = append(fields, mrkdwn("*Reason:*\n%s", event.Reason))
	}
	if event.Duration > 0 {
		fields = append(fields, mrkdwn("*Duration:*\n%s", event.Duration.Round(time.Millisecond)))
	}
	msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Fields: fields})

	// slots and counters recorded by the orchestrator or the fallback chain
	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var meta []slackText
		for _, k := range keys {
			meta = append(meta, mrkdwn("*%s:*\n`%s`", k, event.Metadata[k]))
		}
		// Slack rejects sections with more than 10 fields
		for len(meta) > 0 {
			n := min(len(meta), 10)
			msg.Blocks = append(msg.Blocks, slackBlock{Type: "section", Fields: meta[:n]})
			meta = meta[n:]
		}
	}

	if event.Error != nil {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: ptr(mrkdwn(":warning: *Error:*\n```%s```", event.Error.Error())),
		})
	}

	if mentions := p.mentions(event); mentions != "" {
		msg.Blocks = append(msg.Blocks, slackBlock{
			Type: "section",
			Text: ptr(mrkdwn("*Attention:* %s", mentions)),
		})
	}

	ts := event.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	msg.Blocks = append(msg.Blocks, slackBlock{
		Type: "context",
		Elements: []slackText{mrkdwn("<!date^%d^{date_short_pretty} at {time}|%s>",
			ts.Unix(), ts.UTC().Format(time.RFC3339))},
	})
	return msg
}

func ptr(t slackText) *slackText { return &t }

func eventEmoji(event Event) string {
	switch event.Type {
	case EventTypeStarted:
		return ":arrows_counterclockwise:"
	case EventTypeCompleted:
		if event.Trigger == "emergency" {
			return ":rotating_light:"
		}
		return ":white_check_mark:"
	case EventTypeFailed:
		return ":x:"
	case EventTypeSkipped:
		return ":double_vertical_bar:"
	case EventTypeFallback:
		if event.Status == StatusFailure {
			return ":no_entry:"
		}
		return ":rewind:"
	}
	return ":cookie:"
}

func eventTitle(event Event) string {
	prefix := "Cookie Rotation"
	if event.Trigger == "emergency" {
		prefix = "Emergency Cookie Rotation"
	}
	switch event.Type {
	case EventTypeStarted:
		return prefix + " Started"
	case EventTypeCompleted:
		return prefix + " Completed"
	case EventTypeFailed:
		return prefix + " Failed"
	case EventTypeSkipped:
		return prefix + " Skipped"
	case EventTypeFallback:
		if event.Status == StatusFailure {
			return "Credentials Unavailable"
		}
		return "Credential Fallback"
	}
	return "Credential Event"
}

func (p *SlackProvider) mentions(event Event) string {
	if len(p.config.Mentions) == 0 {
		return ""
	}
	if event.Type == EventTypeFailed || event.Type == EventTypeFallback || event.Trigger == "emergency" {
		return strings.Join(p.config.Mentions, " ")
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlackProvider_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{name: "valid", url: "https://hooks.slack.com/services/T/B/X"},
		{name: "missing", url: "", wantErr: true},
		{name: "invalid", url: "hooks.slack.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewSlackProvider(SlackConfig{WebhookURL: tt.url}).Validate(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSlackProvider_Send(t *testing.T) {
	t.Parallel()

	var received slackMessage
	var raw []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		raw, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, &received))
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	provider := NewSlackProvider(SlackConfig{
		WebhookURL: server.URL,
		Channel:    "#cookie-ops",
		Mentions:   []string{"@oncall"},
	})

	err := provider.Send(context.Background(), Event{
		Type:        EventTypeFailed,
		Trigger:     "scheduled",
		Status:      StatusFailure,
		Error:       errors.New("backup slot unreadable"),
		Duration:    1500 * time.Millisecond,
		Timestamp:   time.Now(),
		InitiatedBy: "cron",
		Metadata:    map[string]string{"archive_slot": "archive/20260101T000000.000Z"},
	})
	require.NoError(t, err)

	assert.Equal(t, "#cookie-ops", received.Channel)
	assert.Equal(t, "Cookie Rotation Failed", received.Text)
	assert.Equal(t, "header", received.Blocks[0].Type)
	assert.Equal(t, "context", received.Blocks[len(received.Blocks)-1].Type)

	body := string(raw)
	assert.Contains(t, body, "scheduled")
	assert.Contains(t, body, "1.5s")
	assert.Contains(t, body, "archive/20260101T000000.000Z")
	assert.Contains(t, body, "backup slot unreadable")
	assert.Contains(t, body, "@oncall")
}

func TestSlackProvider_Send_NonOK(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	err := NewSlackProvider(SlackConfig{WebhookURL: server.URL, Retry: fastRetry}).
		Send(context.Background(), Event{Type: EventTypeCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestSlackProvider_ManyMetadataFieldsAreSplit(t *testing.T) {
	t.Parallel()

	meta := map[string]string{}
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j", "k", "l"} {
		meta[k] = k
	}
	msg := NewSlackProvider(SlackConfig{}).buildMessage(Event{Type: EventTypeCompleted, Metadata: meta})

	var counts []int
	for _, b := range msg.Blocks[2:] {
		if b.Type == "section" {
			counts = append(counts, len(b.Fields))
		}
	}
	assert.Equal(t, []int{10, 2}, counts)
	assert.Contains(t, msg.Blocks[2].Fields[0].Text, "*a:*")
}

func TestSlackTitlesAndEmoji(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event Event
		title string
		emoji string
	}{
		{Event{Type: EventTypeStarted}, "Cookie Rotation Started", ":arrows_counterclockwise:"},
		{Event{Type: EventTypeCompleted, Status: StatusSuccess}, "Cookie Rotation Completed", ":white_check_mark:"},
		{Event{Type: EventTypeCompleted, Trigger: "emergency"}, "Emergency Cookie Rotation Completed", ":rotating_light:"},
		{Event{Type: EventTypeFailed, Status: StatusFailure}, "Cookie Rotation Failed", ":x:"},
		{Event{Type: EventTypeSkipped, Status: StatusWarning}, "Cookie Rotation Skipped", ":double_vertical_bar:"},
		{Event{Type: EventTypeFallback, Status: StatusWarning}, "Credential Fallback", ":rewind:"},
		{Event{Type: EventTypeFallback, Status: StatusFailure}, "Credentials Unavailable", ":no_entry:"},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.title, eventTitle(tt.event))
			assert.Equal(t, tt.emoji, eventEmoji(tt.event))
		})
	}
}

func TestSlackProvider_Mentions(t *testing.T) {
	t.Parallel()

	p := NewSlackProvider(SlackConfig{Mentions: []string{"@oncall", "@platform"}})

	assert.Equal(t, "@oncall @platform", p.mentions(Event{Type: EventTypeFailed}))
	assert.Equal(t, "@oncall @platform", p.mentions(Event{Type: EventTypeFallback}))
	assert.Equal(t, "@oncall @platform", p.mentions(Event{Type: EventTypeCompleted, Trigger: "emergency"}))
	assert.Empty(t, p.mentions(Event{Type: EventTypeCompleted, Trigger: "scheduled"}))
	assert.Empty(t, NewSlackProvider(SlackConfig{}).mentions(Event{Type: EventTypeFailed}))
}

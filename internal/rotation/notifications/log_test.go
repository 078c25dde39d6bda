package notifications

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/logging"
)

func TestLogProvider_Send(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		event  Event
		marker string
		want   []string
	}{
		{
			name: "success",
			event: Event{
				Type:       EventTypeCompleted,
				Trigger:    "scheduled",
				Status:     StatusSuccess,
				RotationID: "rot-1",
				Duration:   2 * time.Second,
				Metadata:   map[string]string{"archive": "archive/20260101T000000.000Z"},
			},
			marker: "✓",
			want:   []string{"[notify] completed", "trigger=scheduled", "id=rot-1", "archive=archive/20260101T000000.000Z"},
		},
		{
			name:   "warning",
			event:  Event{Type: EventTypeSkipped, Status: StatusWarning, Reason: "no backup"},
			marker: "⚠",
			want:   []string{"skipped", `reason="no backup"`},
		},
		{
			name:   "failure",
			event:  Event{Type: EventTypeFailed, Status: StatusFailure, Error: errors.New("copy failed")},
			marker: "✗",
			want:   []string{"failed", `error="copy failed"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			p := NewLogProvider(logging.NewWithWriter(&buf, false, true))
			require.NoError(t, p.Send(context.Background(), tt.event))

			out := buf.String()
			assert.Contains(t, out, tt.marker)
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestLogProvider_SupportsEvent(t *testing.T) {
	t.Parallel()

	all := NewLogProvider(nil)
	for _, et := range AllEventTypes() {
		assert.True(t, all.SupportsEvent(et))
	}

	failuresOnly := NewLogProvider(nil, "FAILED")
	assert.True(t, failuresOnly.SupportsEvent(EventTypeFailed))
	assert.False(t, failuresOnly.SupportsEvent(EventTypeCompleted))
	assert.Equal(t, "log", failuresOnly.Name())
}

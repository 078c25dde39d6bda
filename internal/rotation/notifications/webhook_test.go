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

var fastRetry = RetryPolicy{Attempts: 3, Wait: 5 * time.Millisecond}

func TestWebhookProvider_Name(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "webhook:ops", NewWebhookProvider(WebhookConfig{Name: "ops"}).Name())
	assert.Equal(t, "webhook", NewWebhookProvider(WebhookConfig{}).Name())
}

func TestWebhookProvider_SupportsEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		events    []string
		eventType EventType
		want      bool
	}{
		{name: "empty events supports all", eventType: EventTypeFallback, want: true},
		{name: "listed", events: []string{"failed", "completed"}, eventType: EventTypeFailed, want: true},
		{name: "not listed", events: []string{"failed"}, eventType: EventTypeSkipped, want: false},
		{name: "case insensitive", events: []string{"FALLBACK"}, eventType: EventTypeFallback, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := NewWebhookProvider(WebhookConfig{Events: tt.events})
			assert.Equal(t, tt.want, provider.SupportsEvent(tt.eventType))
		})
	}
}

func TestWebhookProvider_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "https", url: "https://example.com/webhook"},
		{name: "http", url: "http://10.0.0.5:8080/hook"},
		{name: "missing", wantErr: "URL is required"},
		{name: "relative", url: "not-a-url", wantErr: "invalid URL"},
		{name: "other scheme", url: "ftp://example.com/hook", wantErr: "invalid URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := NewWebhookProvider(WebhookConfig{URL: tt.url}).Validate(context.Background())
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

type capture struct {
	body   []byte
	header http.Header
}

func captureServer(t *testing.T, got *capture) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		got.body = raw
		got.header = r.Header.Clone()
		assert.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestWebhookProvider_Send_Payload(t *testing.T) {
	t.Parallel()

	var got capture
	server := captureServer(t, &got)
	provider := NewWebhookProvider(WebhookConfig{URL: server.URL})

	err := provider.Send(context.Background(), Event{
		Type:        EventTypeCompleted,
		Trigger:     "emergency",
		Status:      StatusSuccess,
		Reason:      "session revoked",
		RotationID:  "rot-42",
		InitiatedBy: "ops@example.com",
		Duration:    3 * time.Second,
		Timestamp:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Metadata:    map[string]string{"snapshot": "backups/emergency-20260101T000000.000Z"},
	})
	require.NoError(t, err)

	assert.Equal(t, "application/json", got.header.Get("Content-Type"))
	assert.Empty(t, got.header.Get(SignatureHeader))

	var received map[string]interface{}
	require.NoError(t, json.Unmarshal(got.body, &received))
	assert.Equal(t, "completed", received["event"])
	assert.Equal(t, "cookieguard", received["source"])
	assert.Equal(t, "success", received["status"])
	assert.Equal(t, "2026-01-01T00:00:00Z", received["timestamp"])
	assert.Equal(t, "emergency", received["trigger"])
	assert.Equal(t, "session revoked", received["reason"])
	assert.Equal(t, "rot-42", received["rotation_id"])
	assert.Equal(t, "ops@example.com", received["initiated_by"])
	assert.InDelta(t, 3.0, received["duration_seconds"], 0.001)
	assert.NotContains(t, received, "error")
	metadata := received["metadata"].(map[string]interface{})
	assert.Equal(t, "backups/emergency-20260101T000000.000Z", metadata["snapshot"])
}

func TestWebhookProvider_Send_ErrorInPayload(t *testing.T) {
	t.Parallel()

	var got capture
	server := captureServer(t, &got)
	provider := NewWebhookProvider(WebhookConfig{URL: server.URL})

	err := provider.Send(context.Background(), Event{
		Type:      EventTypeFailed,
		Status:    StatusFailure,
		Error:     errors.New("promote: upload [active]: access denied"),
		Timestamp: time.Now(),
	})
	require.NoError(t, err)

	var received map[string]interface{}
	require.NoError(t, json.Unmarshal(got.body, &received))
	assert.Equal(t, "promote: upload [active]: access denied", received["error"])
}

func TestWebhookProvider_Send_Signed(t *testing.T) {
	t.Parallel()

	var got capture
	server := captureServer(t, &got)
	provider := NewWebhookProvider(WebhookConfig{
		URL:     server.URL,
		Secret:  "s3cret",
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})

	require.NoError(t, provider.Send(context.Background(), Event{Type: EventTypeFallback, Status: StatusWarning}))

	assert.Equal(t, "Bearer test-token", got.header.Get("Authorization"))
	assert.Equal(t, Sign("s3cret", got.body), got.header.Get(SignatureHeader))
	assert.NotEqual(t, Sign("other", got.body), got.header.Get(SignatureHeader))
}

func TestSign(t *testing.T) {
	t.Parallel()

	// RFC 4231 test case 2
	assert.Equal(t,
		"sha256=5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
		Sign("Jefe", []byte("what do ya want for nothing?")))
}

func TestWebhookProvider_Send_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		codes []int
		calls int32
	}{
		{name: "server errors", codes: []int{503, 502, 200}, calls: 3},
		{name: "throttled", codes: []int{429, 200}, calls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := atomic.AddInt32(&calls, 1)
				w.WriteHeader(tt.codes[n-1])
			}))
			defer server.Close()

			provider := NewWebhookProvider(WebhookConfig{URL: server.URL, Retry: fastRetry})
			require.NoError(t, provider.Send(context.Background(), Event{Type: EventTypeCompleted}))
			assert.Equal(t, tt.calls, atomic.LoadInt32(&calls))
		})
	}
}

func TestWebhookProvider_Send_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := NewWebhookProvider(WebhookConfig{URL: server.URL, Retry: fastRetry})
	err := provider.Send(context.Background(), Event{Type: EventTypeCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWebhookProvider_Send_RetryExhausted(t *testing.T) {
	t.Parallel()

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	provider := NewWebhookProvider(WebhookConfig{
		URL:   server.URL,
		Retry: RetryPolicy{Attempts: 2, Wait: 5 * time.Millisecond},
	})

	err := provider.Send(context.Background(), Event{Type: EventTypeCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestWebhookProvider_Send_Timeout(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	provider := NewWebhookProvider(WebhookConfig{
		URL:     server.URL,
		Timeout: 50 * time.Millisecond,
		Retry:   RetryPolicy{Attempts: 1},
	})

	assert.Error(t, provider.Send(context.Background(), Event{Type: EventTypeCompleted}))
}

func TestWebhookProvider_Send_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := NewWebhookProvider(WebhookConfig{
		URL:   server.URL,
		Retry: RetryPolicy{Attempts: 5, Wait: time.Hour},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := provider.Send(ctx, Event{Type: EventTypeCompleted})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	t.Parallel()

	r := RetryPolicy{Attempts: 4, Wait: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, r.backoff(1))
	assert.Equal(t, 200*time.Millisecond, r.backoff(2))
	assert.Equal(t, 400*time.Millisecond, r.backoff(3))

	assert.Equal(t, DefaultRetryPolicy, RetryPolicy{}.normalized())
}

package notifications

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/logging"
)

// fakeProvider is a test double for NotificationProvider
type fakeProvider struct {
	name          string
	supportedEvts []EventType
	sendFunc      func(ctx context.Context, event Event) error
	mu            sync.Mutex
	sentEvents    []Event
	sendDelay     time.Duration
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{
		name:          name,
		supportedEvts: AllEventTypes(),
	}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) SupportsEvent(eventType EventType) bool {
	for _, e := range p.supportedEvts {
		if e == eventType {
			return true
		}
	}
	return false
}

func (p *fakeProvider) Validate(ctx context.Context) error { return nil }

func (p *fakeProvider) Send(ctx context.Context, event Event) error {
	if p.sendDelay > 0 {
		select {
		case <-time.After(p.sendDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if p.sendFunc != nil {
		return p.sendFunc(ctx, event)
	}

	p.mu.Lock()
	p.sentEvents = append(p.sentEvents, event)
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) getSentEvents() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]Event, len(p.sentEvents))
	copy(events, p.sentEvents)
	return events
}

func TestManager_RegisterProvider(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil)
	m.RegisterProvider(newFakeProvider("a"))
	m.RegisterProvider(newFakeProvider("b"))

	providers := m.Providers()
	require.Len(t, providers, 2)
	assert.Equal(t, "a", providers[0].Name())
}

func TestManager_StartStopIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil)
	m.Start(context.Background())
	m.Start(context.Background())
	require.NoError(t, m.Stop(context.Background()))
	require.NoError(t, m.Stop(context.Background()))
}

func TestManager_SendDeliversOnStop(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil)
	p := newFakeProvider("fake")
	m.RegisterProvider(p)
	m.Start(context.Background())

	m.Send(Event{Type: EventTypeCompleted, Trigger: "manual", Status: StatusSuccess})
	require.NoError(t, m.Stop(context.Background()))

	events := p.getSentEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "manual", events[0].Trigger)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestManager_FiltersUnsupportedEvents(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil)
	p := newFakeProvider("completed-only")
	p.supportedEvts = []EventType{EventTypeCompleted}
	m.RegisterProvider(p)
	m.Start(context.Background())

	m.Send(Event{Type: EventTypeFailed, Status: StatusFailure})
	m.Send(Event{Type: EventTypeCompleted, Status: StatusSuccess, RotationID: "r1"})
	require.NoError(t, m.Stop(context.Background()))

	events := p.getSentEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "r1", events[0].RotationID)
}

func TestManager_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	m := NewManager(2, nil)
	p := newFakeProvider("slow")
	p.sendDelay = 50 * time.Millisecond
	m.RegisterProvider(p)
	m.Start(context.Background())

	for i := 0; i < 20; i++ {
		m.Send(Event{Type: EventTypeFallback})
	}
	require.NoError(t, m.Stop(context.Background()))

	assert.Greater(t, m.DroppedCount(), int64(0))
	assert.Equal(t, int64(20), m.DroppedCount()+int64(len(p.getSentEvents())))
}

func TestManager_SendBeforeStartIsIgnored(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil)
	p := newFakeProvider("fake")
	m.RegisterProvider(p)

	m.Send(Event{Type: EventTypeStarted})
	assert.Empty(t, p.getSentEvents())
	assert.Zero(t, m.DroppedCount())
}

func TestManager_DeliverIsSynchronous(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	m := NewManager(10, logging.NewWithWriter(&buf, false, true))
	ok := newFakeProvider("ok")
	failing := newFakeProvider("broken")
	failing.sendFunc = func(context.Context, Event) error { return errors.New("unreachable") }
	m.RegisterProvider(ok)
	m.RegisterProvider(failing)

	err := m.Deliver(context.Background(), Event{Type: EventTypeCompleted, Trigger: "emergency"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken: unreachable")
	assert.Len(t, ok.getSentEvents(), 1)
	assert.Contains(t, buf.String(), "broken notification failed")
}

func TestManager_StopBoundedByContext(t *testing.T) {
	t.Parallel()

	m := NewManager(10, nil)
	p := newFakeProvider("stuck")
	release := make(chan struct{})
	p.sendFunc = func(context.Context, Event) error {
		<-release
		return nil
	}
	m.RegisterProvider(p)
	m.Start(context.Background())
	m.Send(Event{Type: EventTypeCompleted})

	// give the worker time to pick up the event
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestNewFromSettings(t *testing.T) {
	t.Parallel()

	t.Run("log only", func(t *testing.T) {
		t.Parallel()
		m, err := NewFromSettings(Settings{}, nil)
		require.NoError(t, err)
		require.Len(t, m.Providers(), 1)
		assert.Equal(t, "log", m.Providers()[0].Name())
	})

	t.Run("all channels", func(t *testing.T) {
		t.Parallel()
		m, err := NewFromSettings(Settings{
			WebhookURL:      "https://hooks.example.com/cookieguard",
			WebhookSecret:   "s3cret",
			SlackWebhookURL: "https://hooks.slack.com/services/T/B/X",
			SlackMentions:   []string{"@oncall"},
		}, nil)
		require.NoError(t, err)
		names := []string{}
		for _, p := range m.Providers() {
			names = append(names, p.Name())
		}
		assert.Equal(t, []string{"log", "webhook:operator", "slack"}, names)
		assert.False(t, m.Providers()[2].SupportsEvent(EventTypeStarted))
	})

	t.Run("invalid url", func(t *testing.T) {
		t.Parallel()
		_, err := NewFromSettings(Settings{WebhookURL: "not a url"}, nil)
		require.Error(t, err)
	})
}

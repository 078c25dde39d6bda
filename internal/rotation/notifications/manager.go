package notifications

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/systmms/cookieguard/internal/logging"
)

const (
	// DefaultQueueSize is the maximum number of events that can be queued.
	DefaultQueueSize = 100

	// providerTimeout bounds a single provider's Send, including its retries
	providerTimeout = 30 * time.Second
	drainTimeout    = 5 * time.Second
)

// Manager fans events out to the registered providers. Send queues onto a bounded channel
// drained by one worker so rotations and acquisitions never wait on delivery; Deliver is the
// synchronous path for events that must not be dropped.
type Manager struct {
	mu        sync.RWMutex
	providers []NotificationProvider
	running   bool

	queue   chan Event
	stop    chan struct{}
	stopped chan struct{}
	logger  *logging.Logger
	dropped atomic.Int64
}

// NewManager creates a notification manager. A queueSize of 0 means DefaultQueueSize.
func NewManager(queueSize int, logger *logging.Logger) *Manager {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		queue:   make(chan Event, queueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger.Named("notifications"),
	}
}

// RegisterProvider adds a provider. Register before Start.
func (m *Manager) RegisterProvider(provider NotificationProvider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers = append(m.providers, provider)
}

// Providers returns a copy of the registered providers.
func (m *Manager) Providers() []NotificationProvider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]NotificationProvider(nil), m.providers...)
}

// Start launches the delivery worker. Calling it again is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true
	go m.worker(ctx)
}

// Stop delivers what is still queued and waits for the worker, bounded by ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()
	close(m.stop)

	select {
	case <-m.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain interrupted: %w", ctx.Err())
	}
}

// Send queues an event. It never blocks; when the queue is full the event is dropped and
// counted. Events sent before Start or after Stop are ignored.
func (m *Manager) Send(event Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return
	}
	stamp(&event)

	select {
	case m.queue <- event:
	default:
		m.dropped.Add(1)
		incrementDroppedCounter()
		m.logger.Warn("notification queue full, dropped %s event", event.Type)
	}
}

// Deliver sends an event to every provider and waits for all of them. Provider failures are
// logged and returned joined.
func (m *Manager) Deliver(ctx context.Context, event Event) error {
	stamp(&event)
	return m.dispatch(ctx, event)
}

// DroppedCount returns the number of events dropped on a full queue.
func (m *Manager) DroppedCount() int64 {
	return m.dropped.Load()
}

func stamp(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
}

func (m *Manager) worker(ctx context.Context) {
	defer close(m.stopped)
	for {
		select {
		case event := <-m.queue:
			_ = m.dispatch(ctx, event)
		case <-ctx.Done():
			m.drain()
			return
		case <-m.stop:
			m.drain()
			return
		}
	}
}

// drain delivers queued events on a fresh context; the caller's may already be cancelled
func (m *Manager) drain() {
	for {
		select {
		case event := <-m.queue:
			ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			_ = m.dispatch(ctx, event)
			cancel()
		default:
			return
		}
	}
}

// dispatch sends event to the supporting providers concurrently
func (m *Manager) dispatch(ctx context.Context, event Event) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, p := range m.Providers() {
		if !p.SupportsEvent(event.Type) {
			continue
		}
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, providerTimeout)
			defer cancel()
			if err := p.Send(pctx, event); err != nil {
				incrementFailedCounter(p.Name())
				m.logger.Warn("%s notification failed: %v", p.Name(), err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

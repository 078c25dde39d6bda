// Package ratelimit implements a per-identifier sliding-window limiter for credential acquisition.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/systmms/cookieguard/internal/credential"
)

const (
	// DefaultWindow is the sliding window length
	DefaultWindow = 60 * time.Second
	// DefaultMaxRequests is the number of requests allowed per window
	DefaultMaxRequests = 10
)

// Limiter tracks request timestamps per identifier. Windows are created on first use,
// pruned on every check and dropped once empty.
type Limiter struct {
	window  time.Duration
	max     int
	now     func() time.Time
	mu      sync.Mutex
	windows map[string][]time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a limiter allowing max requests per window
func New(window time.Duration, max int, opts ...Option) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if max <= 0 {
		max = DefaultMaxRequests
	}
	l := &Limiter{
		window:  window,
		max:     max,
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check records a request for id, or returns a rate limit error if the window is full
func (l *Limiter) Check(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	stamps := l.prune(id, now)
	if len(stamps) >= l.max {
		retryAfter := stamps[0].Add(l.window).Sub(now)
		return &credential.Error{
			Kind:       credential.KindRateLimit,
			Op:         "rate limit",
			Err:        fmt.Errorf("%q made %d requests in %s, retry in %s", id, len(stamps), l.window, retryAfter.Round(time.Second)),
			RetryAfter: retryAfter,
		}
	}
	l.windows[id] = append(stamps, now)
	return nil
}

// Remaining returns how many requests id may still make in the current window
func (l *Limiter) Remaining(id string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.max - len(l.prune(id, l.now()))
}

// Reset forgets the window for id
func (l *Limiter) Reset(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

// Tracked returns the number of identifiers with a live window
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// prune drops timestamps older than the window. Caller holds mu.
func (l *Limiter) prune(id string, now time.Time) []time.Time {
	stamps := l.windows[id]
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	stamps = stamps[i:]
	if len(stamps) == 0 {
		delete(l.windows, id)
		return nil
	}
	l.windows[id] = stamps
	return stamps
}

package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/credential"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLimiterRejectsAfterMax(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		window time.Duration
		max    int
	}{
		{"defaults", 60 * time.Second, 10},
		{"tight", time.Second, 1},
		{"wide", time.Hour, 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clock := newClock()
			l := New(tt.window, tt.max, WithClock(clock.Now))

			for i := 0; i < tt.max; i++ {
				require.NoError(t, l.Check("worker-1"), "request %d", i+1)
			}
			err := l.Check("worker-1")
			require.Error(t, err)
			assert.Equal(t, credential.KindRateLimit, credential.KindOf(err))

			var ce *credential.Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.window, ce.RetryAfter)

			clock.Advance(tt.window + time.Millisecond)
			assert.NoError(t, l.Check("worker-1"))
		})
	}
}

func TestLimiterSlidingWindow(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := New(10*time.Second, 2, WithClock(clock.Now))

	require.NoError(t, l.Check("a"))
	clock.Advance(6 * time.Second)
	require.NoError(t, l.Check("a"))
	require.Error(t, l.Check("a"))

	// the first request leaves the window, the second is still inside it
	clock.Advance(5 * time.Second)
	require.NoError(t, l.Check("a"))
	require.Error(t, l.Check("a"))
}

func TestLimiterIdentifiersAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(time.Minute, 1, WithClock(newClock().Now))
	require.NoError(t, l.Check("a"))
	require.NoError(t, l.Check("b"))
	assert.Error(t, l.Check("a"))
	assert.Equal(t, 0, l.Remaining("b"))
	assert.Equal(t, 1, l.Remaining("c"))
}

func TestLimiterDropsEmptyWindows(t *testing.T) {
	t.Parallel()

	clock := newClock()
	l := New(time.Second, 5, WithClock(clock.Now))
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Check(fmt.Sprintf("caller-%d", i)))
	}
	assert.Equal(t, 50, l.Tracked())

	clock.Advance(2 * time.Second)
	assert.Equal(t, 5, l.Remaining("caller-0"))
	assert.Equal(t, 49, l.Tracked())

	l.Reset("caller-1")
	assert.Equal(t, 48, l.Tracked())
}

func TestLimiterDefaults(t *testing.T) {
	t.Parallel()

	l := New(0, 0)
	assert.Equal(t, DefaultWindow, l.window)
	assert.Equal(t, DefaultMaxRequests, l.max)
}

func TestLimiterConcurrent(t *testing.T) {
	t.Parallel()

	l := New(time.Minute, 100, WithClock(newClock().Now))
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("shared") == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 100, allowed)
}

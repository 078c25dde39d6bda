package ephemeral

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/credential"
)

func TestSweeper_ReleasesStaleFiles(t *testing.T) {
	t.Parallel()

	i := newTestIssuer(t)
	f, err := i.Issue([]byte("x"), credential.SlotActive, "s")
	require.NoError(t, err)

	s := NewSweeper(i, SweeperConfig{Interval: 10 * time.Millisecond, MaxAge: time.Nanosecond})
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return s.Stats().Released >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.NoFileExists(t, f.Path)
}

func TestSweeper_StopWithoutStart(t *testing.T) {
	t.Parallel()

	s := NewSweeper(newTestIssuer(t), SweeperConfig{})
	s.Stop()
	s.Stop()
}

func TestSweeper_ContextCancel(t *testing.T) {
	t.Parallel()

	s := NewSweeper(newTestIssuer(t), SweeperConfig{Interval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

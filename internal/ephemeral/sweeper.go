package ephemeral

import (
	"context"
	"sync"
	"time"

	"github.com/systmms/cookieguard/internal/logging"
)

// SweeperConfig holds tunables for the Sweeper
type SweeperConfig struct {
	Interval time.Duration // how often a sweep runs
	MaxAge   time.Duration // files older than this are released
	Logger   *logging.Logger
}

// SweeperStats is a read-only snapshot of sweeper activity
type SweeperStats struct {
	Cycles   uint64
	Released uint64
	Failures uint64
}

// Sweeper periodically releases stale ephemeral files
type Sweeper struct {
	issuer *Issuer
	cfg    SweeperConfig

	mu    sync.Mutex
	stats SweeperStats

	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	once    sync.Once
}

// NewSweeper constructs but does not start a Sweeper
func NewSweeper(issuer *Issuer, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 15 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Sweeper{
		issuer: issuer,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the sweep loop in a new goroutine
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	go s.loop(ctx)
}

// Stop signals the loop to exit and waits for it. Safe to call when never started.
func (s *Sweeper) Stop() {
	s.once.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.doneCh
	}
}

// Stats returns a copy of the current counters
func (s *Sweeper) Stats() SweeperStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Sweeper) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer func() {
		ticker.Stop()
		close(s.doneCh)
	}()

	for {
		select {
		case <-ctx.Done():
			s.cfg.Logger.Debug("sweeper stopped: context cancelled")
			return
		case <-s.stopCh:
			s.cfg.Logger.Debug("sweeper stopped")
			return
		case <-ticker.C:
			s.runCycle()
		}
	}
}

// runCycle performs one sweep
func (s *Sweeper) runCycle() {
	released, err := s.issuer.Sweep(s.cfg.MaxAge)

	s.mu.Lock()
	s.stats.Cycles++
	s.stats.Released += uint64(released)
	if err != nil {
		s.stats.Failures++
	}
	s.mu.Unlock()

	if err != nil {
		s.cfg.Logger.Warn("ephemeral sweep incomplete: %v", err)
	}
}

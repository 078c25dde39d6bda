package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/systmms/cookieguard/internal/logging"
)

// DefaultCron checks for due rotations hourly
const DefaultCron = "0 * * * *"

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron validates a five-field cron expression or descriptor such as @daily
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// NextRun returns the first activation of expr after from
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := ParseCron(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// Scheduler runs RotateIfDue on a cron schedule
type Scheduler struct {
	orchestrator *Orchestrator
	cron         *cron.Cron
	logger       *logging.Logger

	mu      sync.Mutex
	ctx     context.Context
	started bool
	entry   cron.EntryID
	expr    string
	runs    int
}

// NewScheduler creates a scheduler for o
func NewScheduler(o *Orchestrator, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Scheduler{
		orchestrator: o,
		cron:         cron.New(cron.WithParser(cronParser)),
		logger:       logger.Named("scheduler"),
	}
}

// Start registers expr and starts the cron loop. Scheduled runs use ctx.
func (s *Scheduler) Start(ctx context.Context, expr string) error {
	if expr == "" {
		expr = DefaultCron
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	if _, err := ParseCron(expr); err != nil {
		return err
	}
	entry, err := s.cron.AddFunc(expr, s.RunNow)
	if err != nil {
		return err
	}

	s.entry = entry
	s.ctx = ctx
	s.expr = expr
	s.started = true
	s.cron.Start()
	s.logger.Info("rotation schedule started (%s)", expr)
	return nil
}

// Stop stops the cron loop, drops the registered schedule and waits for a running job,
// bounded by ctx. The scheduler can be started again afterwards.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	entry := s.entry
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cron.Remove(entry)
	select {
	case <-done.Done():
		s.logger.Debug("rotation schedule stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop interrupted: %w", ctx.Err())
	}
}

// RunNow evaluates the schedule once
func (s *Scheduler) RunNow() {
	s.mu.Lock()
	ctx := s.ctx
	s.runs++
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	res, err := s.orchestrator.RotateIfDue(ctx, Options{Trigger: TriggerScheduled, Notify: true, InitiatedBy: "scheduler"})
	switch {
	case errors.Is(err, ErrInProgress):
		s.logger.Debug("skipping scheduled check, rotation in progress")
	case err != nil:
		s.logger.Error("scheduled rotation failed: %v", err)
	case res.NotDue:
		s.logger.Debug("scheduled check: rotation not due")
	case res.Warning != "":
		s.logger.Warn("scheduled rotation: %s", res.Warning)
	}
}

// Runs returns how many times the schedule fired
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Next returns the next activation time, or zero when not started
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

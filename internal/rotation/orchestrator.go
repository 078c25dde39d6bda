// Package rotation promotes the backup credential bundle to active, archiving the superseded
// bundle and keeping rotation bookkeeping in the store metadata.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/logging"
	"github.com/systmms/cookieguard/internal/metrics"
	"github.com/systmms/cookieguard/internal/rotation/history"
	"github.com/systmms/cookieguard/internal/rotation/notifications"
	"github.com/systmms/cookieguard/internal/store"
)

const (
	// DefaultInterval is the scheduled rotation interval
	DefaultInterval = 7 * 24 * time.Hour
	// DefaultRetention is the number of archives kept after a rotation
	DefaultRetention = 10
)

// Triggers
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerEmergency = "emergency"
	TriggerFallback  = "fallback"
)

// ErrInProgress is returned when another rotation holds the orchestrator
var ErrInProgress = errors.New("rotation already in progress")

// WarningNoBackup is the Result warning when there is nothing to promote
const WarningNoBackup = "no backup credentials available, rotation skipped"

// Store is the part of the credential store the orchestrator needs
type Store interface {
	Get(ctx context.Context, slot credential.Slot) ([]byte, error)
	Copy(ctx context.Context, src, dst credential.Slot) error
	Delete(ctx context.Context, slot credential.Slot) error
	Exists(ctx context.Context, slot credential.Slot) (bool, error)
	List(ctx context.Context, slotPrefix string) ([]store.Entry, error)
	LoadMetadata(ctx context.Context) (*credential.Metadata, error)
	SaveMetadata(ctx context.Context, meta *credential.Metadata) error
}

// Notifier receives operator events
type Notifier interface {
	Send(event notifications.Event)
	Deliver(ctx context.Context, event notifications.Event) error
}

// InspectFunc summarizes the encrypted bundle of a slot for metadata
type InspectFunc func(ctx context.Context, slot credential.Slot, ciphertext []byte) (*credential.ExpirySummary, error)

// Config holds rotation tunables
type Config struct {
	Interval  time.Duration
	Retention int
}

// Options controls a single rotation
type Options struct {
	DryRun      bool
	Notify      bool
	Reason      string
	InitiatedBy string
	Trigger     string
}

// Result describes what a rotation did
type Result struct {
	ID            string               `json:"id,omitempty"`
	Trigger       string               `json:"trigger"`
	Rotated       bool                 `json:"rotated"`
	DryRun        bool                 `json:"dry_run,omitempty"`
	NotDue        bool                 `json:"not_due,omitempty"`
	Resumed       bool                 `json:"resumed,omitempty"`
	Warning       string               `json:"warning,omitempty"`
	ArchiveSlot   credential.Slot      `json:"archive_slot,omitempty"`
	SnapshotSlot  credential.Slot      `json:"snapshot_slot,omitempty"`
	Pruned        []credential.Slot    `json:"pruned,omitempty"`
	RotationCount int                  `json:"rotation_count"`
	NextDue       *time.Time           `json:"next_due,omitempty"`
	Steps         []history.StepResult `json:"steps,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	Duration      time.Duration        `json:"duration"`
}

// Orchestrator runs rotations. One rotation runs at a time per orchestrator.
type Orchestrator struct {
	store     Store
	interval  time.Duration
	retention int

	logger     *logging.Logger
	metrics    *metrics.Recorder
	notifier   Notifier
	history    history.Storage
	checkpoint sync.Locker
	inspect    InspectFunc
	onRotated  func(ctx context.Context, res *Result)
	now        func() time.Time

	running sync.Mutex
	state   *StateInfo
}

// Option configures optional Orchestrator dependencies
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.Named("rotation") }
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithNotifier sets the operator notifier
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithHistory sets the audit history storage
func WithHistory(h history.Storage) Option {
	return func(o *Orchestrator) { o.history = h }
}

// WithCheckpoint sets the lock consumers hold while reading active. Promotion takes it
// exclusively so in-flight reads finish first.
func WithCheckpoint(l sync.Locker) Option {
	return func(o *Orchestrator) { o.checkpoint = l }
}

// WithInspector sets the function used to refresh expiry summaries
func WithInspector(fn InspectFunc) Option {
	return func(o *Orchestrator) { o.inspect = fn }
}

// WithOnRotated sets a hook called after every successful rotation
func WithOnRotated(fn func(ctx context.Context, res *Result)) Option {
	return func(o *Orchestrator) { o.onRotated = fn }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// New creates an orchestrator over st
func New(st Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	o := &Orchestrator{
		store:      st,
		interval:   cfg.Interval,
		retention:  cfg.Retention,
		logger:     logging.Discard(),
		metrics:    metrics.New(),
		history:    history.Nop{},
		checkpoint: nopLocker{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = NewStateInfo(o.now)
	return o
}

// State returns the state machine, for status reporting
func (o *Orchestrator) State() *StateInfo {
	return o.state
}

// Interval returns the scheduled rotation interval
func (o *Orchestrator) Interval() time.Duration {
	return o.interval
}

// Rotate promotes backup to active
func (o *Orchestrator) Rotate(ctx context.Context, opts Options) (*Result, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerManual
	}
	if !o.running.TryLock() {
		return nil, ErrInProgress
	}
	defer o.running.Unlock()

	return o.rotate(ctx, opts, "")
}

// RotateIfDue rotates when the metadata says a scheduled rotation is due
func (o *Orchestrator) RotateIfDue(ctx context.Context, opts Options) (*Result, error) {
	if opts.Trigger == "" {
		opts.Trigger = TriggerScheduled
	}
	if !o.running.TryLock() {
		return nil, ErrInProgress
	}
	defer o.running.Unlock()

	meta, err := o.store.LoadMetadata(ctx)
	if err != nil {
		return nil, err
	}
	now := o.now()
	if !meta.RotationDue(now, o.interval) {
		o.logger.Debug("rotation not due until %s", nextDue(meta, o.interval).Format(time.RFC3339))
		return &Result{Trigger: opts.Trigger, NotDue: true, StartedAt: now, NextDue: nextDue(meta, o.interval)}, nil
	}
	return o.rotate(ctx, opts, "")
}

// EmergencyRotate snapshots the current active bundle and rotates without a due check.
// Operators are notified whatever the outcome.
func (o *Orchestrator) EmergencyRotate(ctx context.Context, reason, initiatedBy string) (*Result, error) {
	opts := Options{
		Notify:      true,
		Reason:      reason,
		InitiatedBy: initiatedBy,
		Trigger:     TriggerEmergency,
	}
	if !o.running.TryLock() {
		return nil, ErrInProgress
	}
	defer o.running.Unlock()

	snapshot := credential.BackupsSlot(o.now(), "emergency")
	exists, err := o.store.Exists(ctx, credential.SlotActive)
	if err == nil && exists {
		if err = o.store.Copy(ctx, credential.SlotActive, snapshot); err == nil {
			o.logger.Info("snapshot of active saved to %s", snapshot)
		}
	}
	if err != nil {
		res := &Result{ID: uuid.NewString(), Trigger: opts.Trigger, StartedAt: o.now()}
		err = fmt.Errorf("emergency snapshot: %w", err)
		o.finishFailed(ctx, res, opts, StateIdle, err)
		return res, err
	}
	if !exists {
		snapshot = ""
	}

	return o.rotate(ctx, opts, snapshot)
}

func (o *Orchestrator) rotate(ctx context.Context, opts Options, snapshot credential.Slot) (*Result, error) {
	start := o.now()
	res := &Result{Trigger: opts.Trigger, StartedAt: start, SnapshotSlot: snapshot, DryRun: opts.DryRun}

	// a failed machine retries through idle, an emergency goes straight to backup_check
	if o.state.Current() == StateFailed && opts.Trigger != TriggerEmergency {
		_ = o.state.TransitionTo(StateIdle, "retry", nil)
	}
	if err := o.state.TransitionTo(StateBackupCheck, opts.Trigger, nil); err != nil {
		return nil, err
	}
	o.metrics.RecordRotationStarted(opts.Trigger)

	meta, err := o.store.LoadMetadata(ctx)
	if err != nil {
		o.finishFailed(ctx, res, opts, StateBackupCheck, err)
		return res, err
	}

	var hasBackup bool
	err = o.step(res, "backup_check", func() error {
		var err error
		hasBackup, err = o.store.Exists(ctx, credential.SlotBackup)
		return err
	})
	if err != nil {
		o.finishFailed(ctx, res, opts, StateBackupCheck, err)
		return res, err
	}
	if !hasBackup {
		res.Warning = WarningNoBackup
		_ = o.state.TransitionTo(StateIdle, "no backup", nil)
		o.finish(ctx, res, opts, history.StatusSkipped, notifications.EventTypeSkipped, notifications.StatusWarning, nil)
		o.logger.Warn("%s", WarningNoBackup)
		return res, nil
	}

	pending := meta.PendingRotation
	if pending != nil {
		res.Resumed = true
		o.logger.Info("resuming rotation %s (archived=%t promoted=%t)", pending.ID, pending.Archived, pending.Promoted)
	} else {
		pending = &credential.PendingRotation{
			ID:          uuid.NewString(),
			ArchiveSlot: credential.ArchiveSlot(start),
			StartedAt:   start.UTC(),
		}
	}
	res.ID = pending.ID
	res.ArchiveSlot = pending.ArchiveSlot

	if opts.DryRun {
		_ = o.state.TransitionTo(StateIdle, "dry run", nil)
		o.logger.Info("dry run: would archive active to %s and promote backup", pending.ArchiveSlot)
		o.finish(ctx, res, opts, history.StatusDryRun, "", "", nil)
		return res, nil
	}

	if opts.Notify && o.notifier != nil {
		o.notifier.Send(o.event(res, opts, notifications.EventTypeStarted, "", nil))
	}

	if !res.Resumed {
		meta.PendingRotation = pending
		if err := o.store.SaveMetadata(ctx, meta); err != nil {
			o.finishFailed(ctx, res, opts, StateBackupCheck, err)
			return res, err
		}
	}

	// archiving
	_ = o.state.TransitionTo(StateArchiving, "", nil)
	if pending.Archived {
		o.skipStep(res, "archiving")
	} else {
		err = o.step(res, "archiving", func() error {
			exists, err := o.store.Exists(ctx, credential.SlotActive)
			if err != nil {
				return err
			}
			if !exists {
				o.logger.Warn("no active credentials to archive, continuing")
				res.ArchiveSlot = ""
				return nil
			}
			return o.store.Copy(ctx, credential.SlotActive, pending.ArchiveSlot)
		})
		if err != nil {
			o.finishFailed(ctx, res, opts, StateArchiving, err)
			return res, err
		}
		pending.Archived = true
		if res.ArchiveSlot == "" {
			pending.ArchiveSlot = ""
		}
		if err := o.savePending(ctx, meta, pending); err != nil {
			o.finishFailed(ctx, res, opts, StateArchiving, err)
			return res, err
		}
	}

	// promoting
	_ = o.state.TransitionTo(StatePromoting, "", nil)
	if pending.Promoted {
		o.skipStep(res, "promoting")
	} else {
		err = o.step(res, "promoting", func() error {
			o.checkpoint.Lock()
			defer o.checkpoint.Unlock()
			return o.store.Copy(ctx, credential.SlotBackup, credential.SlotActive)
		})
		if err != nil {
			o.finishFailed(ctx, res, opts, StatePromoting, err)
			return res, err
		}
		pending.Promoted = true
		if err := o.savePending(ctx, meta, pending); err != nil {
			o.finishFailed(ctx, res, opts, StatePromoting, err)
			return res, err
		}
	}

	// metadata update
	_ = o.state.TransitionTo(StateMetadataUpdate, "", nil)
	err = o.step(res, "metadata_update", func() error {
		return o.updateMetadata(ctx, meta)
	})
	if err != nil {
		o.finishFailed(ctx, res, opts, StateMetadataUpdate, err)
		return res, err
	}
	res.Rotated = true
	res.RotationCount = meta.RotationCount
	res.NextDue = meta.NextRotationDue
	_ = o.state.TransitionTo(StateIdle, "rotated", nil)

	res.Pruned = o.prune(ctx)

	if o.onRotated != nil {
		o.onRotated(ctx, res)
	}
	o.finish(ctx, res, opts, history.StatusSuccess, notifications.EventTypeCompleted, notifications.StatusSuccess, nil)
	o.logger.Info("rotation %s complete (count=%d)", res.ID, res.RotationCount)
	return res, nil
}

func (o *Orchestrator) savePending(ctx context.Context, meta *credential.Metadata, pending *credential.PendingRotation) error {
	meta.PendingRotation = pending
	return o.store.SaveMetadata(ctx, meta)
}

func (o *Orchestrator) updateMetadata(ctx context.Context, meta *credential.Metadata) error {
	now := o.now().UTC()
	next := now.Add(o.interval)
	meta.RotationCount++
	meta.LastRotationAt = &now
	meta.NextRotationDue = &next
	meta.PendingRotation = nil

	for _, slot := range []credential.Slot{credential.SlotActive, credential.SlotBackup} {
		data, err := o.store.Get(ctx, slot)
		if err != nil {
			if credential.IsNotFound(err) {
				meta.SetChecksum(slot, "")
				meta.SetSummary(slot, nil)
				continue
			}
			return err
		}
		meta.SetChecksum(slot, credential.Checksum(data))
		if o.inspect != nil {
			summary, err := o.inspect(ctx, slot, data)
			if err != nil {
				o.logger.Warn("could not summarize %s after rotation: %v", slot, err)
				continue
			}
			meta.SetSummary(slot, summary)
		}
	}

	return o.store.SaveMetadata(ctx, meta)
}

// prune deletes the oldest archives beyond the retention count. Failures are logged only.
func (o *Orchestrator) prune(ctx context.Context) []credential.Slot {
	entries, err := o.store.List(ctx, credential.ArchivePrefix())
	if err != nil {
		o.logger.Warn("could not list archives for pruning: %v", err)
		return nil
	}
	if len(entries) <= o.retention {
		return nil
	}

	var pruned []credential.Slot
	// entries are sorted oldest first
	for _, e := range entries[:len(entries)-o.retention] {
		if err := o.store.Delete(ctx, e.Slot); err != nil {
			o.logger.Warn("could not prune %s: %v", e.Slot, err)
			continue
		}
		pruned = append(pruned, e.Slot)
	}
	if len(pruned) > 0 {
		o.logger.Debug("pruned %d archives", len(pruned))
	}
	return pruned
}

func (o *Orchestrator) step(res *Result, name string, fn func() error) error {
	started := o.now()
	err := fn()
	sr := history.StepResult{
		Name:        name,
		Status:      history.StatusSuccess,
		StartedAt:   started,
		CompletedAt: o.now(),
	}
	sr.Duration = sr.CompletedAt.Sub(started)
	if err != nil {
		sr.Status = history.StatusFailed
		sr.Error = err.Error()
	}
	res.Steps = append(res.Steps, sr)
	return err
}

func (o *Orchestrator) skipStep(res *Result, name string) {
	now := o.now()
	res.Steps = append(res.Steps, history.StepResult{Name: name, Status: history.StatusSkipped, StartedAt: now, CompletedAt: now})
}

func (o *Orchestrator) finishFailed(ctx context.Context, res *Result, opts Options, at State, err error) {
	if at != StateFailed {
		_ = o.state.TransitionTo(StateFailed, string(at), err)
	}
	o.logger.Error("rotation failed during %s: %v", at, err)
	o.finish(ctx, res, opts, history.StatusFailed, notifications.EventTypeFailed, notifications.StatusFailure, err)
}

func (o *Orchestrator) finish(ctx context.Context, res *Result, opts Options, status string, eventType notifications.EventType, eventStatus notifications.Status, err error) {
	res.Duration = o.now().Sub(res.StartedAt)
	o.metrics.RecordRotationCompleted(opts.Trigger, status, res.Duration.Seconds())

	action := history.ActionRotate
	if opts.Trigger == TriggerEmergency {
		action = history.ActionEmergencyRotate
	}
	entry := &history.Entry{
		ID:          res.ID,
		Timestamp:   o.now().UTC(),
		Action:      action,
		Status:      status,
		Trigger:     opts.Trigger,
		InitiatedBy: opts.InitiatedBy,
		Reason:      opts.Reason,
		Slot:        string(credential.SlotActive),
		Source:      string(credential.SlotBackup),
		Duration:    res.Duration,
		Steps:       res.Steps,
		Metadata:    resultMetadata(res),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if res.Warning != "" && entry.Error == "" {
		entry.Error = res.Warning
	}
	if herr := o.history.Save(entry); herr != nil {
		o.logger.Warn("could not record rotation history: %v", herr)
	}

	if eventType == "" || o.notifier == nil || !opts.Notify {
		return
	}
	event := o.event(res, opts, eventType, eventStatus, err)
	if opts.Trigger == TriggerEmergency {
		if derr := o.notifier.Deliver(ctx, event); derr != nil {
			o.logger.Error("emergency notification delivery failed: %v", derr)
		}
		return
	}
	o.notifier.Send(event)
}

func (o *Orchestrator) event(res *Result, opts Options, t notifications.EventType, status notifications.Status, err error) notifications.Event {
	reason := opts.Reason
	if reason == "" {
		reason = res.Warning
	}
	return notifications.Event{
		Type:        t,
		Trigger:     opts.Trigger,
		Status:      status,
		Reason:      reason,
		Error:       err,
		Duration:    res.Duration,
		Metadata:    resultMetadata(res),
		Timestamp:   o.now().UTC(),
		RotationID:  res.ID,
		InitiatedBy: opts.InitiatedBy,
	}
}

func resultMetadata(res *Result) map[string]string {
	md := map[string]string{}
	if res.ArchiveSlot != "" {
		md["archive"] = string(res.ArchiveSlot)
	}
	if res.SnapshotSlot != "" {
		md["snapshot"] = string(res.SnapshotSlot)
	}
	if res.Resumed {
		md["resumed"] = "true"
	}
	if len(md) == 0 {
		return nil
	}
	return md
}

func nextDue(meta *credential.Metadata, interval time.Duration) *time.Time {
	if meta == nil {
		return nil
	}
	if meta.NextRotationDue != nil {
		return meta.NextRotationDue
	}
	if meta.LastRotationAt != nil {
		t := meta.LastRotationAt.Add(interval)
		return &t
	}
	return nil
}

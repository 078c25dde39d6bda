// Package history keeps an append-only audit trail of credential operations.
package history

import (
	"time"
)

// Actions recorded in history
const (
	ActionRotate          = "rotate"
	ActionEmergencyRotate = "emergency_rotate"
	ActionUpload          = "upload"
	ActionBackup          = "backup"
	ActionRestore         = "restore"
	ActionFallback        = "fallback"
	ActionCleanup         = "cleanup"
	ActionSchedule        = "schedule"
)

// Statuses recorded in history
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusDryRun  = "dry_run"
)

// Storage defines the interface for audit history storage
type Storage interface {
	// Save appends an entry
	Save(entry *Entry) error

	// List returns entries matching filter, newest first
	List(filter Filter) ([]Entry, error)

	// Cleanup removes entries older than the given duration and returns how many were removed
	Cleanup(olderThan time.Duration) (int, error)
}

// Filter narrows a List call
type Filter struct {
	Since  time.Time
	Action string
	Limit  int
}

// Entry is a single audited operation
type Entry struct {
	ID          string            `json:"id" yaml:"id"`
	Timestamp   time.Time         `json:"timestamp" yaml:"timestamp"`
	Action      string            `json:"action" yaml:"action"`
	Status      string            `json:"status" yaml:"status"`
	Trigger     string            `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	InitiatedBy string            `json:"initiated_by,omitempty" yaml:"initiated_by,omitempty"`
	Reason      string            `json:"reason,omitempty" yaml:"reason,omitempty"`
	Slot        string            `json:"slot,omitempty" yaml:"slot,omitempty"`
	Source      string            `json:"source,omitempty" yaml:"source,omitempty"`
	Duration    time.Duration     `json:"duration" yaml:"duration"`
	Error       string            `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Steps       []StepResult      `json:"steps,omitempty" yaml:"steps,omitempty"`
}

// StepResult represents the result of a single rotation step
type StepResult struct {
	Name        string        `json:"name" yaml:"name"`
	Status      string        `json:"status" yaml:"status"`
	StartedAt   time.Time     `json:"started_at" yaml:"started_at"`
	CompletedAt time.Time     `json:"completed_at" yaml:"completed_at"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Error       string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Nop discards entries. Used when history is disabled.
type Nop struct{}

// Save implements Storage
func (Nop) Save(*Entry) error { return nil }

// List implements Storage
func (Nop) List(Filter) ([]Entry, error) { return nil, nil }

// Cleanup implements Storage
func (Nop) Cleanup(time.Duration) (int, error) { return 0, nil }

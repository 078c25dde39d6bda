package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/rotation"
	"github.com/systmms/cookieguard/internal/rotation/history"
	"github.com/systmms/cookieguard/internal/validation"
)

// UploadResult describes an upload
type UploadResult struct {
	Slot       credential.Slot    `json:"slot" yaml:"slot"`
	DryRun     bool               `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Checksum   string             `json:"checksum,omitempty" yaml:"checksum,omitempty"`
	Validation *validation.Result `json:"validation" yaml:"validation"`
}

// Upload validates a plaintext bundle, encrypts it and stores it in slot (active or backup).
// The metadata checksum and summary, the integrity record and the cache follow the new content.
func (m *Manager) Upload(ctx context.Context, slot credential.Slot, data []byte, dryRun bool) (*UploadResult, error) {
	if slot != credential.SlotActive && slot != credential.SlotBackup {
		return nil, credential.NewError(credential.KindValidation, "upload", slot,
			fmt.Errorf("uploads go to %s or %s", credential.SlotActive, credential.SlotBackup))
	}

	res, err := m.validator.Check(data, credential.FormatAuto)
	out := &UploadResult{Slot: slot, DryRun: dryRun, Validation: res}
	if err != nil {
		return out, withSlot(err, slot)
	}
	for _, w := range res.Warnings {
		m.logger.Warn("%s: %s", slot, w)
	}
	if dryRun {
		m.logger.Info("Dry run: %s bundle with %d records would be stored in %s", res.Format, res.RecordCount, slot)
		return out, nil
	}

	ciphertext, err := m.engine.Encrypt(data)
	if err != nil {
		return out, credential.NewError(credential.KindUpload, "encrypt", slot, err)
	}
	sum := credential.Checksum(ciphertext)

	if slot == credential.SlotActive {
		m.checkpoint.Lock()
		defer m.checkpoint.Unlock()
	}
	if err := m.store.Put(ctx, slot, ciphertext); err != nil {
		m.saveHistory(&history.Entry{Action: history.ActionUpload, Status: history.StatusFailed, Slot: string(slot), Error: err.Error()})
		return out, err
	}

	meta, err := m.store.LoadMetadata(ctx)
	if err != nil {
		return out, err
	}
	meta.SetChecksum(slot, sum)
	meta.SetSummary(slot, res.Summary(m.now()))
	if err := m.store.SaveMetadata(ctx, meta); err != nil {
		return out, err
	}

	m.integrity.Set(slot, sum)
	m.cache.Invalidate(slot)
	out.Checksum = sum

	m.logger.Info("Stored %d records in %s", res.RecordCount, slot)
	m.saveHistory(&history.Entry{
		Action:   history.ActionUpload,
		Status:   history.StatusSuccess,
		Slot:     string(slot),
		Metadata: map[string]string{"records": fmt.Sprint(res.RecordCount), "format": string(res.Format)},
	})
	return out, nil
}

// Inspect downloads, decrypts and validates a slot without touching the cache or the
// integrity records. Download and decrypt failures are errors; validation findings are in
// the result.
func (m *Manager) Inspect(ctx context.Context, slot credential.Slot) (*validation.Result, error) {
	ciphertext, err := m.store.Get(ctx, slot)
	if err != nil {
		return nil, err
	}
	plaintext, err := m.engine.Decrypt(ciphertext)
	if err != nil {
		return nil, withSlot(err, slot)
	}
	defer wipe(plaintext)
	return m.validator.Validate(plaintext, credential.FormatAuto), nil
}

// SlotReport is the expiry status of one slot
type SlotReport struct {
	Slot         credential.Slot    `json:"slot" yaml:"slot"`
	Status       string             `json:"status" yaml:"status"`
	Result       *validation.Result `json:"result,omitempty" yaml:"result,omitempty"`
	Error        string             `json:"error,omitempty" yaml:"error,omitempty"`
	ExpiresIn    *time.Duration     `json:"expires_in,omitempty" yaml:"expires_in,omitempty"`
	ExpiringSoon bool               `json:"expiring_soon" yaml:"expiring_soon"`
}

// Expiry statuses
const (
	ExpiryOK      = "ok"
	ExpiryWarning = "expiring"
	ExpiryExpired = "expired"
	ExpiryInvalid = "invalid"
	ExpiryMissing = "missing"
	ExpiryError   = "error"
)

// ExpiryReport is the result of CheckExpiration
type ExpiryReport struct {
	CheckedAt  time.Time     `json:"checked_at" yaml:"checked_at"`
	WarnWithin time.Duration `json:"warn_within" yaml:"warn_within"`
	Slots      []SlotReport  `json:"slots" yaml:"slots"`
}

// HasIssues reports whether active is not fully usable or backup is unusable
func (r *ExpiryReport) HasIssues() bool {
	for _, s := range r.Slots {
		switch s.Status {
		case ExpiryOK:
		case ExpiryMissing:
			if s.Slot == credential.SlotActive {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// CheckExpiration reports the expiry status of active and backup. Records expiring within
// warn mark a slot as expiring.
func (m *Manager) CheckExpiration(ctx context.Context, warn time.Duration) (*ExpiryReport, error) {
	now := m.now()
	report := &ExpiryReport{CheckedAt: now.UTC(), WarnWithin: warn}

	for _, slot := range []credential.Slot{credential.SlotActive, credential.SlotBackup} {
		sr := SlotReport{Slot: slot}
		res, err := m.Inspect(ctx, slot)
		switch {
		case credential.IsNotFound(err):
			sr.Status = ExpiryMissing
		case err != nil:
			sr.Status = ExpiryError
			sr.Error = err.Error()
		case !res.Valid:
			sr.Status = ExpiryInvalid
			sr.Result = res
		case res.Expired:
			sr.Status = ExpiryExpired
			sr.Result = res
		default:
			sr.Result = res
			sr.Status = ExpiryOK
			if res.EarliestExpiry != nil {
				d := res.EarliestExpiry.Sub(now).Round(time.Minute)
				sr.ExpiresIn = &d
			}
			if res.ExpiresWithin(now, warn) {
				sr.Status = ExpiryWarning
				sr.ExpiringSoon = true
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		report.Slots = append(report.Slots, sr)
	}
	return report, nil
}

// Backup snapshots source (active when empty) to a new backups/ slot
func (m *Manager) Backup(ctx context.Context, source credential.Slot, initiatedBy string) (credential.Slot, error) {
	if source == "" {
		source = credential.SlotActive
	}
	if err := source.Validate(); err != nil {
		return "", credential.NewError(credential.KindValidation, "backup", source, err)
	}
	dst := credential.BackupsSlot(m.now(), "manual")

	err := m.store.Copy(ctx, source, dst)
	entry := &history.Entry{
		Action:      history.ActionBackup,
		Status:      history.StatusSuccess,
		InitiatedBy: initiatedBy,
		Slot:        string(dst),
		Source:      string(source),
	}
	if err != nil {
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
		m.saveHistory(entry)
		return "", err
	}
	m.saveHistory(entry)
	m.logger.Info("Backed up %s to %s", source, dst)
	return dst, nil
}

// RestoreResult describes a restore
type RestoreResult struct {
	From     credential.Slot    `json:"from" yaml:"from"`
	To       credential.Slot    `json:"to" yaml:"to"`
	Snapshot credential.Slot    `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
	Result   *validation.Result `json:"validation,omitempty" yaml:"validation,omitempty"`
}

// Restore copies an archived or backed-up bundle over active. The current active is first
// snapshotted to backups/pre-restore-<ts>. The source must decrypt and validate.
func (m *Manager) Restore(ctx context.Context, from credential.Slot, initiatedBy string) (*RestoreResult, error) {
	if err := from.Validate(); err != nil || from == credential.SlotActive {
		return nil, credential.NewError(credential.KindValidation, "restore", from,
			errors.New("restore source must be backup, archive/<ts> or backups/<ts>"))
	}

	res, err := m.Inspect(ctx, from)
	if err != nil {
		return nil, err
	}
	out := &RestoreResult{From: from, To: credential.SlotActive, Result: res}
	if !res.Valid {
		return out, credential.NewError(credential.KindValidation, "restore", from, fmt.Errorf("%v", res.Issues))
	}
	if res.Expired {
		return out, credential.NewError(credential.KindExpired, "restore", from, errors.New("every record is expired"))
	}

	entry := &history.Entry{
		Action:      history.ActionRestore,
		Status:      history.StatusSuccess,
		InitiatedBy: initiatedBy,
		Slot:        string(credential.SlotActive),
		Source:      string(from),
	}
	fail := func(err error) (*RestoreResult, error) {
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
		m.saveHistory(entry)
		return out, err
	}

	exists, err := m.store.Exists(ctx, credential.SlotActive)
	if err != nil {
		return fail(err)
	}
	if exists {
		snap := credential.BackupsSlot(m.now(), "pre-restore")
		if err := m.store.Copy(ctx, credential.SlotActive, snap); err != nil {
			return fail(err)
		}
		out.Snapshot = snap
	}

	ciphertext, err := m.store.Get(ctx, from)
	if err != nil {
		return fail(err)
	}

	m.checkpoint.Lock()
	err = m.store.Copy(ctx, from, credential.SlotActive)
	m.checkpoint.Unlock()
	if err != nil {
		return fail(err)
	}

	sum := credential.Checksum(ciphertext)
	meta, err := m.store.LoadMetadata(ctx)
	if err != nil {
		return fail(err)
	}
	meta.SetChecksum(credential.SlotActive, sum)
	meta.SetSummary(credential.SlotActive, res.Summary(m.now()))
	if err := m.store.SaveMetadata(ctx, meta); err != nil {
		return fail(err)
	}
	m.integrity.Set(credential.SlotActive, sum)
	m.cache.Invalidate(credential.SlotActive)

	m.saveHistory(entry)
	m.logger.Info("Restored %s to %s", from, credential.SlotActive)
	return out, nil
}

// CleanupResult describes a cleanup
type CleanupResult struct {
	Deleted           []credential.Slot `json:"deleted" yaml:"deleted"`
	Kept              int               `json:"kept" yaml:"kept"`
	HistoryRemoved    int               `json:"history_removed" yaml:"history_removed"`
	EphemeralReleased int               `json:"ephemeral_released" yaml:"ephemeral_released"`
	DryRun            bool              `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// Cleanup deletes archive and backups slots older than olderThan, removes history entries of
// the same age and releases stale ephemeral files. The newest retention archives are always kept.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration, dryRun bool) (*CleanupResult, error) {
	cutoff := m.now().Add(-olderThan)
	out := &CleanupResult{DryRun: dryRun}

	var errs []error
	for _, prefix := range []string{credential.ArchivePrefix(), credential.BackupsPrefix()} {
		entries, err := m.store.List(ctx, prefix)
		if err != nil {
			return nil, err
		}
		protected := 0
		if prefix == credential.ArchivePrefix() {
			protected = m.cfg.BackupRetention
		}
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			ts, err := e.Slot.Timestamp()
			if err != nil {
				ts = e.LastModified
			}
			if protected > 0 {
				protected--
				out.Kept++
				continue
			}
			if !ts.Before(cutoff) {
				out.Kept++
				continue
			}
			if dryRun {
				out.Deleted = append(out.Deleted, e.Slot)
				continue
			}
			if err := m.store.Delete(ctx, e.Slot); err != nil {
				errs = append(errs, err)
				continue
			}
			out.Deleted = append(out.Deleted, e.Slot)
		}
	}

	if !dryRun {
		n, err := m.history.Cleanup(olderThan)
		if err != nil {
			errs = append(errs, fmt.Errorf("history cleanup: %w", err))
		}
		out.HistoryRemoved = n

		released, err := m.issuer.Sweep(m.cfg.EphemeralMaxAge)
		if err != nil {
			errs = append(errs, fmt.Errorf("ephemeral sweep: %w", err))
		}
		out.EphemeralReleased = released

		status := history.StatusSuccess
		if len(errs) > 0 {
			status = history.StatusFailed
		}
		m.saveHistory(&history.Entry{
			Action: history.ActionCleanup,
			Status: status,
			Metadata: map[string]string{
				"deleted":    fmt.Sprint(len(out.Deleted)),
				"older_than": olderThan.String(),
			},
		})
	}
	return out, errors.Join(errs...)
}

// SetSchedule validates and stores the rotation cron schedule in metadata
func (m *Manager) SetSchedule(ctx context.Context, expr string, enabled bool) (*credential.Schedule, error) {
	meta, err := m.store.LoadMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if expr == "" && meta.Schedule != nil {
		expr = meta.Schedule.Cron
	}
	if expr == "" {
		expr = rotation.DefaultCron
	}
	if _, err := rotation.ParseCron(expr); err != nil {
		return nil, credential.NewError(credential.KindValidation, "schedule", "", err)
	}

	meta.Schedule = &credential.Schedule{Cron: expr, Enabled: enabled, UpdatedAt: m.now().UTC()}
	if err := m.store.SaveMetadata(ctx, meta); err != nil {
		return nil, err
	}
	m.saveHistory(&history.Entry{
		Action:   history.ActionSchedule,
		Status:   history.StatusSuccess,
		Metadata: map[string]string{"cron": expr, "enabled": fmt.Sprint(enabled)},
	})
	return meta.Schedule, nil
}

// Schedule returns the stored schedule, or the default hourly due check when none is stored
func (m *Manager) Schedule(ctx context.Context) (*credential.Schedule, error) {
	meta, err := m.store.LoadMetadata(ctx)
	if err != nil {
		return nil, err
	}
	if meta.Schedule == nil {
		return &credential.Schedule{Cron: rotation.DefaultCron, Enabled: true}, nil
	}
	return meta.Schedule, nil
}

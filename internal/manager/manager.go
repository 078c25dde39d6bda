// Package manager composes the credential store, encryption, validation, rate limiting,
// rotation and ephemeral file issuance into the service consumers acquire credentials from.
package manager

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/systmms/cookieguard/internal/cache"
	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/encryption"
	"github.com/systmms/cookieguard/internal/ephemeral"
	"github.com/systmms/cookieguard/internal/logging"
	"github.com/systmms/cookieguard/internal/metrics"
	"github.com/systmms/cookieguard/internal/ratelimit"
	"github.com/systmms/cookieguard/internal/rotation"
	"github.com/systmms/cookieguard/internal/rotation/history"
	"github.com/systmms/cookieguard/internal/rotation/notifications"
	"github.com/systmms/cookieguard/internal/store"
	"github.com/systmms/cookieguard/internal/validation"
)

// Config holds the manager tunables
type Config struct {
	CacheTTL          time.Duration
	ValidationEnabled bool
	TargetDomains     []string

	RateLimitWindow time.Duration
	RateLimitMax    int

	RotationInterval time.Duration
	BackupRetention  int
	RotateOnFailure  bool

	EphemeralMaxAge time.Duration
	SweepInterval   time.Duration
}

// Deps are the collaborators the manager is built from. Store, Engine and Issuer are required.
type Deps struct {
	Store         *store.Store
	Engine        *encryption.Engine
	Issuer        *ephemeral.Issuer
	Logger        *logging.Logger
	Metrics       *metrics.Recorder
	History       history.Storage
	Notifications *notifications.Manager
	Identity      IdentityChecker
	Clock         func() time.Time
}

// Lease is an ephemeral credential file handed to a consumer. Release must be called once the
// consumer is done; it is safe to call more than once.
type Lease struct {
	Path     string
	Slot     credential.Slot
	Fallback bool

	once    sync.Once
	release func() error
	err     error
}

// Release shreds the credential file
func (l *Lease) Release() error {
	l.once.Do(func() { l.err = l.release() })
	return l.err
}

// Manager is the credential manager service
type Manager struct {
	cfg Config

	store     *store.Store
	engine    *encryption.Engine
	issuer    *ephemeral.Issuer
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	validator *validation.Validator
	integrity *validation.IntegrityTracker
	orch      *rotation.Orchestrator
	sweeper   *ephemeral.Sweeper

	logger   *logging.Logger
	metrics  *metrics.Recorder
	history  history.Storage
	notifier *notifications.Manager
	identity IdentityChecker
	now      func() time.Time

	// checkpoint is held for reading while a slot is loaded and issued; promotion and
	// restore take it exclusively
	checkpoint sync.RWMutex

	closeOnce sync.Once
	closeErr  error
}

// New wires a manager from explicit dependencies
func New(cfg Config, deps Deps) (*Manager, error) {
	if deps.Store == nil {
		return nil, errors.New("manager: store is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("manager: encryption engine is required")
	}
	if deps.Issuer == nil {
		return nil, errors.New("manager: ephemeral issuer is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.History == nil {
		deps.History = history.Nop{}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if len(cfg.TargetDomains) == 0 {
		cfg.TargetDomains = validation.DefaultTargetDomains
	}

	m := &Manager{
		cfg:       cfg,
		store:     deps.Store,
		engine:    deps.Engine,
		issuer:    deps.Issuer,
		integrity: validation.NewIntegrityTracker(),
		logger:    deps.Logger.Named("manager"),
		metrics:   deps.Metrics,
		history:   deps.History,
		notifier:  deps.Notifications,
		identity:  deps.Identity,
		now:       deps.Clock,
	}

	m.limiter = ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax, ratelimit.WithClock(deps.Clock))
	m.validator = validation.New(cfg.TargetDomains,
		validation.WithClock(deps.Clock),
		validation.WithLogger(deps.Logger))
	m.cache = cache.New(deps.Store, deps.Engine, cfg.CacheTTL,
		cache.WithVerifier(m.verifyIntegrity),
		cache.WithClock(deps.Clock),
		cache.WithMetrics(deps.Metrics))

	orchOpts := []rotation.Option{
		rotation.WithLogger(deps.Logger),
		rotation.WithMetrics(deps.Metrics),
		rotation.WithHistory(deps.History),
		rotation.WithCheckpoint(&m.checkpoint),
		rotation.WithInspector(m.inspectCiphertext),
		rotation.WithOnRotated(m.onRotated),
		rotation.WithClock(deps.Clock),
	}
	if deps.Notifications != nil {
		orchOpts = append(orchOpts, rotation.WithNotifier(deps.Notifications))
	}
	m.orch = rotation.New(deps.Store, rotation.Config{
		Interval:  cfg.RotationInterval,
		Retention: cfg.BackupRetention,
	}, orchOpts...)

	m.sweeper = ephemeral.NewSweeper(deps.Issuer, ephemeral.SweeperConfig{
		Interval: cfg.SweepInterval,
		MaxAge:   cfg.EphemeralMaxAge,
		Logger:   deps.Logger,
	})
	return m, nil
}

// Orchestrator returns the rotation orchestrator
func (m *Manager) Orchestrator() *rotation.Orchestrator { return m.orch }

// History returns the audit history storage
func (m *Manager) History() history.Storage { return m.history }

// Issuer returns the ephemeral file issuer
func (m *Manager) Issuer() *ephemeral.Issuer { return m.issuer }

// Limiter returns the acquisition rate limiter
func (m *Manager) Limiter() *ratelimit.Limiter { return m.limiter }

// Start launches background work: the notification worker and the ephemeral sweeper
func (m *Manager) Start(ctx context.Context) {
	if m.notifier != nil {
		m.notifier.Start(ctx)
	}
	m.sweeper.Start(ctx)
}

// Acquire issues the current credential bundle to callerID as an ephemeral file.
//
// The chain is active, then backup, then (when enabled) a due scheduled rotation followed by
// another try of active. Rate limiting and integrity failures stop the chain. When every
// source fails the manager is degraded and returns a KindUnavailable error.
func (m *Manager) Acquire(ctx context.Context, callerID string) (*Lease, error) {
	if callerID == "" {
		callerID = "anonymous"
	}
	if err := m.limiter.Check(callerID); err != nil {
		m.metrics.RecordRateLimited()
		m.metrics.RecordAcquisition("", "rate_limited")
		m.logger.Warn("Caller %s rate limited", callerID)
		return nil, err
	}

	lease, activeErr := m.issueFrom(ctx, credential.SlotActive, callerID)
	if activeErr == nil {
		m.metrics.RecordAcquisition(string(credential.SlotActive), "success")
		return lease, nil
	}
	m.metrics.RecordAcquisition(string(credential.SlotActive), string(kindLabel(activeErr)))
	if !credential.TriggersFallback(activeErr) {
		return nil, activeErr
	}

	m.recordFallback(credential.SlotActive, credential.SlotBackup, callerID, activeErr)
	lease, backupErr := m.issueFrom(ctx, credential.SlotBackup, callerID)
	if backupErr == nil {
		lease.Fallback = true
		m.metrics.RecordAcquisition(string(credential.SlotBackup), "success")
		return lease, nil
	}
	m.metrics.RecordAcquisition(string(credential.SlotBackup), string(kindLabel(backupErr)))
	if !credential.TriggersFallback(backupErr) {
		return nil, backupErr
	}

	errs := []error{activeErr, backupErr}
	if m.cfg.RotateOnFailure {
		lease, err := m.rotateAndRetry(ctx, callerID)
		if err == nil {
			return lease, nil
		}
		errs = append(errs, err)
	}

	return nil, m.degraded(callerID, errs)
}

// issueFrom loads slot and writes it to an ephemeral file while holding the consumer checkpoint
func (m *Manager) issueFrom(ctx context.Context, slot credential.Slot, callerID string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, credential.NewError(credential.KindDownload, "acquire", slot, err)
	}

	m.checkpoint.RLock()
	defer m.checkpoint.RUnlock()

	plaintext, err := m.cache.GetOrFetch(ctx, slot)
	if err != nil {
		return nil, err
	}
	defer wipe(plaintext)

	if m.cfg.ValidationEnabled {
		if _, err := m.validator.Check(plaintext, credential.FormatAuto); err != nil {
			// a bad bundle stays bad; drop it so a fixed upload is picked up
			m.cache.Invalidate(slot)
			return nil, withSlot(err, slot)
		}
	}

	f, err := m.issuer.Issue(plaintext, slot, callerID)
	if err != nil {
		return nil, credential.NewError(credential.KindUnavailable, "issue", slot, err)
	}
	m.logger.Debug("Issued %s to %s", slot, callerID)
	return &Lease{
		Path:    f.Path,
		Slot:    slot,
		release: func() error { return m.issuer.Release(f.Path) },
	}, nil
}

func (m *Manager) rotateAndRetry(ctx context.Context, callerID string) (*Lease, error) {
	res, err := m.orch.RotateIfDue(ctx, rotation.Options{
		Trigger:     rotation.TriggerFallback,
		Notify:      true,
		InitiatedBy: callerID,
		Reason:      "active and backup credentials unusable",
	})
	if err != nil {
		return nil, fmt.Errorf("fallback rotation: %w", err)
	}
	if !res.Rotated {
		if res.NotDue {
			return nil, errors.New("fallback rotation: not due")
		}
		return nil, fmt.Errorf("fallback rotation: %s", res.Warning)
	}

	m.recordFallback(credential.SlotBackup, credential.SlotActive, callerID, errors.New("retry after rotation"))
	lease, err := m.issueFrom(ctx, credential.SlotActive, callerID)
	if err != nil {
		m.metrics.RecordAcquisition(string(credential.SlotActive), string(kindLabel(err)))
		return nil, err
	}
	m.metrics.RecordAcquisition(string(credential.SlotActive), "success")
	lease.Fallback = true
	return lease, nil
}

func (m *Manager) recordFallback(from, to credential.Slot, callerID string, cause error) {
	reason := string(kindLabel(cause))
	m.logger.Warn("fallback from %s to %s for %s: %v", from, to, callerID, cause)
	m.metrics.RecordFallback(string(from), string(to), reason)

	m.saveHistory(&history.Entry{
		Action:      history.ActionFallback,
		Status:      history.StatusSuccess,
		Trigger:     rotation.TriggerFallback,
		InitiatedBy: callerID,
		Reason:      cause.Error(),
		Slot:        string(to),
		Source:      string(from),
	})
	m.notify(notifications.Event{
		Type:        notifications.EventTypeFallback,
		Trigger:     rotation.TriggerFallback,
		Status:      notifications.StatusWarning,
		Reason:      fmt.Sprintf("%s unusable (%s), using %s", from, reason, to),
		InitiatedBy: callerID,
		Metadata:    map[string]string{"from": string(from), "to": string(to)},
	})
}

// degraded reports that every source failed. The outcome is marked retryable when at least one
// source failed in a way that may clear without operator action.
func (m *Manager) degraded(callerID string, errs []error) error {
	cause := errors.Join(errs...)
	retryable := false
	for _, err := range errs {
		if credential.IsRetryable(err) {
			retryable = true
			break
		}
	}
	meta := map[string]string{"retryable": strconv.FormatBool(retryable)}

	m.logger.Error("No usable credentials for %s (retryable: %t): %v", callerID, retryable, cause)
	m.metrics.RecordAcquisition("", "unavailable")
	m.saveHistory(&history.Entry{
		Action:      history.ActionFallback,
		Status:      history.StatusFailed,
		Trigger:     rotation.TriggerFallback,
		InitiatedBy: callerID,
		Error:       cause.Error(),
		Metadata:    meta,
	})
	m.notify(notifications.Event{
		Type:        notifications.EventTypeFailed,
		Trigger:     rotation.TriggerFallback,
		Status:      notifications.StatusFailure,
		Reason:      "no usable credentials",
		InitiatedBy: callerID,
		Error:       cause,
		Metadata:    meta,
	})
	return credential.NewError(credential.KindUnavailable, "acquire", "", cause)
}

// verifyIntegrity checks downloaded ciphertext against the recorded digest. A mismatch is
// accepted only when the sealed store metadata already records the new digest, which is what
// an upload or rotation by another process leaves behind.
func (m *Manager) verifyIntegrity(ctx context.Context, slot credential.Slot, ciphertext []byte) error {
	err := m.integrity.Verify(slot, ciphertext)
	if err == nil {
		return nil
	}
	sum := credential.Checksum(ciphertext)
	meta, metaErr := m.store.LoadMetadata(ctx)
	if metaErr == nil && m.store.TrustedChecksum(meta, slot) == sum {
		m.logger.Info("Accepted new %s content recorded in metadata", slot)
		m.integrity.Set(slot, sum)
		return nil
	}
	m.metrics.RecordIntegrityFailure(string(slot))
	m.logger.Error("Integrity check failed for %s", slot)
	return err
}

// inspectCiphertext decrypts and validates a slot for the rotation metadata summaries
func (m *Manager) inspectCiphertext(_ context.Context, slot credential.Slot, ciphertext []byte) (*credential.ExpirySummary, error) {
	plaintext, err := m.engine.Decrypt(ciphertext)
	if err != nil {
		return nil, withSlot(err, slot)
	}
	defer wipe(plaintext)
	res := m.validator.Validate(plaintext, credential.FormatAuto)
	return res.Summary(m.now()), nil
}

// onRotated drops cached bundles and re-seeds integrity records from the promoted content
func (m *Manager) onRotated(ctx context.Context, res *rotation.Result) {
	m.cache.Invalidate(credential.SlotActive)
	m.cache.Invalidate(credential.SlotBackup)

	meta, err := m.store.LoadMetadata(ctx)
	if err != nil {
		m.integrity.Forget(credential.SlotActive)
		m.logger.Warn("Could not reload metadata after rotation %s: %v", res.ID, err)
		return
	}
	if sum := m.store.TrustedChecksum(meta, credential.SlotActive); sum != "" {
		m.integrity.Set(credential.SlotActive, sum)
	} else {
		m.integrity.Forget(credential.SlotActive)
	}
}

func (m *Manager) notify(e notifications.Event) {
	if m.notifier != nil {
		m.notifier.Send(e)
	}
}

func (m *Manager) saveHistory(e *history.Entry) {
	if err := m.history.Save(e); err != nil {
		m.logger.Warn("Failed to record %s history: %v", e.Action, err)
	}
}

// Close stops background work, shreds outstanding files, clears the cache and drains
// notifications. It waits for each step but gives up when ctx is done.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		var errs []error

		done := make(chan struct{})
		go func() {
			m.sweeper.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("stop sweeper: %w", ctx.Err()))
		}

		if n, err := m.issuer.Sweep(0); err != nil {
			errs = append(errs, fmt.Errorf("release ephemeral files: %w", err))
		} else if n > 0 {
			m.logger.Info("Released %d ephemeral credential files", n)
		}

		m.cache.Clear()

		if m.notifier != nil {
			if err := m.notifier.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("drain notifications: %w", err))
			}
		}
		m.closeErr = errors.Join(errs...)
	})
	return m.closeErr
}

func withSlot(err error, slot credential.Slot) error {
	var ce *credential.Error
	if errors.As(err, &ce) && ce.Slot == "" {
		cp := *ce
		cp.Slot = slot
		return &cp
	}
	return err
}

func kindLabel(err error) credential.Kind {
	if k := credential.KindOf(err); k != "" {
		return k
	}
	return credential.KindDownload
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

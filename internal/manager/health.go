package manager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/sync/errgroup"

	"github.com/systmms/cookieguard/internal/credential"
)

// HealthStatus is the outcome of a single check
type HealthStatus string

const (
	// HealthOK means the check passed
	HealthOK HealthStatus = "ok"
	// HealthDegraded means the system works but needs attention
	HealthDegraded HealthStatus = "degraded"
	// HealthFailed means the check failed
	HealthFailed HealthStatus = "failed"
)

// HealthResult is the outcome of one health check
type HealthResult struct {
	Name     string        `json:"name" yaml:"name"`
	Status   HealthStatus  `json:"status" yaml:"status"`
	Message  string        `json:"message" yaml:"message"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// HealthReport collects every check
type HealthReport struct {
	Healthy   bool           `json:"healthy" yaml:"healthy"`
	CheckedAt time.Time      `json:"checked_at" yaml:"checked_at"`
	Checks    []HealthResult `json:"checks" yaml:"checks"`
}

// STSClientAPI is the subset of the STS client used to report the caller identity
type STSClientAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// IdentityChecker reports who the backend credentials belong to
type IdentityChecker interface {
	CallerIdentity(ctx context.Context) (string, error)
}

// STSIdentity reports the AWS caller identity
type STSIdentity struct {
	Client STSClientAPI
}

// CallerIdentity returns the ARN of the configured AWS credentials
func (s STSIdentity) CallerIdentity(ctx context.Context) (string, error) {
	out, err := s.Client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (account %s)", aws.ToString(out.Arn), aws.ToString(out.Account)), nil
}

type healthCheck struct {
	name string
	fn   func(ctx context.Context) (HealthStatus, string)
}

// Health runs the health checks concurrently. Detailed adds backend versioning and caller
// identity checks.
func (m *Manager) Health(ctx context.Context, detailed bool) *HealthReport {
	checks := []healthCheck{
		{"store", m.checkStore},
		{"metadata", m.checkMetadata},
		{"active", m.checkSlot(credential.SlotActive)},
		{"backup", m.checkSlot(credential.SlotBackup)},
		{"temp_dir", m.checkTempDir},
	}
	if detailed {
		checks = append(checks, healthCheck{"versioning", m.checkVersioning})
		if m.identity != nil {
			checks = append(checks, healthCheck{"identity", m.checkIdentity})
		}
	}

	report := &HealthReport{CheckedAt: m.now().UTC(), Checks: make([]HealthResult, len(checks))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range checks {
		g.Go(func() error {
			start := time.Now()
			status, msg := c.fn(gctx)
			elapsed := time.Since(start)
			m.metrics.RecordHealthCheck(c.name, status != HealthFailed, elapsed.Seconds())

			mu.Lock()
			report.Checks[i] = HealthResult{Name: c.name, Status: status, Message: msg, Duration: elapsed}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	report.Healthy = true
	for _, c := range report.Checks {
		if c.Status == HealthFailed {
			report.Healthy = false
		}
	}
	return report
}

func (m *Manager) checkStore(ctx context.Context) (HealthStatus, string) {
	if _, err := m.store.Exists(ctx, credential.SlotActive); err != nil {
		return HealthFailed, err.Error()
	}
	return HealthOK, fmt.Sprintf("%s backend reachable", m.store.Backend())
}

func (m *Manager) checkMetadata(ctx context.Context) (HealthStatus, string) {
	meta, err := m.store.LoadMetadata(ctx)
	if err != nil {
		return HealthFailed, err.Error()
	}
	if meta.PendingRotation != nil {
		return HealthDegraded, fmt.Sprintf("rotation %s did not finish; run 'cookieguard rotate' to resume", meta.PendingRotation.ID)
	}
	if meta.LastRotationAt == nil {
		return HealthOK, "no rotation recorded yet"
	}
	if meta.RotationDue(m.now(), m.orch.Interval()) {
		return HealthDegraded, fmt.Sprintf("rotation overdue (last %s)", meta.LastRotationAt.Format(time.RFC3339))
	}
	return HealthOK, fmt.Sprintf("%d rotations, last %s", meta.RotationCount, meta.LastRotationAt.Format(time.RFC3339))
}

func (m *Manager) checkSlot(slot credential.Slot) func(ctx context.Context) (HealthStatus, string) {
	return func(ctx context.Context) (HealthStatus, string) {
		res, err := m.Inspect(ctx, slot)
		switch {
		case credential.IsNotFound(err) && slot == credential.SlotBackup:
			return HealthDegraded, "no backup credentials; fallback unavailable"
		case err != nil:
			return HealthFailed, err.Error()
		case !res.Valid:
			return HealthFailed, fmt.Sprintf("invalid: %v", res.Issues)
		case res.Expired:
			return HealthFailed, fmt.Sprintf("all %d records expired", res.RecordCount)
		case res.ExpiresWithin(m.now(), 24*time.Hour):
			return HealthDegraded, fmt.Sprintf("%d records, earliest expiry %s", res.RecordCount, res.EarliestExpiry.Format(time.RFC3339))
		}
		return HealthOK, fmt.Sprintf("%d records, %d expired", res.RecordCount, res.ExpiredCount)
	}
}

// checkTempDir issues and releases a check file through the issuer
func (m *Manager) checkTempDir(_ context.Context) (HealthStatus, string) {
	f, err := m.issuer.Issue([]byte("healthcheck"), "", "healthcheck")
	if err != nil {
		return HealthFailed, err.Error()
	}
	if err := m.issuer.Release(f.Path); err != nil {
		return HealthDegraded, fmt.Sprintf("check file not shredded: %v", err)
	}
	info, err := os.Stat(filepath.Clean(m.issuer.Dir()))
	if err != nil {
		return HealthFailed, err.Error()
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		return HealthDegraded, fmt.Sprintf("%s has mode %o, expected 700", m.issuer.Dir(), perm)
	}
	return HealthOK, fmt.Sprintf("%s writable, %d live files", m.issuer.Dir(), len(m.issuer.Live()))
}

func (m *Manager) checkVersioning(ctx context.Context) (HealthStatus, string) {
	status, err := m.store.Versioning(ctx)
	if err != nil {
		return HealthFailed, err.Error()
	}
	switch status {
	case "Enabled", "unsupported":
		return HealthOK, status
	case "Disabled":
		return HealthDegraded, "bucket versioning disabled; overwritten slots cannot be recovered"
	}
	return HealthDegraded, "bucket versioning " + status
}

func (m *Manager) checkIdentity(ctx context.Context) (HealthStatus, string) {
	who, err := m.identity.CallerIdentity(ctx)
	if err != nil {
		return HealthFailed, err.Error()
	}
	return HealthOK, who
}

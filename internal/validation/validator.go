// Package validation checks credential bundles for structure, expiry, domain policy and integrity.
package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/logging"
)

// MaxBundleSize is the largest accepted bundle
const MaxBundleSize = 10 << 20

// DefaultTargetDomains is the domain family credentials are expected to cover
var DefaultTargetDomains = []string{"youtube.com", "google.com"}

// Result is the outcome of validating a bundle
type Result struct {
	Valid          bool              `json:"valid" yaml:"valid"`
	Format         credential.Format `json:"format" yaml:"format"`
	RecordCount    int               `json:"record_count" yaml:"record_count"`
	ExpiredCount   int               `json:"expired_count" yaml:"expired_count"`
	SessionCount   int               `json:"session_count" yaml:"session_count"`
	Domains        []string          `json:"domains,omitempty" yaml:"domains,omitempty"`
	EarliestExpiry *time.Time        `json:"earliest_expiry,omitempty" yaml:"earliest_expiry,omitempty"`
	LatestExpiry   *time.Time        `json:"latest_expiry,omitempty" yaml:"latest_expiry,omitempty"`
	Expired        bool              `json:"expired" yaml:"expired"`
	Issues         []string          `json:"issues,omitempty" yaml:"issues,omitempty"`
	Warnings       []string          `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	Bundle *credential.Bundle `json:"-" yaml:"-"`
}

// Summary converts the result into the metadata expiry summary
func (r *Result) Summary(checkedAt time.Time) *credential.ExpirySummary {
	return &credential.ExpirySummary{
		RecordCount:    r.RecordCount,
		EarliestExpiry: r.EarliestExpiry,
		LatestExpiry:   r.LatestExpiry,
		Expired:        r.Expired,
		CheckedAt:      checkedAt.UTC(),
	}
}

// ExpiresWithin reports whether the earliest expiring record expires before now+d
func (r *Result) ExpiresWithin(now time.Time, d time.Duration) bool {
	return r.EarliestExpiry != nil && r.EarliestExpiry.Before(now.Add(d))
}

// Validator validates bundles against the target domain policy
type Validator struct {
	targets []string
	now     func() time.Time
	logger  *logging.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// WithLogger sets the logger for debug output
func WithLogger(l *logging.Logger) Option {
	return func(v *Validator) {
		v.logger = l
	}
}

// New creates a validator. Empty targets fall back to DefaultTargetDomains.
func New(targets []string, opts ...Option) *Validator {
	normalized := make([]string, 0, len(targets))
	for _, t := range targets {
		t = normalizeDomain(t)
		if t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		normalized = append(normalized, DefaultTargetDomains...)
	}

	v := &Validator{
		targets: normalized,
		now:     time.Now,
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate parses data in the given format and reports what it found.
// FormatAuto or an empty format detects it first.
func (v *Validator) Validate(data []byte, format credential.Format) *Result {
	result := &Result{Format: format}

	if len(data) == 0 {
		result.Issues = append(result.Issues, "bundle is empty")
		return result
	}
	if len(data) > MaxBundleSize {
		result.Issues = append(result.Issues, fmt.Sprintf("bundle is %d bytes, limit is %d", len(data), MaxBundleSize))
		return result
	}

	if format == "" || format == credential.FormatAuto {
		result.Format = DetectFormat(data)
	}

	var (
		records  []credential.Record
		warnings []string
		err      error
	)
	switch result.Format {
	case credential.FormatDelimited:
		records, warnings, err = parseDelimited(data)
	case credential.FormatStructured:
		records, warnings, err = parseStructured(data)
	default:
		result.Issues = append(result.Issues, "unrecognized credential format")
		return result
	}
	result.Warnings = append(result.Warnings, warnings...)
	if err != nil {
		result.Issues = append(result.Issues, err.Error())
		return result
	}
	if len(records) == 0 {
		result.Issues = append(result.Issues, "no usable credential records")
		return result
	}

	v.summarize(result, records)
	result.Valid = true
	result.Bundle = &credential.Bundle{
		Records:  records,
		Format:   result.Format,
		Size:     len(data),
		Checksum: credential.Checksum(data),
	}

	v.logger.Debug("validated %s bundle: %d records, %d expired, %d warnings",
		result.Format, result.RecordCount, result.ExpiredCount, len(result.Warnings))
	return result
}

// Check validates data and converts failures into typed errors.
// The result is returned even on error.
func (v *Validator) Check(data []byte, format credential.Format) (*Result, error) {
	result := v.Validate(data, format)
	if !result.Valid {
		return result, credential.NewError(credential.KindValidation, "validate", "", errors.New(strings.Join(result.Issues, "; ")))
	}
	if result.Expired {
		return result, credential.NewError(credential.KindExpired, "validate", "",
			fmt.Errorf("all %d records expired", result.RecordCount))
	}
	return result, nil
}

func (v *Validator) summarize(result *Result, records []credential.Record) {
	now := v.now()
	domains := make(map[string]struct{})
	matched := false

	for _, r := range records {
		d := normalizeDomain(r.Domain)
		domains[d] = struct{}{}
		if !matched && v.matchesTarget(d) {
			matched = true
		}

		if r.IsSession() {
			result.SessionCount++
			continue
		}
		if r.ExpiredAt(now) {
			result.ExpiredCount++
		}
		exp := time.Unix(r.Expires, 0).UTC()
		if result.EarliestExpiry == nil || exp.Before(*result.EarliestExpiry) {
			e := exp
			result.EarliestExpiry = &e
		}
		if result.LatestExpiry == nil || exp.After(*result.LatestExpiry) {
			l := exp
			result.LatestExpiry = &l
		}
	}

	result.RecordCount = len(records)
	result.Expired = result.ExpiredCount == result.RecordCount
	for d := range domains {
		result.Domains = append(result.Domains, d)
	}
	sort.Strings(result.Domains)

	if !matched {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("no records for target domains %s", strings.Join(v.targets, ", ")))
	}
}

// matchesTarget reports whether domain equals a target or is a subdomain of it
func (v *Validator) matchesTarget(domain string) bool {
	for _, t := range v.targets {
		if domain == t || strings.HasSuffix(domain, "."+t) {
			return true
		}
	}
	return false
}

func normalizeDomain(d string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
}

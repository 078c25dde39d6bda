// Package ephemeral writes decrypted credentials to short-lived owner-only files for consumer
// processes, and guarantees their removal.
package ephemeral

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/logging"
	"github.com/systmms/cookieguard/internal/metrics"
)

const filePrefix = "cookies-"

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// File is an issued ephemeral credential file
type File struct {
	Path      string          `json:"path"`
	Slot      credential.Slot `json:"slot"`
	Label     string          `json:"label"`
	CreatedAt time.Time       `json:"created_at"`
}

// Issuer creates and tracks ephemeral files in a dedicated directory
type Issuer struct {
	dir     string
	logger  *logging.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu    sync.Mutex
	files map[string]*File
}

// Option configures an Issuer
type Option func(*Issuer)

// WithLogger sets the issuer logger
func WithLogger(l *logging.Logger) Option {
	return func(i *Issuer) {
		i.logger = l
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m *metrics.Recorder) Option {
	return func(i *Issuer) {
		i.metrics = m
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// DefaultDir returns the per-user ephemeral directory under the system temp dir
func DefaultDir() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("cookieguard-%d", os.Getuid()))
}

// NewIssuer creates dir with mode 0700. An empty dir uses DefaultDir.
func NewIssuer(dir string, opts ...Option) (*Issuer, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create ephemeral directory: %w", err)
	}
	// MkdirAll leaves an existing directory's mode alone
	if err := os.Chmod(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to restrict ephemeral directory: %w", err)
	}

	i := &Issuer{
		dir:     dir,
		logger:  logging.Discard(),
		metrics: metrics.New(),
		now:     time.Now,
		files:   make(map[string]*File),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Dir returns the ephemeral directory
func (i *Issuer) Dir() string {
	return i.dir
}

// Issue writes data to a new owner-only file and tracks it until released
func (i *Issuer) Issue(data []byte, slot credential.Slot, label string) (*File, error) {
	label = unsafeLabel.ReplaceAllString(label, "_")
	if label == "" {
		label = "lease"
	}

	f, err := os.CreateTemp(i.dir, filePrefix+label+"-*.txt")
	if err != nil {
		return nil, fmt.Errorf("failed to create ephemeral file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (*File, error) {
		_ = f.Close()
		_, _ = shredFile(path)
		return nil, err
	}
	if err := f.Chmod(0600); err != nil {
		return fail(fmt.Errorf("failed to restrict ephemeral file: %w", err))
	}
	if _, err := f.Write(data); err != nil {
		return fail(fmt.Errorf("failed to write ephemeral file: %w", err))
	}
	if err := f.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync ephemeral file: %w", err))
	}
	if err := f.Close(); err != nil {
		_, _ = shredFile(path)
		return nil, fmt.Errorf("failed to close ephemeral file: %w", err)
	}

	file := &File{Path: path, Slot: slot, Label: label, CreatedAt: i.now()}
	i.mu.Lock()
	i.files[path] = file
	n := len(i.files)
	i.mu.Unlock()

	i.metrics.SetEphemeralFiles(n)
	i.logger.Debug("issued ephemeral file %s for %s", filepath.Base(path), slot)
	return file, nil
}

// Release shreds and removes path. Releasing an already removed file is not an error.
func (i *Issuer) Release(path string) error {
	i.mu.Lock()
	delete(i.files, path)
	n := len(i.files)
	i.mu.Unlock()
	i.metrics.SetEphemeralFiles(n)

	method, err := shredFile(path)
	if err != nil {
		i.logger.Error("failed to release ephemeral file %s: %v", filepath.Base(path), err)
		return err
	}
	i.metrics.RecordEphemeralRelease(method)
	if method == MethodUnlink {
		i.logger.Warn("ephemeral file %s unlinked without overwrite", filepath.Base(path))
	}
	return nil
}

// Sweep releases tracked files and untracked directory entries older than maxAge.
// Sweep(0) releases everything in the directory.
func (i *Issuer) Sweep(maxAge time.Duration) (int, error) {
	now := i.now()
	var stale []string

	i.mu.Lock()
	for path, f := range i.files {
		if maxAge <= 0 || now.Sub(f.CreatedAt) >= maxAge {
			stale = append(stale, path)
		}
	}
	tracked := make(map[string]struct{}, len(i.files))
	for path := range i.files {
		tracked[path] = struct{}{}
	}
	i.mu.Unlock()

	entries, err := os.ReadDir(i.dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("failed to read ephemeral directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), filePrefix) {
			continue
		}
		path := filepath.Join(i.dir, e.Name())
		if _, ok := tracked[path]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if maxAge <= 0 || now.Sub(info.ModTime()) >= maxAge {
			stale = append(stale, path)
		}
	}

	var errs []error
	released := 0
	for _, path := range stale {
		if err := i.Release(path); err != nil {
			errs = append(errs, err)
			continue
		}
		released++
	}
	if released > 0 {
		i.logger.Debug("swept %d ephemeral files", released)
	}
	return released, errors.Join(errs...)
}

// With issues a file, calls fn with its path and releases it afterwards, including when fn
// panics or the context is cancelled.
func (i *Issuer) With(ctx context.Context, data []byte, slot credential.Slot, label string, fn func(ctx context.Context, path string) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := i.Issue(data, slot, label)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := i.Release(f.Path); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(ctx, f.Path)
}

// Live returns the tracked files, oldest first
func (i *Issuer) Live() []File {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]File, 0, len(i.files))
	for _, f := range i.files {
		out = append(out, *f)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.Before(out[b].CreatedAt) })
	return out
}

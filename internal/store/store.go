// Package store maps credential slots onto an object store. Every call is bounded by a
// per-operation timeout and a shared worker pool, and every failure is returned as a typed
// credential error. The store never retries.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/logging"
	"github.com/systmms/cookieguard/internal/objectstore"
)

const (
	// DefaultPrefix is the key prefix for all credential objects
	DefaultPrefix = "credentials"
	// DefaultOpTimeout bounds each backend call
	DefaultOpTimeout = 30 * time.Second
	// DefaultWorkers is the number of concurrent backend calls
	DefaultWorkers = 4
)

// Config configures a Store
type Config struct {
	Prefix    string
	OpTimeout time.Duration
	Workers   int
}

// Entry is a listed slot
type Entry struct {
	Slot         credential.Slot
	Size         int64
	LastModified time.Time
}

// Store is the credential store
type Store struct {
	client  objectstore.Client
	prefix  string
	timeout time.Duration
	pool    *semaphore.Weighted
	logger  *logging.Logger
	metaKey []byte
}

// Option configures optional Store dependencies
type Option func(*Store)

// WithLogger sets the logger used for debug tracing
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetadataKey seals the metadata checksums with key on every save
func WithMetadataKey(key []byte) Option {
	return func(s *Store) {
		s.metaKey = key
	}
}

// New creates a Store on top of client
func New(client objectstore.Client, cfg Config, opts ...Option) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	s := &Store{
		client:  client,
		prefix:  strings.Trim(cfg.Prefix, "/"),
		timeout: cfg.OpTimeout,
		pool:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger:  logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the backend name
func (s *Store) Backend() string {
	return s.client.Name()
}

// Prefix returns the key prefix
func (s *Store) Prefix() string {
	return s.prefix
}

// Get downloads the encrypted bytes of a slot
func (s *Store) Get(ctx context.Context, slot credential.Slot) ([]byte, error) {
	var data []byte
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		data, err = s.client.Get(ctx, slot.Key(s.prefix))
		return err
	})
	if err != nil {
		return nil, downloadError("get", slot, err)
	}
	s.logger.Debug("downloaded %s (%d bytes)", slot, len(data))
	return data, nil
}

// Put uploads encrypted bytes to a slot
func (s *Store) Put(ctx context.Context, slot credential.Slot, data []byte) error {
	err := s.run(ctx, func(ctx context.Context) error {
		return s.client.Put(ctx, slot.Key(s.prefix), data)
	})
	if err != nil {
		return credential.NewError(credential.KindUpload, "put", slot, err)
	}
	s.logger.Debug("uploaded %s (%d bytes)", slot, len(data))
	return nil
}

// Copy duplicates src into dst at the backend. A missing src is a download error.
func (s *Store) Copy(ctx context.Context, src, dst credential.Slot) error {
	err := s.run(ctx, func(ctx context.Context) error {
		return s.client.Copy(ctx, src.Key(s.prefix), dst.Key(s.prefix))
	})
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return downloadError("copy", src, err)
		}
		return credential.NewError(credential.KindUpload, "copy", dst, err)
	}
	s.logger.Debug("copied %s -> %s", src, dst)
	return nil
}

// Delete removes a slot
func (s *Store) Delete(ctx context.Context, slot credential.Slot) error {
	err := s.run(ctx, func(ctx context.Context) error {
		return s.client.Delete(ctx, slot.Key(s.prefix))
	})
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return downloadError("delete", slot, err)
		}
		return credential.NewError(credential.KindUpload, "delete", slot, err)
	}
	return nil
}

// Exists reports whether a slot is present
func (s *Store) Exists(ctx context.Context, slot credential.Slot) (bool, error) {
	var ok bool
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		ok, err = s.client.Exists(ctx, slot.Key(s.prefix))
		return err
	})
	if err != nil {
		return false, downloadError("exists", slot, err)
	}
	return ok, nil
}

// List returns the slots under a slot prefix such as "archive/", oldest key first
func (s *Store) List(ctx context.Context, slotPrefix string) ([]Entry, error) {
	var objects []objectstore.Object
	keyPrefix := credential.Slot(slotPrefix).Key(s.prefix)
	if strings.HasSuffix(slotPrefix, "/") && !strings.HasSuffix(keyPrefix, "/") {
		keyPrefix += "/"
	}
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		objects, err = s.client.List(ctx, keyPrefix)
		return err
	})
	if err != nil {
		return nil, downloadError("list", credential.Slot(slotPrefix), err)
	}

	entries := make([]Entry, 0, len(objects))
	for _, obj := range objects {
		name := strings.TrimPrefix(obj.Key, s.prefix+"/")
		entries = append(entries, Entry{
			Slot:         credential.Slot(name),
			Size:         obj.Size,
			LastModified: obj.LastModified,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Slot < entries[j].Slot })
	return entries, nil
}

// LoadMetadata reads the metadata document. A missing document yields empty metadata.
func (s *Store) LoadMetadata(ctx context.Context) (*credential.Metadata, error) {
	data, err := s.Get(ctx, credential.SlotMetadata)
	if err != nil {
		if credential.IsNotFound(err) {
			return &credential.Metadata{}, nil
		}
		return nil, err
	}

	var meta credential.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, credential.NewError(credential.KindDownload, "load metadata", credential.SlotMetadata,
			fmt.Errorf("failed to parse metadata: %w", err))
	}
	return &meta, nil
}

// SaveMetadata writes the metadata document
func (s *Store) SaveMetadata(ctx context.Context, meta *credential.Metadata) error {
	if len(s.metaKey) > 0 {
		meta.SealChecksums(s.metaKey)
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return credential.NewError(credential.KindUpload, "save metadata", credential.SlotMetadata, err)
	}
	return s.Put(ctx, credential.SlotMetadata, data)
}

// TrustedChecksum returns the digest recorded for slot in meta, or "" when the checksum map
// was not sealed with this store's metadata key
func (s *Store) TrustedChecksum(meta *credential.Metadata, slot credential.Slot) string {
	return meta.TrustedChecksum(slot, s.metaKey)
}

// Versioning reports backend versioning status, or "unsupported"
func (s *Store) Versioning(ctx context.Context) (string, error) {
	vr, ok := s.client.(objectstore.VersioningReporter)
	if !ok {
		return "unsupported", nil
	}
	var status string
	err := s.run(ctx, func(ctx context.Context) error {
		var err error
		status, err = vr.Versioning(ctx)
		return err
	})
	if err != nil {
		return "", downloadError("versioning", "", err)
	}
	return status, nil
}

// run acquires a worker slot and calls fn under the per-operation timeout
func (s *Store) run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for store worker: %w", err)
	}
	defer s.pool.Release(1)

	return fn(ctx)
}

func downloadError(op string, slot credential.Slot, err error) error {
	if errors.Is(err, objectstore.ErrNotFound) {
		err = fmt.Errorf("%w: %w", credential.ErrNotFound, err)
	}
	return credential.NewError(credential.KindDownload, op, slot, err)
}

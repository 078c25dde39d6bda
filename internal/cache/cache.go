// Package cache keeps decrypted credential bundles for a short TTL, sealed in memguard enclaves.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/metrics"
	"github.com/systmms/cookieguard/internal/secure"
)

// DefaultTTL is how long a decrypted bundle is served from memory
const DefaultTTL = 5 * time.Minute

// Fetcher downloads the encrypted bytes of a slot
type Fetcher interface {
	Get(ctx context.Context, slot credential.Slot) ([]byte, error)
}

// Decrypter opens an encrypted bundle
type Decrypter interface {
	Decrypt(token []byte) ([]byte, error)
}

// VerifyFunc checks downloaded bytes before they are decrypted
type VerifyFunc func(ctx context.Context, slot credential.Slot, ciphertext []byte) error

type entry struct {
	buf      *secure.SecureBuffer
	storedAt time.Time
}

// Cache is a TTL cache of decrypted bundles keyed by slot
type Cache struct {
	fetcher Fetcher
	dec     Decrypter
	verify  VerifyFunc
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Recorder

	mu      sync.Mutex
	entries map[credential.Slot]*entry
	// generation and epoch are bumped by Invalidate and Clear so in-flight fetches don't
	// repopulate stale data
	generation map[credential.Slot]uint64
	epoch      uint64
	group      singleflight.Group
}

// Option configures a Cache
type Option func(*Cache)

// WithVerifier checks ciphertext integrity on every miss
func WithVerifier(v VerifyFunc) Option {
	return func(c *Cache) {
		c.verify = v
	}
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithMetrics records hits and misses
func WithMetrics(m *metrics.Recorder) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a cache
func New(fetcher Fetcher, dec Decrypter, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		fetcher:    fetcher,
		dec:        dec,
		ttl:        ttl,
		now:        time.Now,
		metrics:    metrics.New(),
		entries:    make(map[credential.Slot]*entry),
		generation: make(map[credential.Slot]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetOrFetch returns the plaintext bundle for slot, fetching and decrypting on a miss.
// Concurrent misses for the same slot share one fetch.
func (c *Cache) GetOrFetch(ctx context.Context, slot credential.Slot) ([]byte, error) {
	c.mu.Lock()
	if e, ok := c.entries[slot]; ok {
		if c.now().Sub(e.storedAt) < c.ttl {
			data, err := e.buf.Bytes()
			c.mu.Unlock()
			c.metrics.RecordCache(true)
			return data, err
		}
		e.buf.Destroy()
		delete(c.entries, slot)
	}
	gen, epoch := c.generation[slot], c.epoch
	c.mu.Unlock()
	c.metrics.RecordCache(false)

	v, err, _ := c.group.Do(string(slot), func() (interface{}, error) {
		return c.load(ctx, slot, gen, epoch)
	})
	if err != nil {
		return nil, err
	}
	shared := v.([]byte)
	out := make([]byte, len(shared))
	copy(out, shared)
	return out, nil
}

func (c *Cache) load(ctx context.Context, slot credential.Slot, gen, epoch uint64) ([]byte, error) {
	ciphertext, err := c.fetcher.Get(ctx, slot)
	if err != nil {
		return nil, err
	}
	if c.verify != nil {
		if err := c.verify(ctx, slot, ciphertext); err != nil {
			return nil, err
		}
	}
	plaintext, err := c.dec.Decrypt(ciphertext)
	if err != nil {
		return nil, withSlot(err, slot)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation[slot] == gen && c.epoch == epoch {
		c.entries[slot] = &entry{buf: secure.NewSecureBuffer(plaintext), storedAt: c.now()}
	}
	return plaintext, nil
}

// Invalidate drops the entry for slot
func (c *Cache) Invalidate(slot credential.Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation[slot]++
	if e, ok := c.entries[slot]; ok {
		e.buf.Destroy()
		delete(c.entries, slot)
	}
}

// Clear drops every entry
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	for slot, e := range c.entries {
		e.buf.Destroy()
		delete(c.entries, slot)
	}
}

// Len returns the number of live entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func withSlot(err error, slot credential.Slot) error {
	var ce *credential.Error
	if errors.As(err, &ce) && ce.Slot == "" {
		return &credential.Error{Kind: ce.Kind, Op: ce.Op, Slot: slot, Err: ce.Err}
	}
	return err
}

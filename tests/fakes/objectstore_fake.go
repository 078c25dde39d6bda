package fakes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/systmms/cookieguard/internal/objectstore"
)

// MemoryObjectStore is an in-memory objectstore.Client with failure injection
type MemoryObjectStore struct {
	mu sync.Mutex

	objects  map[string]memObject
	getErrs  map[string]error
	putErrs  map[string]error
	copyErrs map[string]error
	listErr  error
	calls    map[string]int

	// Delay is applied before every operation, honoring context cancellation
	Delay time.Duration
	// OnCopy is invoked before a copy is applied
	OnCopy func(src, dst string)
}

type memObject struct {
	data     []byte
	modified time.Time
}

// NewMemoryObjectStore creates an empty store
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects:  make(map[string]memObject),
		getErrs:  make(map[string]error),
		putErrs:  make(map[string]error),
		copyErrs: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// Name returns the backend name
func (m *MemoryObjectStore) Name() string { return "memory" }

// FailGet makes Get on key return err until cleared with a nil err
func (m *MemoryObjectStore) FailGet(key string, err error) {
	m.setErr(m.getErrs, key, err)
}

// FailPut makes Put on key return err until cleared with a nil err
func (m *MemoryObjectStore) FailPut(key string, err error) {
	m.setErr(m.putErrs, key, err)
}

// FailCopy makes any Copy targeting dst return err until cleared with a nil err
func (m *MemoryObjectStore) FailCopy(dst string, err error) {
	m.setErr(m.copyErrs, dst, err)
}

// FailList makes List return err
func (m *MemoryObjectStore) FailList(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listErr = err
}

func (m *MemoryObjectStore) setErr(target map[string]error, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(target, key)
		return
	}
	target[key] = err
}

// Raw returns the stored bytes for key
func (m *MemoryObjectStore) Raw(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return append([]byte(nil), obj.data...), ok
}

// SetRaw stores bytes for key directly, with an explicit modification time
func (m *MemoryObjectStore) SetRaw(key string, data []byte, modified time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memObject{data: append([]byte(nil), data...), modified: modified}
}

// Keys returns all stored keys in order
func (m *MemoryObjectStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Calls returns how many times op was invoked
func (m *MemoryObjectStore) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MemoryObjectStore) wait(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	delay := m.Delay
	m.mu.Unlock()

	if delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a copy of the stored bytes
func (m *MemoryObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.wait(ctx, "get"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.getErrs[key]; err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), nil
}

// Put stores a copy of data
func (m *MemoryObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if err := m.wait(ctx, "put"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.putErrs[key]; err != nil {
		return err
	}
	m.objects[key] = memObject{data: append([]byte(nil), data...), modified: time.Now()}
	return nil
}

// Copy duplicates src to dst
func (m *MemoryObjectStore) Copy(ctx context.Context, src, dst string) error {
	if err := m.wait(ctx, "copy"); err != nil {
		return err
	}
	m.mu.Lock()
	hook := m.OnCopy
	m.mu.Unlock()
	if hook != nil {
		hook(src, dst)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.copyErrs[dst]; err != nil {
		return err
	}
	obj, ok := m.objects[src]
	if !ok {
		return fmt.Errorf("%s: %w", src, objectstore.ErrNotFound)
	}
	m.objects[dst] = memObject{data: append([]byte(nil), obj.data...), modified: time.Now()}
	return nil
}

// Delete removes key
func (m *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	if err := m.wait(ctx, "delete"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return fmt.Errorf("%s: %w", key, objectstore.ErrNotFound)
	}
	delete(m.objects, key)
	return nil
}

// List returns objects whose key starts with prefix, sorted by key
func (m *MemoryObjectStore) List(ctx context.Context, prefix string) ([]objectstore.Object, error) {
	if err := m.wait(ctx, "list"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []objectstore.Object
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, objectstore.Object{Key: k, Size: int64(len(obj.data)), LastModified: obj.modified})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Exists reports whether key is stored
func (m *MemoryObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.wait(ctx, "exists"); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok, nil
}

var _ objectstore.Client = (*MemoryObjectStore)(nil)

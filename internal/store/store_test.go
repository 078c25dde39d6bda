package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/credential"
	"github.com/systmms/cookieguard/internal/objectstore"
	"github.com/systmms/cookieguard/internal/store"
	"github.com/systmms/cookieguard/tests/fakes"
)

func TestStoreSlotKeys(t *testing.T) {
	t.Parallel()

	mem := fakes.NewMemoryObjectStore()
	s := store.New(mem, store.Config{Prefix: "credentials"})
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, credential.SlotActive, []byte("a")))
	require.NoError(t, s.Put(ctx, credential.SlotBackup, []byte("b")))
	require.NoError(t, s.Copy(ctx, credential.SlotActive, credential.Slot("archive/20240101T000000.000Z")))

	assert.Equal(t, []string{
		"credentials/active",
		"credentials/archive/20240101T000000.000Z",
		"credentials/backup",
	}, mem.Keys())

	got, err := s.Get(ctx, credential.SlotBackup)
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
	assert.Equal(t, "credentials", s.Prefix())
	assert.Equal(t, "memory", s.Backend())
}

func TestStoreErrorMapping(t *testing.T) {
	t.Parallel()

	mem := fakes.NewMemoryObjectStore()
	s := store.New(mem, store.Config{})
	ctx := context.Background()

	_, err := s.Get(ctx, credential.SlotBackup)
	require.Error(t, err)
	assert.Equal(t, credential.KindDownload, credential.KindOf(err))
	assert.True(t, credential.IsNotFound(err))

	mem.FailGet("credentials/active", errors.New("connection reset by peer"))
	_, err = s.Get(ctx, credential.SlotActive)
	assert.Equal(t, credential.KindDownload, credential.KindOf(err))
	assert.False(t, credential.IsNotFound(err))

	mem.FailPut("credentials/active", errors.New("access denied"))
	err = s.Put(ctx, credential.SlotActive, []byte("x"))
	assert.Equal(t, credential.KindUpload, credential.KindOf(err))

	err = s.Copy(ctx, credential.SlotBackup, credential.SlotActive)
	assert.Equal(t, credential.KindDownload, credential.KindOf(err))
	assert.True(t, credential.IsNotFound(err))

	mem.SetRaw("credentials/backup", []byte("b"), time.Now())
	mem.FailCopy("credentials/active", errors.New("throttled"))
	err = s.Copy(ctx, credential.SlotBackup, credential.SlotActive)
	assert.Equal(t, credential.KindUpload, credential.KindOf(err))

	err = s.Delete(ctx, credential.Slot("archive/missing"))
	assert.True(t, credential.IsNotFound(err))
}

func TestStoreTimeout(t *testing.T) {
	t.Parallel()

	mem := fakes.NewMemoryObjectStore()
	mem.Delay = time.Second
	s := store.New(mem, store.Config{OpTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := s.Get(context.Background(), credential.SlotActive)
	require.Error(t, err)
	assert.Equal(t, credential.KindDownload, credential.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

type countingStore struct {
	*fakes.MemoryObjectStore
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		old := c.maxSeen.Load()
		if n <= old || c.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(10 * time.Millisecond)
	return c.MemoryObjectStore.Get(ctx, key)
}

func TestStoreWorkerPoolBoundsConcurrency(t *testing.T) {
	t.Parallel()

	cs := &countingStore{MemoryObjectStore: fakes.NewMemoryObjectStore()}
	cs.SetRaw("credentials/active", []byte("a"), time.Now())
	s := store.New(cs, store.Config{Workers: 2})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Get(context.Background(), credential.SlotActive)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, cs.maxSeen.Load(), int32(2))
	assert.GreaterOrEqual(t, cs.maxSeen.Load(), int32(1))
}

func TestStoreList(t *testing.T) {
	t.Parallel()

	mem := fakes.NewMemoryObjectStore()
	s := store.New(mem, store.Config{})
	now := time.Now()
	mem.SetRaw("credentials/archive/20240102T000000.000Z", []byte("2"), now)
	mem.SetRaw("credentials/archive/20240101T000000.000Z", []byte("1"), now)
	mem.SetRaw("credentials/backups/20240101T000000.000Z", []byte("b"), now)
	mem.SetRaw("credentials/active", []byte("a"), now)

	entries, err := s.List(context.Background(), credential.ArchivePrefix())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, credential.Slot("archive/20240101T000000.000Z"), entries[0].Slot)
	assert.Equal(t, credential.Slot("archive/20240102T000000.000Z"), entries[1].Slot)

	mem.FailList(errors.New("boom"))
	_, err = s.List(context.Background(), credential.BackupsPrefix())
	assert.Equal(t, credential.KindDownload, credential.KindOf(err))
}

func TestStoreMetadata(t *testing.T) {
	t.Parallel()

	mem := fakes.NewMemoryObjectStore()
	s := store.New(mem, store.Config{})
	ctx := context.Background()

	meta, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, meta.RotationCount)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	meta.RotationCount = 3
	meta.LastRotationAt = &now
	meta.SetChecksum(credential.SlotActive, "abc")
	require.NoError(t, s.SaveMetadata(ctx, meta))

	loaded, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.RotationCount)
	assert.True(t, now.Equal(*loaded.LastRotationAt))
	assert.Equal(t, "abc", loaded.Checksum(credential.SlotActive))

	mem.SetRaw("credentials/metadata", []byte("{not json"), now)
	_, err = s.LoadMetadata(ctx)
	assert.Equal(t, credential.KindDownload, credential.KindOf(err))
}

func TestStoreSealsMetadataChecksums(t *testing.T) {
	t.Parallel()

	mem := fakes.NewMemoryObjectStore()
	key := []byte("metadata-key")
	s := store.New(mem, store.Config{}, store.WithMetadataKey(key))
	ctx := context.Background()

	meta := &credential.Metadata{}
	meta.SetChecksum(credential.SlotActive, "abc")
	require.NoError(t, s.SaveMetadata(ctx, meta))

	loaded, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, loaded.ChecksumsMAC)
	assert.Equal(t, "abc", s.TrustedChecksum(loaded, credential.SlotActive))

	// a writer without the key leaves the checksum unsealed
	unkeyed := store.New(mem, store.Config{})
	loaded.SetChecksum(credential.SlotActive, "forged")
	require.NoError(t, unkeyed.SaveMetadata(ctx, loaded))
	forged, err := s.LoadMetadata(ctx)
	require.NoError(t, err)
	assert.Empty(t, s.TrustedChecksum(forged, credential.SlotActive))
	assert.Equal(t, "forged", unkeyed.TrustedChecksum(forged, credential.SlotActive))
}

func TestStoreVersioning(t *testing.T) {
	t.Parallel()

	s := store.New(fakes.NewMemoryObjectStore(), store.Config{})
	status, err := s.Versioning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unsupported", status)

	s3, err := objectstore.NewS3(context.Background(), objectstore.S3Config{Bucket: "b"},
		objectstore.WithS3Client(fakes.NewFakeS3Client()))
	require.NoError(t, err)
	status, err = store.New(s3, store.Config{}).Versioning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Disabled", status)
}

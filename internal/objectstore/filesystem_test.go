package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemRoundTrip(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "store")
	fsys, err := NewFilesystem(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fsys.Put(ctx, "credentials/active", []byte("one")))
	got, err := fsys.Get(ctx, "credentials/active")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	info, err := os.Stat(filepath.Join(root, "credentials", "active"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	require.NoError(t, fsys.Copy(ctx, "credentials/active", "credentials/archive/20240101T000000.000Z"))
	objects, err := fsys.List(ctx, "credentials/archive/")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "credentials/archive/20240101T000000.000Z", objects[0].Key)

	exists, err := fsys.Exists(ctx, "credentials/backup")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fsys.Delete(ctx, "credentials/active"))
	_, err = fsys.Get(ctx, "credentials/active")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, fsys.Delete(ctx, "credentials/active"), ErrNotFound)
	assert.ErrorIs(t, fsys.Copy(ctx, "credentials/missing", "credentials/x"), ErrNotFound)
}

func TestFilesystemRejectsTraversal(t *testing.T) {
	t.Parallel()

	fsys, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape", "/etc/passwd", "a/../../b"} {
		_, err := fsys.Get(context.Background(), key)
		assert.Error(t, err, key)
	}
}

func TestFilesystemListSkipsTempFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	fsys, err := NewFilesystem(root)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, tempPrefix+"123"), []byte("x"), 0600))
	require.NoError(t, fsys.Put(context.Background(), "credentials/backup", []byte("b")))

	objects, err := fsys.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, objects, 1)
	assert.Equal(t, "credentials/backup", objects[0].Key)
}

func TestFilesystemCancelledContext(t *testing.T) {
	t.Parallel()

	fsys, err := NewFilesystem(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, fsys.Put(ctx, "k", []byte("v")), context.Canceled)
}

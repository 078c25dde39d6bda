package ephemeral

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

// Release methods reported to metrics
const (
	MethodShred  = "shred"
	MethodUnlink = "unlink"
)

// shredFile overwrites a file with random bytes, syncs it and removes it. When the overwrite
// fails the file is still unlinked. Returns the method that succeeded.
func shredFile(path string) (string, error) {
	overwriteErr := overwrite(path)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		if overwriteErr != nil {
			return "", errors.Join(overwriteErr, err)
		}
		return "", fmt.Errorf("failed to remove %s: %w", path, err)
	}
	if overwriteErr != nil {
		return MethodUnlink, nil
	}
	return MethodShred, nil
}

// Shred overwrites and removes a file the issuer does not track, such as a cookie export that
// has already been uploaded. It returns the method that succeeded.
func Shred(path string) (string, error) {
	return shredFile(path)
}

func overwrite(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0) // #nosec G304 -- path is an issued ephemeral file
	if err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}

	if err := overwriteWithRandom(f, info.Size()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to overwrite: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to sync: %w", err)
	}
	return f.Close()
}

// overwriteWithRandom writes size random bytes to w
func overwriteWithRandom(w io.Writer, size int64) error {
	const bufSize = 64 * 1024

	buf := make([]byte, bufSize)
	remaining := size

	for remaining > 0 {
		writeSize := bufSize
		if remaining < int64(bufSize) {
			writeSize = int(remaining)
		}

		if _, err := rand.Read(buf[:writeSize]); err != nil {
			return err
		}
		if _, err := w.Write(buf[:writeSize]); err != nil {
			return err
		}

		remaining -= int64(writeSize)
	}

	return nil
}

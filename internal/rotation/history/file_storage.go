package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// fileTimeLayout sorts lexically in time order
const fileTimeLayout = "20060102-150405.000000000"

// FileStorage implements Storage using one JSON file per entry
type FileStorage struct {
	baseDir string
	mu      sync.RWMutex
	now     func() time.Time
}

// NewFileStorage creates a new file-based storage
func NewFileStorage(baseDir string) *FileStorage {
	return &FileStorage{
		baseDir: baseDir,
		now:     time.Now,
	}
}

// DefaultStorageDir returns the default history directory
func DefaultStorageDir() string {
	if dir := os.Getenv("COOKIEGUARD_HISTORY_DIR"); dir != "" {
		return dir
	}

	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "cookieguard", "history")
	}

	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "cookieguard", "history")
	}

	return filepath.Join(os.TempDir(), "cookieguard", "history")
}

// Dir returns the storage directory
func (fs *FileStorage) Dir() string {
	return fs.baseDir
}

// Save writes entry to its own file. Missing ID and timestamp are filled in.
func (fs *FileStorage) Save(entry *Entry) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.MkdirAll(fs.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = fs.now().UTC()
	}
	if entry.ID == "" {
		entry.ID = fmt.Sprintf("%d-%s", entry.Timestamp.UnixNano(), entry.Action)
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	base := fmt.Sprintf("%s-%s", entry.Timestamp.UTC().Format(fileTimeLayout), sanitizeFilename(entry.Action))
	f, err := fs.create(base)
	if err != nil {
		return fmt.Errorf("failed to create history file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write history file: %w", err)
	}
	return f.Close()
}

// create opens a new file named after base, adding a counter when the name is taken.
// Existing entries are never overwritten.
func (fs *FileStorage) create(base string) (*os.File, error) {
	name := base + ".json"
	for i := 1; ; i++ {
		f, err := os.OpenFile(filepath.Join(fs.baseDir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) // #nosec G304 -- path built from sanitized parts
		if err == nil || !os.IsExist(err) || i > 100 {
			return f, err
		}
		name = fmt.Sprintf("%s-%d.json", base, i)
	}
}

// List returns entries matching filter, newest first
func (fs *FileStorage) List(filter Filter) ([]Entry, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	files, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	// newest first
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name() > files[j].Name()
	})

	entries := []Entry{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(fs.baseDir, file.Name()))
		if err != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}

		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			// files are sorted, everything after is older
			break
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}

		entries = append(entries, entry)
		if filter.Limit > 0 && len(entries) >= filter.Limit {
			break
		}
	}

	return entries, nil
}

// Cleanup removes history entries older than olderThan, judged by the timestamp in the filename
func (fs *FileStorage) Cleanup(olderThan time.Duration) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	cutoff := fs.now().Add(-olderThan)

	files, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read history directory: %w", err)
	}

	removed := 0
	var firstErr error
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || filepath.Ext(name) != ".json" || len(name) < len(fileTimeLayout) {
			continue
		}
		ts, err := time.Parse(fileTimeLayout, name[:len(fileTimeLayout)])
		if err != nil || !ts.Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(fs.baseDir, name)); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to remove history file %s: %w", name, err)
			}
			continue
		}
		removed++
	}

	return removed, firstErr
}

// sanitizeFilename replaces characters that might be problematic in filenames
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "-",
		"?", "-",
		"\"", "-",
		"<", "-",
		">", "-",
		"|", "-",
		" ", "_",
	)
	return replacer.Replace(name)
}

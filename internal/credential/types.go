// Package credential holds the data model shared by every cookieguard component:
// cookie records, parsed bundles, storage slots and the metadata document.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Format identifies the serialization of a credential bundle
type Format string

const (
	// FormatAuto asks the validator to detect the format
	FormatAuto Format = "auto"
	// FormatDelimited is the tab-separated browser export format
	FormatDelimited Format = "delimited"
	// FormatStructured is a JSON array of cookie objects
	FormatStructured Format = "structured"
	// FormatUnknown is returned when detection fails
	FormatUnknown Format = "unknown"
)

// Record is a single cookie
type Record struct {
	Domain            string `json:"domain"`
	IncludeSubdomains bool   `json:"include_subdomains"`
	Path              string `json:"path"`
	Secure            bool   `json:"secure"`
	// Expires is a unix timestamp in seconds. Zero means session-scoped.
	Expires  int64  `json:"expires"`
	Name     string `json:"name"`
	Value    string `json:"-"`
	HTTPOnly bool   `json:"http_only"`
}

// MaxExpires is the latest expiry a record keeps, 9999-12-31T23:59:59Z. Larger values are
// clamped to it so they stay representable as a time.Time.
const MaxExpires int64 = 253402300799

// IsSession reports whether the record has no expiry
func (r Record) IsSession() bool {
	return r.Expires == 0
}

// ExpiredAt reports whether the record is expired at the given instant.
// Session records never expire.
func (r Record) ExpiredAt(now time.Time) bool {
	if r.IsSession() {
		return false
	}
	return r.Expires <= now.Unix()
}

// Bundle is a parsed credential file. Treat as immutable once returned by the validator.
type Bundle struct {
	Records  []Record
	Format   Format
	Size     int
	Checksum string
}

// Checksum returns the hex SHA-256 digest of data
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Slot names a storage location for an encrypted bundle
type Slot string

const (
	// SlotActive is the bundle currently served to consumers
	SlotActive Slot = "active"
	// SlotBackup is the bundle promoted on the next rotation
	SlotBackup Slot = "backup"
	// SlotMetadata holds the metadata document
	SlotMetadata Slot = "metadata"

	archivePrefix = "archive/"
	backupsPrefix = "backups/"
)

// TimestampLayout is used for archive and manual backup slot names
const TimestampLayout = "20060102T150405.000Z"

// ArchiveSlot returns the archive slot for t
func ArchiveSlot(t time.Time) Slot {
	return Slot(archivePrefix + t.UTC().Format(TimestampLayout))
}

// BackupsSlot returns a manual backup slot for t with an optional label
func BackupsSlot(t time.Time, label string) Slot {
	ts := t.UTC().Format(TimestampLayout)
	if label != "" {
		return Slot(backupsPrefix + label + "-" + ts)
	}
	return Slot(backupsPrefix + ts)
}

// ArchivePrefix is the List prefix for archived bundles
func ArchivePrefix() string { return archivePrefix }

// BackupsPrefix is the List prefix for manual backups
func BackupsPrefix() string { return backupsPrefix }

// IsArchive reports whether the slot lives under the archive prefix
func (s Slot) IsArchive() bool {
	return strings.HasPrefix(string(s), archivePrefix)
}

// IsBackups reports whether the slot lives under the manual backups prefix
func (s Slot) IsBackups() bool {
	return strings.HasPrefix(string(s), backupsPrefix)
}

// Key returns the object key for the slot under prefix
func (s Slot) Key(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return string(s)
	}
	return prefix + "/" + string(s)
}

// Timestamp parses the time embedded in an archive or backups slot
func (s Slot) Timestamp() (time.Time, error) {
	name := string(s)
	switch {
	case s.IsArchive():
		name = strings.TrimPrefix(name, archivePrefix)
	case s.IsBackups():
		name = strings.TrimPrefix(name, backupsPrefix)
		if i := strings.LastIndex(name, "-"); i >= 0 {
			name = name[i+1:]
		}
	default:
		return time.Time{}, fmt.Errorf("slot %q carries no timestamp", s)
	}
	return time.Parse(TimestampLayout, name)
}

// Validate checks that the slot is one of the known shapes
func (s Slot) Validate() error {
	switch {
	case s == SlotActive, s == SlotBackup:
		return nil
	case s.IsArchive() && len(s) > len(archivePrefix):
		return nil
	case s.IsBackups() && len(s) > len(backupsPrefix):
		return nil
	}
	return fmt.Errorf("invalid slot %q", s)
}

func (s Slot) String() string {
	return string(s)
}

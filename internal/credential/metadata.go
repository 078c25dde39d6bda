package credential

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"
)

// Metadata is the JSON document stored next to the slots
type Metadata struct {
	LastRotationAt      *time.Time       `json:"last_rotation_at,omitempty"`
	RotationCount       int              `json:"rotation_count"`
	NextRotationDue     *time.Time       `json:"next_rotation_due,omitempty"`
	ActiveExpirySummary *ExpirySummary   `json:"active_expiry_summary,omitempty"`
	BackupExpirySummary *ExpirySummary   `json:"backup_expiry_summary,omitempty"`
	Checksums           map[Slot]string  `json:"checksums,omitempty"`
	ChecksumsMAC        string           `json:"checksums_mac,omitempty"`
	Schedule            *Schedule        `json:"schedule,omitempty"`
	PendingRotation     *PendingRotation `json:"pending_rotation,omitempty"`
}

// ExpirySummary captures what the validator saw in a slot
type ExpirySummary struct {
	RecordCount    int        `json:"record_count"`
	EarliestExpiry *time.Time `json:"earliest_expiry,omitempty"`
	LatestExpiry   *time.Time `json:"latest_expiry,omitempty"`
	Expired        bool       `json:"expired"`
	CheckedAt      time.Time  `json:"checked_at"`
}

// Schedule is the persisted cron schedule for automatic rotation
type Schedule struct {
	Cron      string    `json:"cron"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PendingRotation tracks the progress of an unfinished rotation so a retry resumes it
type PendingRotation struct {
	ID          string    `json:"id"`
	ArchiveSlot Slot      `json:"archive_slot,omitempty"`
	Archived    bool      `json:"archived"`
	Promoted    bool      `json:"promoted"`
	StartedAt   time.Time `json:"started_at"`
}

// SetChecksum records the digest for slot, allocating the map when needed
func (m *Metadata) SetChecksum(slot Slot, sum string) {
	if m.Checksums == nil {
		m.Checksums = make(map[Slot]string)
	}
	if sum == "" {
		delete(m.Checksums, slot)
		return
	}
	m.Checksums[slot] = sum
}

// Checksum returns the recorded digest for slot
func (m *Metadata) Checksum(slot Slot) string {
	if m == nil || m.Checksums == nil {
		return ""
	}
	return m.Checksums[slot]
}

// SealChecksums records an HMAC over the checksum map so a reader holding key can tell
// whether the digests were written by someone who knows the passphrase.
func (m *Metadata) SealChecksums(key []byte) {
	if len(m.Checksums) == 0 {
		m.ChecksumsMAC = ""
		return
	}
	m.ChecksumsMAC = hex.EncodeToString(m.checksumsMAC(key))
}

// TrustedChecksum returns the digest for slot only when the checksum map carries a valid MAC
// under key. An empty key skips the check.
func (m *Metadata) TrustedChecksum(slot Slot, key []byte) string {
	sum := m.Checksum(slot)
	if sum == "" || len(key) == 0 {
		return sum
	}
	got, err := hex.DecodeString(m.ChecksumsMAC)
	if err != nil || !hmac.Equal(got, m.checksumsMAC(key)) {
		return ""
	}
	return sum
}

func (m *Metadata) checksumsMAC(key []byte) []byte {
	slots := make([]string, 0, len(m.Checksums))
	for slot := range m.Checksums {
		slots = append(slots, string(slot))
	}
	sort.Strings(slots)

	mac := hmac.New(sha256.New, key)
	for _, slot := range slots {
		_, _ = mac.Write([]byte(slot + "=" + m.Checksums[Slot(slot)] + "\n"))
	}
	return mac.Sum(nil)
}

// SetSummary stores the expiry summary for active or backup
func (m *Metadata) SetSummary(slot Slot, s *ExpirySummary) {
	switch slot {
	case SlotActive:
		m.ActiveExpirySummary = s
	case SlotBackup:
		m.BackupExpirySummary = s
	}
}

// RotationDue reports whether a scheduled rotation is due at now.
// A store that has never rotated is due.
func (m *Metadata) RotationDue(now time.Time, interval time.Duration) bool {
	if m == nil {
		return true
	}
	if m.NextRotationDue != nil {
		return !now.Before(*m.NextRotationDue)
	}
	if m.LastRotationAt == nil {
		return true
	}
	return !now.Before(m.LastRotationAt.Add(interval))
}

package credential

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		slot   Slot
		prefix string
		want   string
	}{
		{"active", SlotActive, "credentials", "credentials/active"},
		{"trailing slash", SlotBackup, "credentials/", "credentials/backup"},
		{"no prefix", SlotMetadata, "", "metadata"},
		{"archive", Slot("archive/20240101T000000.000Z"), "creds", "creds/archive/20240101T000000.000Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.slot.Key(tt.prefix))
		})
	}
}

func TestSlotTimestampRoundTrip(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 4, 5, 6, 7, 890_000_000, time.UTC)

	archive := ArchiveSlot(now)
	assert.True(t, archive.IsArchive())
	ts, err := archive.Timestamp()
	require.NoError(t, err)
	assert.True(t, now.Equal(ts))

	labeled := BackupsSlot(now, "emergency")
	assert.True(t, labeled.IsBackups())
	assert.Equal(t, Slot("backups/emergency-20250304T050607.890Z"), labeled)
	ts, err = labeled.Timestamp()
	require.NoError(t, err)
	assert.True(t, now.Equal(ts))

	_, err = SlotActive.Timestamp()
	assert.Error(t, err)
}

func TestSlotValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, SlotActive.Validate())
	assert.NoError(t, SlotBackup.Validate())
	assert.NoError(t, Slot("archive/x").Validate())
	assert.NoError(t, Slot("backups/x").Validate())
	assert.Error(t, Slot("archive/").Validate())
	assert.Error(t, SlotMetadata.Validate())
	assert.Error(t, Slot("../etc/passwd").Validate())
}

func TestRecordExpiry(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	assert.False(t, Record{Expires: 0}.ExpiredAt(now))
	assert.True(t, Record{Expires: now.Unix() - 1}.ExpiredAt(now))
	assert.False(t, Record{Expires: now.Unix() + 60}.ExpiredAt(now))
}

func TestRecordValueNeverSerialized(t *testing.T) {
	t.Parallel()

	out, err := json.Marshal(Record{Name: "SID", Value: "very-secret"})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "very-secret")
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		err       error
		kind      Kind
		retryable bool
		fallback  bool
	}{
		{"download", NewError(KindDownload, "get", SlotActive, errors.New("timeout")), KindDownload, true, true},
		{"not found", NewError(KindDownload, "get", SlotBackup, ErrNotFound), KindDownload, false, true},
		{"upload", NewError(KindUpload, "put", SlotActive, nil), KindUpload, true, false},
		{"validation", NewError(KindValidation, "validate", SlotActive, nil), KindValidation, false, true},
		{"expired", NewError(KindExpired, "validate", SlotActive, nil), KindExpired, false, true},
		{"rate limit", NewError(KindRateLimit, "acquire", "", nil), KindRateLimit, true, false},
		{"integrity", NewError(KindIntegrity, "decrypt", SlotActive, nil), KindIntegrity, false, false},
		{"unclassified", errors.New("boom"), "", false, true},
		{"wrapped", fmt.Errorf("outer: %w", NewError(KindExpired, "", "", nil)), KindExpired, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
			assert.Equal(t, tt.fallback, TriggersFallback(tt.err))
		})
	}

	assert.False(t, TriggersFallback(nil))
}

func TestErrorIsAndMessage(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("acquire: %w", NewError(KindExpired, "validate", SlotActive, errors.New("all 3 records expired")))
	assert.True(t, errors.Is(err, &Error{Kind: KindExpired}))
	assert.True(t, errors.Is(err, &Error{Kind: KindExpired, Slot: SlotActive}))
	assert.False(t, errors.Is(err, &Error{Kind: KindExpired, Slot: SlotBackup}))
	assert.False(t, errors.Is(err, &Error{Kind: KindIntegrity}))
	assert.Equal(t, "acquire: validate: expired [active]: all 3 records expired", err.Error())
	assert.True(t, IsNotFound(NewError(KindDownload, "", "", fmt.Errorf("x: %w", ErrNotFound))))
}

func TestMetadataRotationDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	week := 7 * 24 * time.Hour

	var nilMeta *Metadata
	assert.True(t, nilMeta.RotationDue(now, week))
	assert.True(t, (&Metadata{}).RotationDue(now, week))

	last := now.Add(-3 * 24 * time.Hour)
	assert.False(t, (&Metadata{LastRotationAt: &last}).RotationDue(now, week))

	old := now.Add(-8 * 24 * time.Hour)
	assert.True(t, (&Metadata{LastRotationAt: &old}).RotationDue(now, week))

	due := now.Add(time.Hour)
	assert.False(t, (&Metadata{LastRotationAt: &old, NextRotationDue: &due}).RotationDue(now, week))
}

func TestMetadataChecksums(t *testing.T) {
	t.Parallel()

	m := &Metadata{}
	assert.Empty(t, m.Checksum(SlotActive))
	m.SetChecksum(SlotActive, Checksum([]byte("abc")))
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", m.Checksum(SlotActive))
	m.SetChecksum(SlotActive, "")
	assert.Empty(t, m.Checksum(SlotActive))

	out, err := json.Marshal(&Metadata{Checksums: map[Slot]string{SlotBackup: "x"}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"checksums":{"backup":"x"}`)
}

func TestMetadataTrustedChecksum(t *testing.T) {
	t.Parallel()

	key := []byte("metadata-key")
	sealed := &Metadata{}
	sealed.SetChecksum(SlotActive, "aaa")
	sealed.SetChecksum(SlotBackup, "bbb")
	sealed.SealChecksums(key)
	require.NotEmpty(t, sealed.ChecksumsMAC)

	tampered := &Metadata{Checksums: map[Slot]string{SlotActive: "evil", SlotBackup: "bbb"}, ChecksumsMAC: sealed.ChecksumsMAC}

	tests := []struct {
		name string
		meta *Metadata
		key  []byte
		want string
	}{
		{"sealed with key", sealed, key, "aaa"},
		{"wrong key", sealed, []byte("other"), ""},
		{"digest rewritten", tampered, key, ""},
		{"never sealed", &Metadata{Checksums: map[Slot]string{SlotActive: "aaa"}}, key, ""},
		{"no key configured", tampered, nil, "evil"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.meta.TrustedChecksum(SlotActive, tt.key))
		})
	}
}

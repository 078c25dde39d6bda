package validation

import (
	"fmt"
	"sync"

	"github.com/systmms/cookieguard/internal/credential"
)

// IntegrityTracker remembers the digest of each slot's stored bytes. The first Verify seeds the
// record; later content must match until Update is called.
type IntegrityTracker struct {
	mu      sync.Mutex
	digests map[credential.Slot]string
}

// NewIntegrityTracker creates an empty tracker
func NewIntegrityTracker() *IntegrityTracker {
	return &IntegrityTracker{digests: make(map[credential.Slot]string)}
}

// Verify checks data against the recorded digest, seeding it on first sight
func (t *IntegrityTracker) Verify(slot credential.Slot, data []byte) error {
	sum := credential.Checksum(data)

	t.mu.Lock()
	defer t.mu.Unlock()

	known, ok := t.digests[slot]
	if !ok {
		t.digests[slot] = sum
		return nil
	}
	if known != sum {
		return credential.NewError(credential.KindIntegrity, "verify", slot,
			fmt.Errorf("digest %s does not match recorded %s", short(sum), short(known)))
	}
	return nil
}

// Update records data as the expected content of slot
func (t *IntegrityTracker) Update(slot credential.Slot, data []byte) {
	t.Set(slot, credential.Checksum(data))
}

// Set records a digest directly
func (t *IntegrityTracker) Set(slot credential.Slot, digest string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.digests[slot] = digest
}

// Digest returns the recorded digest for slot
func (t *IntegrityTracker) Digest(slot credential.Slot) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	d, ok := t.digests[slot]
	return d, ok
}

// Forget drops the record for slot
func (t *IntegrityTracker) Forget(slot credential.Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.digests, slot)
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

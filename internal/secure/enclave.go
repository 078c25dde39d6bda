package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// SecureBuffer holds a decrypted credential bundle encrypted at rest in memory.
// It wraps memguard.Enclave so plaintext only exists while a caller has it open.
type SecureBuffer struct {
	enclave *memguard.Enclave
	size    int
	mu      sync.RWMutex
	// destroyed allows idempotent Destroy() calls and prevents use after destroy
	destroyed bool
}

// NewSecureBuffer seals a copy of data. The caller's slice is left untouched and should be
// zeroed by the caller when no longer needed.
func NewSecureBuffer(data []byte) *SecureBuffer {
	buf := &SecureBuffer{size: len(data)}
	if len(data) == 0 {
		return buf
	}
	// NewEnclave wipes its argument
	sealed := make([]byte, len(data))
	copy(sealed, data)
	buf.enclave = memguard.NewEnclave(sealed)
	return buf
}

// Open decrypts and returns the protected data in a locked buffer.
// The caller MUST call Destroy() on the returned LockedBuffer when done.
//
// Example:
//
//	locked, err := buf.Open()
//	if err != nil {
//	    return err
//	}
//	defer locked.Destroy()
//	secret := locked.Bytes()
func (s *SecureBuffer) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed || s.enclave == nil {
		return memguard.NewBuffer(0), nil
	}
	return s.enclave.Open()
}

// Bytes returns a plaintext copy in ordinary memory. The locked buffer used to produce it is
// destroyed before returning.
func (s *SecureBuffer) Bytes() ([]byte, error) {
	locked, err := s.Open()
	if err != nil {
		return nil, err
	}
	defer locked.Destroy()

	out := make([]byte, len(locked.Bytes()))
	copy(out, locked.Bytes())
	return out, nil
}

// Size returns the length of the sealed data
func (s *SecureBuffer) Size() int {
	return s.size
}

// Destroy marks the buffer as destroyed. The enclave ciphertext is dropped for the garbage
// collector; memguard.Purge() at exit wipes the enclave key.
//
// This method is idempotent.
func (s *SecureBuffer) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}

// Destroyed reports whether Destroy has been called
func (s *SecureBuffer) Destroyed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.destroyed
}

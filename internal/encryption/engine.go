// Package encryption derives keys from an operator passphrase and seals credential
// bundles as Fernet tokens.
package encryption

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/fernet/fernet-go"
	"golang.org/x/crypto/pbkdf2"

	"github.com/systmms/cookieguard/internal/credential"
)

const (
	// Iterations is the PBKDF2 work factor
	Iterations = 100_000
	// KeySize is the derived key length in bytes
	KeySize = 32

	// noTTL disables the Fernet timestamp check; bundle expiry is enforced by the validator
	noTTL time.Duration = -1
)

// DefaultSalt is used when COOKIEGUARD_KDF_SALT is not set
var DefaultSalt = []byte("cookieguard-credential-salt-v1")

var errDecrypt = errors.New("token is corrupt, truncated, or was sealed with a different key")

// Key is a derived symmetric key
type Key [KeySize]byte

// DeriveKey runs PBKDF2-HMAC-SHA256 over the passphrase. The same passphrase and salt always
// produce the same key.
func DeriveKey(passphrase string, salt []byte) (Key, error) {
	var k Key
	if passphrase == "" {
		return k, credential.ErrEmptyPassphrase
	}
	if len(salt) == 0 {
		salt = DefaultSalt
	}
	copy(k[:], pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha256.New))
	return k, nil
}

// metadataKeyLabel separates the metadata MAC key from the Fernet key
const metadataKeyLabel = "cookieguard metadata checksums v1"

// Engine encrypts and decrypts bundles with one read-only key
type Engine struct {
	key *fernet.Key
}

// New derives a key from passphrase and salt and returns an engine
func New(passphrase string, salt []byte) (*Engine, error) {
	k, err := DeriveKey(passphrase, salt)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return NewWithKey(k), nil
}

// NewWithKey returns an engine for an already derived key
func NewWithKey(k Key) *Engine {
	fk := fernet.Key(k)
	return &Engine{key: &fk}
}

// Encrypt seals plaintext. Every call uses a fresh IV so equal inputs produce different tokens.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	tok, err := fernet.EncryptAndSign(plaintext, e.key)
	if err != nil {
		return nil, credential.NewError(credential.KindIntegrity, "encrypt", "", err)
	}
	return tok, nil
}

// Decrypt verifies and opens a token. Any failure is an integrity error.
func (e *Engine) Decrypt(token []byte) ([]byte, error) {
	if len(token) == 0 {
		return nil, credential.NewError(credential.KindIntegrity, "decrypt", "", errors.New("empty token"))
	}
	msg := fernet.VerifyAndDecrypt(token, noTTL, []*fernet.Key{e.key})
	if msg == nil {
		return nil, credential.NewError(credential.KindIntegrity, "decrypt", "", errDecrypt)
	}
	return msg, nil
}

// MetadataKey returns a key for authenticating store metadata, derived from the engine key
// so that only holders of the passphrase can produce it.
func (e *Engine) MetadataKey() []byte {
	mac := hmac.New(sha256.New, e.key[:])
	_, _ = mac.Write([]byte(metadataKeyLabel))
	return mac.Sum(nil)
}

package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/cookieguard/internal/credential"
)

const sample = ".youtube.com\tTRUE\t/\tTRUE\t1999999999\tSID\tabc123\n"

func TestDeriveKeyDeterministic(t *testing.T) {
	t.Parallel()

	k1, err := DeriveKey("passphrase-one", []byte("salt"))
	require.NoError(t, err)
	k2, err := DeriveKey("passphrase-one", []byte("salt"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey("passphrase-two", []byte("salt"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := DeriveKey("passphrase-one", []byte("other-salt"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestDeriveKeyDefaultSalt(t *testing.T) {
	t.Parallel()

	k1, err := DeriveKey("p", nil)
	require.NoError(t, err)
	k2, err := DeriveKey("p", DefaultSalt)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestNewRejectsEmptyPassphrase(t *testing.T) {
	t.Parallel()

	_, err := New("", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, credential.ErrEmptyPassphrase)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		plaintext []byte
	}{
		{"cookie file", []byte(sample)},
		{"binary", []byte{0, 1, 2, 255, 254}},
		{"large", bytes.Repeat([]byte("x"), 1<<20)},
	}

	e, err := New("round-trip", nil)
	require.NoError(t, err)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tok, err := e.Encrypt(tt.plaintext)
			require.NoError(t, err)
			assert.NotContains(t, string(tok), "abc123")

			got, err := e.Decrypt(tok)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, got)
		})
	}
}

func TestEncryptNonDeterministic(t *testing.T) {
	t.Parallel()

	e, err := New("nonce", nil)
	require.NoError(t, err)

	a, err := e.Encrypt([]byte(sample))
	require.NoError(t, err)
	b, err := e.Encrypt([]byte(sample))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestKeyIsolation(t *testing.T) {
	t.Parallel()

	e1, err := New("first", nil)
	require.NoError(t, err)
	e2, err := New("second", nil)
	require.NoError(t, err)

	tok, err := e1.Encrypt([]byte(sample))
	require.NoError(t, err)

	_, err = e2.Decrypt(tok)
	require.Error(t, err)
	assert.Equal(t, credential.KindIntegrity, credential.KindOf(err))
}

func TestDecryptCorruptToken(t *testing.T) {
	t.Parallel()

	e, err := New("corrupt", nil)
	require.NoError(t, err)
	tok, err := e.Encrypt([]byte(sample))
	require.NoError(t, err)

	tests := []struct {
		name  string
		token []byte
	}{
		{"empty", nil},
		{"truncated", tok[:len(tok)/2]},
		{"garbage", []byte("not a token at all")},
		{"flipped", func() []byte {
			c := append([]byte(nil), tok...)
			c[len(c)-5] ^= 0x01
			return c
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := e.Decrypt(tt.token)
			require.Error(t, err)
			assert.Equal(t, credential.KindIntegrity, credential.KindOf(err))
		})
	}
}

func TestMetadataKey(t *testing.T) {
	t.Parallel()

	var k1, k2 Key
	k1[0], k2[0] = 1, 2

	a := NewWithKey(k1).MetadataKey()
	assert.Len(t, a, 32)
	assert.Equal(t, a, NewWithKey(k1).MetadataKey())
	assert.NotEqual(t, a, NewWithKey(k2).MetadataKey())
	assert.NotEqual(t, k1[:], a)
}

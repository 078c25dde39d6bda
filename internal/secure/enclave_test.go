package secure

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecureBuffer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
	}{
		{name: "cookie bundle", data: []byte(".youtube.com\tTRUE\t/\tTRUE\t0\tSID\tsecret")},
		{name: "empty data", data: []byte{}},
		{name: "binary data", data: []byte{0x00, 0xFF, 0x10, 0x20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			original := append([]byte(nil), tt.data...)
			buf := NewSecureBuffer(tt.data)
			assert.Equal(t, original, tt.data, "caller's slice must not be wiped")
			assert.Equal(t, len(tt.data), buf.Size())

			got, err := buf.Bytes()
			require.NoError(t, err)
			assert.Equal(t, len(original), len(got))
			if len(original) > 0 {
				assert.Equal(t, original, got)
			}
		})
	}
}

func TestSecureBufferOpen(t *testing.T) {
	t.Parallel()

	buf := NewSecureBuffer([]byte("payload"))
	locked, err := buf.Open()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), locked.Bytes())
	locked.Destroy()

	// opening twice yields the same plaintext
	again, err := buf.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), again)
}

func TestSecureBufferDestroy(t *testing.T) {
	t.Parallel()

	buf := NewSecureBuffer([]byte("payload"))
	buf.Destroy()
	buf.Destroy()
	assert.True(t, buf.Destroyed())

	got, err := buf.Bytes()
	require.NoError(t, err)
	assert.Empty(t, got)
}

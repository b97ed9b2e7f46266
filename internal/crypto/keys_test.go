package crypto

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.False(t, bytes.Equal(a, b))
}

func TestDecodeKey(t *testing.T) {
	t.Parallel()

	key := bytes.Repeat([]byte{0xFE}, KeySize)

	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"base64", EncodeKey(key, false), false},
		{"hex", EncodeKey(key, true), false},
		{"url base64", base64.URLEncoding.EncodeToString(key), false},
		{"raw base64", base64.RawStdEncoding.EncodeToString(key), false},
		{"with whitespace", "  " + EncodeKey(key, false) + "\n", false},
		{"wrong size", base64.StdEncoding.EncodeToString([]byte("short")), true},
		{"garbage", "!!not-a-key!!", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeKey(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidKey)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, key, got)
		})
	}
}

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	params := Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1}
	salt := []byte("0123456789abcdef")

	a, err := DeriveKey([]byte("correct horse"), salt, params)
	require.NoError(t, err)
	b, err := DeriveKey([]byte("correct horse"), salt, params)
	require.NoError(t, err)
	c, err := DeriveKey([]byte("battery staple"), salt, params)
	require.NoError(t, err)

	assert.Len(t, a, KeySize)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	_, err = DeriveKey([]byte("pw"), []byte("short"), params)
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = DeriveKey(nil, salt, params)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

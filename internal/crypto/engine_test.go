package crypto

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	e, err := New(key)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func TestEngine_RoundTrip(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	rng := rand.New(rand.NewSource(1))

	for _, size := range []int{0, 1, 15, 16, 17, 255, 4096} {
		plaintext := make([]byte, size)
		rng.Read(plaintext)

		blob, err := e.Encrypt(plaintext)
		require.NoError(t, err)
		assert.Len(t, blob, NonceSize+size+TagSize)

		got, err := e.Decrypt(blob)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, got), "size %d", size)
	}
}

func TestEngine_FreshNoncePerCall(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		blob, err := e.Encrypt([]byte("same plaintext"))
		require.NoError(t, err)
		nonce := string(blob[:NonceSize])
		assert.False(t, seen[nonce], "nonce reused")
		seen[nonce] = true
	}
}

func TestEngine_TamperDetection(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	blob, err := e.Encrypt([]byte("sk-live"))
	require.NoError(t, err)

	for i := 0; i < len(blob)*8; i++ {
		tampered := append([]byte(nil), blob...)
		tampered[i/8] ^= 1 << (i % 8)

		got, err := e.Decrypt(tampered)
		require.Error(t, err, "bit %d", i)
		assert.Nil(t, got)
		assert.ErrorIs(t, err, configstore.ErrAuthenticationFailed, "bit %d", i)
	}
}

func TestEngine_Malformed(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t)
	for _, blob := range [][]byte{nil, make([]byte, NonceSize), make([]byte, NonceSize+TagSize-1)} {
		_, err := e.Decrypt(blob)
		assert.ErrorIs(t, err, configstore.ErrMalformed)
		assert.NotErrorIs(t, err, configstore.ErrAuthenticationFailed)
	}
}

func TestEngine_WrongKey(t *testing.T) {
	t.Parallel()

	a := newTestEngine(t)
	b := newTestEngine(t)
	assert.NotEqual(t, a.KeyID(), b.KeyID())

	blob, err := a.Encrypt([]byte("value"))
	require.NoError(t, err)

	_, err = b.Decrypt(blob)
	assert.ErrorIs(t, err, configstore.ErrAuthenticationFailed)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestEngine_RandomFailure(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey()
	require.NoError(t, err)
	e, err := New(key, WithRandom(failingReader{}))
	require.NoError(t, err)
	defer e.Close()

	_, err = e.Encrypt([]byte("x"))
	assert.ErrorIs(t, err, configstore.ErrEncryption)
}

func TestNew_RejectsBadKeySize(t *testing.T) {
	t.Parallel()

	key := []byte("short")
	_, err := New(key)
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.Equal(t, make([]byte, 5), key, "rejected key should still be wiped")
}

func TestNew_WipesKey(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey()
	require.NoError(t, err)
	e, err := New(key)
	require.NoError(t, err)
	defer e.Close()

	assert.Equal(t, make([]byte, KeySize), key)
}

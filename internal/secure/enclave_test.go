package secure

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeyBuffer(t *testing.T) {
	t.Parallel()

	raw := bytes.Repeat([]byte{0xAB}, 32)
	kb, err := NewKeyBuffer(raw)
	require.NoError(t, err)
	defer kb.Destroy()

	assert.Equal(t, 32, kb.Len())
	assert.Equal(t, make([]byte, 32), raw, "source slice should be wiped")

	_, err = NewKeyBuffer(nil)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestKeyBuffer_Use(t *testing.T) {
	t.Parallel()

	expected := []byte("0123456789abcdef0123456789abcdef")
	kb, err := NewKeyBuffer(append([]byte(nil), expected...))
	require.NoError(t, err)
	defer kb.Destroy()

	for i := 0; i < 3; i++ {
		err := kb.Use(func(key []byte) error {
			assert.Equal(t, expected, key)
			return nil
		})
		require.NoError(t, err)
	}
}

func TestKeyBuffer_Destroy(t *testing.T) {
	t.Parallel()

	kb, err := NewKeyBuffer([]byte("secret-to-destroy"))
	require.NoError(t, err)

	kb.Destroy()
	kb.Destroy()

	err = kb.Use(func([]byte) error { return nil })
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestKeyBuffer_ConcurrentUse(t *testing.T) {
	t.Parallel()

	expected := []byte("concurrent-key-material")
	kb, err := NewKeyBuffer(append([]byte(nil), expected...))
	require.NoError(t, err)
	defer kb.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, kb.Use(func(key []byte) error {
				assert.Equal(t, expected, key)
				return nil
			}))
		}()
	}
	wg.Wait()
}

func TestWipe(t *testing.T) {
	t.Parallel()

	b := []byte("plaintext")
	Wipe(b)
	assert.Equal(t, make([]byte, 9), b)
}

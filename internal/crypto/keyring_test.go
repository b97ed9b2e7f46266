package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func TestKeyring_Rotate(t *testing.T) {
	t.Parallel()

	oldEngine := newTestEngine(t)
	ring := NewKeyring(oldEngine)

	blob, keyID, err := ring.Encrypt([]byte("before"))
	require.NoError(t, err)
	assert.Equal(t, oldEngine.KeyID(), keyID)

	key, err := GenerateKey()
	require.NoError(t, err)
	next, err := New(key)
	require.NoError(t, err)

	prev := ring.Rotate(next)
	assert.Equal(t, oldEngine.KeyID(), prev)
	assert.Equal(t, next.KeyID(), ring.PrimaryID())
	assert.Equal(t, []string{prev}, ring.RetiredIDs())

	got, err := ring.Decrypt(blob, keyID)
	require.NoError(t, err)
	assert.Equal(t, "before", string(got))

	_, newID, err := ring.Encrypt([]byte("after"))
	require.NoError(t, err)
	assert.Equal(t, next.KeyID(), newID)

	ring.DropRetired()
	assert.Empty(t, ring.RetiredIDs())

	_, err = ring.Decrypt(blob, keyID)
	assert.ErrorIs(t, err, configstore.ErrAuthenticationFailed)
}

func TestKeyring_EmptyIDUsesPrimary(t *testing.T) {
	t.Parallel()

	ring := NewKeyring(newTestEngine(t))
	blob, _, err := ring.Encrypt([]byte("v"))
	require.NoError(t, err)

	got, err := ring.Decrypt(blob, "")
	require.NoError(t, err)
	assert.Equal(t, "v", string(got))
}

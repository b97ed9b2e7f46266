package crypto

import (
	"sort"
	"sync"

	"github.com/systmms/cfgstore/pkg/configstore"
)

// Keyring encrypts with a primary key and decrypts with any key it holds.
// Retired keys stay available until a rotation finishes re-encrypting
// every blob they produced.
type Keyring struct {
	mu      sync.RWMutex
	primary *Engine
	retired map[string]*Engine
}

// NewKeyring builds a keyring from a primary engine and optional retired
// engines.
func NewKeyring(primary *Engine, retired ...*Engine) *Keyring {
	k := &Keyring{primary: primary, retired: make(map[string]*Engine)}
	for _, e := range retired {
		if e.KeyID() != primary.KeyID() {
			k.retired[e.KeyID()] = e
		}
	}
	return k
}

// PrimaryID returns the key ID used for new encryptions.
func (k *Keyring) PrimaryID() string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.primary.KeyID()
}

// Encrypt seals plaintext with the primary key.
func (k *Keyring) Encrypt(plaintext []byte) ([]byte, string, error) {
	k.mu.RLock()
	primary := k.primary
	k.mu.RUnlock()

	blob, err := primary.Encrypt(plaintext)
	if err != nil {
		return nil, "", err
	}
	return blob, primary.KeyID(), nil
}

// Decrypt opens blob with the key identified by keyID. An empty keyID
// selects the primary key.
func (k *Keyring) Decrypt(blob []byte, keyID string) ([]byte, error) {
	k.mu.RLock()
	e := k.primary
	if keyID != "" && keyID != e.KeyID() {
		e = k.retired[keyID]
	}
	k.mu.RUnlock()

	if e == nil {
		return nil, configstore.DecryptionError{
			Kind:    configstore.AuthenticationFailed,
			Message: "no key with id " + keyID,
		}
	}
	return e.Decrypt(blob)
}

// Rotate installs next as the primary key and retires the previous one.
// It returns the previous key ID.
func (k *Keyring) Rotate(next *Engine) string {
	k.mu.Lock()
	defer k.mu.Unlock()

	prev := k.primary
	if prev.KeyID() == next.KeyID() {
		next.Close()
		return prev.KeyID()
	}
	k.retired[prev.KeyID()] = prev
	delete(k.retired, next.KeyID())
	k.primary = next
	return prev.KeyID()
}

// RetiredIDs lists retired key IDs in sorted order.
func (k *Keyring) RetiredIDs() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()

	ids := make([]string, 0, len(k.retired))
	for id := range k.retired {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DropRetired closes and forgets every retired key.
func (k *Keyring) DropRetired() {
	k.mu.Lock()
	defer k.mu.Unlock()

	for id, e := range k.retired {
		e.Close()
		delete(k.retired, id)
	}
}

// Close destroys all keys.
func (k *Keyring) Close() {
	k.DropRetired()
	k.mu.Lock()
	defer k.mu.Unlock()
	k.primary.Close()
}

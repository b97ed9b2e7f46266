package secure

import (
	"errors"
	"sync"

	"github.com/awnumar/memguard"
)

// ErrDestroyed is returned by Use after Destroy.
var ErrDestroyed = errors.New("key buffer destroyed")

// ErrEmpty is returned when creating a buffer from no bytes.
var ErrEmpty = errors.New("key material is empty")

// KeyBuffer holds key material in a memguard enclave.
type KeyBuffer struct {
	mu        sync.RWMutex
	enclave   *memguard.Enclave
	size      int
	destroyed bool
}

// NewKeyBuffer moves data into a protected enclave. data is wiped.
func NewKeyBuffer(data []byte) (*KeyBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	size := len(data)
	return &KeyBuffer{
		enclave: memguard.NewEnclave(data),
		size:    size,
	}, nil
}

// Len returns the key length in bytes.
func (k *KeyBuffer) Len() int {
	return k.size
}

// Use opens the enclave, passes the plaintext key to fn and destroys the
// plaintext copy afterwards.
func (k *KeyBuffer) Use(fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.destroyed {
		return ErrDestroyed
	}
	locked, err := k.enclave.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()

	return fn(locked.Bytes())
}

// Destroy releases the enclave. It is idempotent.
func (k *KeyBuffer) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.enclave = nil
	k.destroyed = true
}

// Wipe zeroes b in place.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}

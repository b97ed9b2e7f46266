// Package crypto implements authenticated encryption of secret values with
// AES-256-GCM. Blobs are laid out as nonce || ciphertext || tag.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/systmms/cfgstore/internal/secure"
	"github.com/systmms/cfgstore/pkg/configstore"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16
)

// ErrInvalidKey is returned for key material of the wrong size or encoding.
var ErrInvalidKey = errors.New("invalid key")

// Engine encrypts and decrypts under a single key.
type Engine struct {
	key  *secure.KeyBuffer
	id   string
	rand io.Reader
}

// Option configures an Engine.
type Option func(*Engine)

// WithRandom replaces the nonce source.
func WithRandom(r io.Reader) Option {
	return func(e *Engine) { e.rand = r }
}

// New creates an engine from a raw 32-byte key. The key slice is wiped.
func New(key []byte, opts ...Option) (*Engine, error) {
	if len(key) != KeySize {
		secure.Wipe(key)
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	id := fingerprint(key)
	kb, err := secure.NewKeyBuffer(key)
	if err != nil {
		return nil, err
	}
	e := &Engine{key: kb, id: id, rand: rand.Reader}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// fingerprint identifies a key without revealing it.
func fingerprint(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:8])
}

// KeyID is a short fingerprint of the key.
func (e *Engine) KeyID() string {
	return e.id
}

func (e *Engine) aead(fn func(cipher.AEAD) error) error {
	return e.key.Use(func(key []byte) error {
		block, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return err
		}
		return fn(gcm)
	})
}

// Encrypt seals plaintext under a fresh random nonce.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := io.ReadFull(e.rand, nonce); err != nil {
		return nil, configstore.EncryptionError{Err: fmt.Errorf("read nonce: %w", err)}
	}

	var blob []byte
	err := e.aead(func(gcm cipher.AEAD) error {
		blob = gcm.Seal(nonce, nonce, plaintext, nil)
		return nil
	})
	if err != nil {
		return nil, configstore.EncryptionError{Err: err}
	}
	return blob, nil
}

// Decrypt verifies and opens a blob produced by Encrypt. The returned slice
// should be wiped by the caller once consumed.
func (e *Engine) Decrypt(blob []byte) ([]byte, error) {
	if len(blob) < NonceSize+TagSize {
		return nil, configstore.DecryptionError{
			Kind:    configstore.Malformed,
			Message: fmt.Sprintf("blob is %d bytes, minimum is %d", len(blob), NonceSize+TagSize),
		}
	}

	var plaintext []byte
	var openErr error
	err := e.aead(func(gcm cipher.AEAD) error {
		plaintext, openErr = gcm.Open(nil, blob[:NonceSize], blob[NonceSize:], nil)
		return nil
	})
	if err != nil {
		return nil, configstore.DecryptionError{Kind: configstore.AuthenticationFailed, Message: err.Error()}
	}
	if openErr != nil {
		return nil, configstore.DecryptionError{Kind: configstore.AuthenticationFailed}
	}
	return plaintext, nil
}

// Close destroys the key enclave.
func (e *Engine) Close() {
	e.key.Destroy()
}

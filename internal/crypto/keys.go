package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// GenerateKey returns a fresh random key suitable for New.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// EncodeKey renders key as standard base64, or lowercase hex when asHex is set.
func EncodeKey(key []byte, asHex bool) string {
	if asHex {
		return hex.EncodeToString(key)
	}
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeKey parses a key written as hex (64 characters) or base64 in the
// standard, URL-safe or unpadded alphabets.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if len(s) == hex.EncodedLen(KeySize) {
		if key, err := hex.DecodeString(s); err == nil {
			return key, nil
		}
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		key, err := enc.DecodeString(s)
		if err != nil {
			continue
		}
		if len(key) != KeySize {
			return nil, fmt.Errorf("%w: decoded key is %d bytes, need %d", ErrInvalidKey, len(key), KeySize)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w: expected base64 or hex encoding", ErrInvalidKey)
}

// Argon2Params tunes passphrase key derivation.
type Argon2Params struct {
	Time      uint32
	MemoryKiB uint32
	Threads   uint8
}

// DefaultArgon2 uses 64 MiB, three passes and four lanes.
var DefaultArgon2 = Argon2Params{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// MinSaltSize is the shortest salt DeriveKey accepts.
const MinSaltSize = 16

// DeriveKey stretches a passphrase into a key with Argon2id.
func DeriveKey(passphrase, salt []byte, p Argon2Params) ([]byte, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("%w: empty passphrase", ErrInvalidKey)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", ErrInvalidKey, MinSaltSize)
	}
	if p.Time == 0 || p.MemoryKiB == 0 || p.Threads == 0 {
		p = DefaultArgon2
	}
	return argon2.IDKey(passphrase, salt, p.Time, p.MemoryKiB, p.Threads, KeySize), nil
}

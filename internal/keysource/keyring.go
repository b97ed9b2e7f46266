package keysource

import (
	"context"
	"errors"
	"fmt"

	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/zalando/go-keyring"
)

const (
	defaultKeyringService = "cfgstore"
	defaultKeyringAccount = "master-key"
)

// KeyringSource keeps the key in the OS keyring (Keychain, Secret Service
// or Windows Credential Manager).
type KeyringSource struct {
	name    string
	service string
	account string
}

func NewKeyringSource(service, account string) *KeyringSource {
	if service == "" {
		service = defaultKeyringService
	}
	if account == "" {
		account = defaultKeyringAccount
	}
	return &KeyringSource{name: "keyring", service: service, account: account}
}

func NewKeyringSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	s := NewKeyringSource(stringOpt(cfg, "service", ""), stringOpt(cfg, "account", ""))
	s.name = name
	return s, nil
}

func (s *KeyringSource) Name() string { return s.name }

func (s *KeyringSource) Fetch(context.Context) ([]byte, error) {
	secret, err := keyring.Get(s.service, s.account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s/%s", ErrNotFound, s.service, s.account)}
	}
	if err != nil {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	return decodeMaterial(s.name, []byte(secret))
}

func (s *KeyringSource) Store(_ context.Context, key []byte) error {
	if err := keyring.Set(s.service, s.account, crypto.EncodeKey(key, false)); err != nil {
		return &SourceError{Source: s.name, Op: "store", Err: err}
	}
	return nil
}

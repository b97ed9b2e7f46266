package keysource

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/systmms/cfgstore/internal/crypto"
)

// PassphraseSource derives the key from a passphrase with Argon2id. The
// salt is stored in config; the passphrase comes from the environment.
type PassphraseSource struct {
	name   string
	envVar string
	salt   []byte
	params crypto.Argon2Params
	lookup func(string) (string, bool)
}

func NewPassphraseSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	saltHex, err := requireOpt(name, cfg, "salt")
	if err != nil {
		return nil, err
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, &SourceError{Source: name, Op: "configure", Err: fmt.Errorf("salt must be hex: %w", err)}
	}
	if len(salt) < crypto.MinSaltSize {
		return nil, &SourceError{Source: name, Op: "configure", Err: fmt.Errorf("salt must be at least %d bytes", crypto.MinSaltSize)}
	}

	params := crypto.DefaultArgon2
	timeCost, err := intOpt(cfg, "time", int(params.Time))
	if err != nil {
		return nil, &SourceError{Source: name, Op: "configure", Err: err}
	}
	memory, err := intOpt(cfg, "memory_kib", int(params.MemoryKiB))
	if err != nil {
		return nil, &SourceError{Source: name, Op: "configure", Err: err}
	}
	threads, err := intOpt(cfg, "threads", int(params.Threads))
	if err != nil {
		return nil, &SourceError{Source: name, Op: "configure", Err: err}
	}
	if timeCost <= 0 || memory <= 0 || threads <= 0 || threads > 255 {
		return nil, &SourceError{Source: name, Op: "configure", Err: fmt.Errorf("argon2 parameters out of range")}
	}
	params = crypto.Argon2Params{Time: uint32(timeCost), MemoryKiB: uint32(memory), Threads: uint8(threads)}

	return &PassphraseSource{
		name:   name,
		envVar: stringOpt(cfg, "passphrase_env", "CFGSTORE_PASSPHRASE"),
		salt:   salt,
		params: params,
		lookup: os.LookupEnv,
	}, nil
}

func (s *PassphraseSource) Name() string { return s.name }

func (s *PassphraseSource) Fetch(context.Context) ([]byte, error) {
	pass, ok := s.lookup(s.envVar)
	if !ok || pass == "" {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s is not set", ErrNotFound, s.envVar)}
	}
	key, err := crypto.DeriveKey([]byte(pass), s.salt, s.params)
	if err != nil {
		return nil, &SourceError{Source: s.name, Op: "derive", Err: err}
	}
	return key, nil
}

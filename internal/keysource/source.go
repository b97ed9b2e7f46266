// Package keysource loads the 32-byte master key from the place an
// operator keeps it: an environment variable, a file, the OS keyring, a
// cloud secret manager, or a passphrase.
package keysource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/secure"
)

// ErrNotFound means the source is reachable but holds no key.
var ErrNotFound = errors.New("key not found")

// Source fetches key material. Callers own the returned slice and must
// wipe it.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]byte, error)
}

// Storer is implemented by sources that can persist a new key.
type Storer interface {
	Store(ctx context.Context, key []byte) error
}

// SourceError wraps a failure with the source that produced it.
type SourceError struct {
	Source string
	Op     string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("key source %s: %s: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Factory builds a source from its config block.
type Factory func(name string, cfg map[string]interface{}) (Source, error)

// Registry maps source types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with every built-in source type.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.RegisterFactory("env", NewEnvSourceFactory)
	r.RegisterFactory("file", NewFileSourceFactory)
	r.RegisterFactory("keyring", NewKeyringSourceFactory)
	r.RegisterFactory("passphrase", NewPassphraseSourceFactory)
	r.RegisterFactory("aws.secretsmanager", NewAWSSecretsManagerSourceFactory)
	r.RegisterFactory("aws.ssm", NewAWSSSMSourceFactory)
	r.RegisterFactory("gcp.secretmanager", NewGCPSecretManagerSourceFactory)
	r.RegisterFactory("azure.keyvault", NewAzureKeyVaultSourceFactory)
	r.RegisterFactory("akeyless", NewAkeylessSourceFactory)
	return r
}

// RegisterFactory adds or replaces a source type.
func (r *Registry) RegisterFactory(sourceType string, f Factory) {
	r.factories[sourceType] = f
}

// Create builds a source of the given type.
func (r *Registry) Create(sourceType string, cfg map[string]interface{}) (Source, error) {
	f, ok := r.factories[sourceType]
	if !ok {
		return nil, fmt.Errorf("unknown key source type %q (supported: %s)", sourceType, strings.Join(r.SupportedTypes(), ", "))
	}
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	return f(sourceType, cfg)
}

// SupportedTypes lists registered types in sorted order.
func (r *Registry) SupportedTypes() []string {
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Load fetches a key and builds an engine from it. The fetched bytes are
// wiped.
func Load(ctx context.Context, src Source) (*crypto.Engine, error) {
	key, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(key) != crypto.KeySize {
		secure.Wipe(key)
		return nil, &SourceError{Source: src.Name(), Op: "fetch", Err: crypto.ErrInvalidKey}
	}
	engine, err := crypto.New(key)
	if err != nil {
		return nil, &SourceError{Source: src.Name(), Op: "load", Err: err}
	}
	return engine, nil
}

// decodeMaterial turns text or raw key bytes into a key.
func decodeMaterial(source string, raw []byte) ([]byte, error) {
	if len(raw) == crypto.KeySize {
		key := make([]byte, crypto.KeySize)
		copy(key, raw)
		return key, nil
	}
	key, err := crypto.DecodeKey(string(raw))
	if err != nil {
		return nil, &SourceError{Source: source, Op: "decode", Err: err}
	}
	return key, nil
}

func stringOpt(cfg map[string]interface{}, name, fallback string) string {
	if v, ok := cfg[name].(string); ok && v != "" {
		return v
	}
	return fallback
}

func intOpt(cfg map[string]interface{}, name string, fallback int) (int, error) {
	switch v := cfg[name].(type) {
	case nil:
		return fallback, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unsupported type %T", name, v)
	}
}

func requireOpt(source string, cfg map[string]interface{}, name string) (string, error) {
	v := stringOpt(cfg, name, "")
	if v == "" {
		return "", &SourceError{Source: source, Op: "configure", Err: fmt.Errorf("%q is required", name)}
	}
	return v, nil
}

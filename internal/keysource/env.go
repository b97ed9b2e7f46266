package keysource

import (
	"context"
	"fmt"
	"os"
)

// DefaultKeyEnv is read when no source is configured.
const DefaultKeyEnv = "CFGSTORE_KEY"

// EnvSource reads an encoded key from an environment variable.
type EnvSource struct {
	name     string
	variable string
	lookup   func(string) (string, bool)
}

// NewEnvSource reads variable, or DefaultKeyEnv when empty.
func NewEnvSource(variable string) *EnvSource {
	if variable == "" {
		variable = DefaultKeyEnv
	}
	return &EnvSource{name: "env", variable: variable, lookup: os.LookupEnv}
}

func NewEnvSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	s := NewEnvSource(stringOpt(cfg, "variable", DefaultKeyEnv))
	s.name = name
	return s, nil
}

func (s *EnvSource) Name() string { return s.name }

func (s *EnvSource) Fetch(context.Context) ([]byte, error) {
	v, ok := s.lookup(s.variable)
	if !ok || v == "" {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s is not set", ErrNotFound, s.variable)}
	}
	return decodeMaterial(s.name, []byte(v))
}

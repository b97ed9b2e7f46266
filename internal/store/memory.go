package store

import (
	"context"
	"sync"

	"github.com/systmms/cfgstore/pkg/configstore"
)

// MemoryBackend keeps history in process memory. It is used for tests and
// for ephemeral stores.
type MemoryBackend struct {
	mu      sync.RWMutex
	history map[configstore.Tuple][]*configstore.Entry
}

// NewMemoryBackend creates an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{history: make(map[configstore.Tuple][]*configstore.Entry)}
}

func (m *MemoryBackend) Append(_ context.Context, e *configstore.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := e.Tuple()
	versions := m.history[t]
	if e.Version <= int64(len(versions)) {
		return ErrVersionExists
	}
	if e.Version != int64(len(versions))+1 {
		return configstore.ValidationError{Kind: configstore.InvalidIdentifier, Field: "version", Message: "versions must be contiguous"}
	}
	m.history[t] = append(versions, e.Clone())
	return nil
}

func (m *MemoryBackend) Latest(_ context.Context, t configstore.Tuple) (*configstore.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.history[t]
	if len(versions) == 0 {
		return nil, configstore.NotFoundError{Tuple: t}
	}
	return versions[len(versions)-1].Clone(), nil
}

func (m *MemoryBackend) Get(_ context.Context, t configstore.Tuple, version int64) (*configstore.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.history[t]
	if version < 1 || version > int64(len(versions)) {
		return nil, configstore.NotFoundError{Tuple: t, Version: version}
	}
	return versions[version-1].Clone(), nil
}

func (m *MemoryBackend) History(_ context.Context, t configstore.Tuple) ([]*configstore.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	versions := m.history[t]
	out := make([]*configstore.Entry, len(versions))
	for i, e := range versions {
		out[i] = e.Clone()
	}
	return out, nil
}

func (m *MemoryBackend) Keys(_ context.Context, namespace string, env configstore.Environment) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for t := range m.history {
		if t.Namespace == namespace && t.Environment == env {
			keys = append(keys, t.Key)
		}
	}
	return keys, nil
}

func (m *MemoryBackend) Walk(ctx context.Context, fn func(*configstore.Entry) error) error {
	m.mu.RLock()
	var all []*configstore.Entry
	for _, versions := range m.history {
		for _, e := range versions {
			all = append(all, e.Clone())
		}
	}
	m.mu.RUnlock()

	for _, e := range all {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Replace(_ context.Context, e *configstore.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := e.Tuple()
	versions := m.history[t]
	if e.Version < 1 || e.Version > int64(len(versions)) {
		return configstore.NotFoundError{Tuple: t, Version: e.Version}
	}
	versions[e.Version-1] = e.Clone()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

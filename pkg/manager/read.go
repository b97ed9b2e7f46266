package manager

import (
	"context"
	"errors"

	"github.com/systmms/cfgstore/internal/cache"
	"github.com/systmms/cfgstore/internal/validation"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// Get returns the current entry for the tuple. Secret values are
// decrypted when the caller may read secrets and redacted when it may
// only read configuration. A deleted tuple is NotFound.
func (m *Manager) Get(ctx context.Context, namespace, key string, env configstore.Environment) (*configstore.Entry, error) {
	t := configstore.NewTuple(namespace, key, env)
	if err := validation.Tuple(t); err != nil {
		return nil, err
	}

	e, tier, err := m.current(ctx, t)
	if err != nil {
		return nil, err
	}

	out, err := m.reveal(ctx, CallerFrom(ctx), e)
	if err == nil || tier == cache.TierNone || !errors.Is(err, configstore.ErrDecryption) {
		return out, err
	}

	// A cached blob may predate a finished key rotation. Retry once from
	// the store before reporting the failure.
	m.logger.Debug("cached %s failed to decrypt, re-reading from store", t)
	m.cache.Invalidate(context.WithoutCancel(ctx), t, e.Version)
	e, err = m.readThrough(ctx, t)
	if err != nil {
		return nil, err
	}
	return m.reveal(ctx, CallerFrom(ctx), e)
}

// GetWithOverrides returns the entry for env, falling back to Base when
// env has no live entry. Only NotFound triggers the fallback.
func (m *Manager) GetWithOverrides(ctx context.Context, namespace, key string, env configstore.Environment) (*configstore.Entry, error) {
	e, err := m.Get(ctx, namespace, key, env)
	if env == configstore.Base || !configstore.IsNotFound(err) {
		return e, err
	}

	e, err = m.Get(ctx, namespace, key, configstore.Base)
	if configstore.IsNotFound(err) {
		return nil, configstore.NotFoundError{Tuple: configstore.NewTuple(namespace, key, env)}
	}
	return e, err
}

// List returns the current entries of namespace in env, sorted by key.
// Secrets the caller may not read come back with Redacted set and no value.
func (m *Manager) List(ctx context.Context, namespace string, env configstore.Environment) ([]*configstore.Entry, error) {
	subject := CallerFrom(ctx)
	scope, err := scopeOf(namespace, env)
	if err != nil {
		return nil, err
	}
	if err := m.require(ctx, subject, configstore.ActionList, configstore.ResourceConfig, scope); err != nil {
		return nil, err
	}
	return m.list(ctx, subject, namespace, env)
}

func (m *Manager) list(ctx context.Context, subject, namespace string, env configstore.Environment) ([]*configstore.Entry, error) {
	entries, err := m.store.List(ctx, namespace, env)
	if err != nil {
		return nil, err
	}

	out := make([]*configstore.Entry, 0, len(entries))
	for _, e := range entries {
		if !e.IsSecret {
			out = append(out, e)
			continue
		}
		revealed, err := m.revealSecret(ctx, subject, e)
		if err != nil {
			return nil, err
		}
		out = append(out, revealed)
	}
	return out, nil
}

// History returns every version of the tuple, oldest first, including
// tombstones. Secret versions follow the same redaction rule as List.
func (m *Manager) History(ctx context.Context, namespace, key string, env configstore.Environment) ([]*configstore.Entry, error) {
	t := configstore.NewTuple(namespace, key, env)
	if err := validation.Tuple(t); err != nil {
		return nil, err
	}
	subject := CallerFrom(ctx)
	if err := m.require(ctx, subject, configstore.ActionRead, configstore.ResourceHistory, t); err != nil {
		return nil, err
	}

	history, err := m.store.ReadHistory(ctx, t)
	if err != nil {
		return nil, err
	}

	canRead, err := m.allowed(ctx, subject, configstore.ActionRead, configstore.ResourceSecret, t)
	if err != nil {
		return nil, err
	}
	for i, e := range history {
		if !e.IsSecret || e.Tombstone {
			continue
		}
		if !canRead {
			history[i] = e.Redact()
			continue
		}
		if history[i], err = m.open(e); err != nil {
			return nil, err
		}
	}
	return history, nil
}

// current serves t from the cache, falling back to one shared store read
// per tuple.
func (m *Manager) current(ctx context.Context, t configstore.Tuple) (*configstore.Entry, cache.Tier, error) {
	if e, tier := m.cache.Lookup(ctx, t); e != nil {
		return e, tier, nil
	}
	e, err := m.readThrough(ctx, t)
	return e, cache.TierNone, err
}

func (m *Manager) readThrough(ctx context.Context, t configstore.Tuple) (*configstore.Entry, error) {
	ch := m.reads.DoChan(t.CacheKey(), func() (interface{}, error) {
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.readTimeout)
		defer cancel()

		e, err := m.store.ReadCurrent(readCtx, t)
		if err != nil {
			return nil, err
		}
		m.cache.Populate(readCtx, e)
		return e, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*configstore.Entry).Clone(), nil
	}
}

// reveal applies read authorization to one entry.
func (m *Manager) reveal(ctx context.Context, subject string, e *configstore.Entry) (*configstore.Entry, error) {
	t := e.Tuple()
	if !e.IsSecret {
		if err := m.require(ctx, subject, configstore.ActionRead, configstore.ResourceConfig, t); err != nil {
			return nil, err
		}
		return e, nil
	}

	canRead, err := m.allowed(ctx, subject, configstore.ActionRead, configstore.ResourceSecret, t)
	if err != nil {
		return nil, err
	}
	if canRead {
		return m.open(e)
	}
	// Callers that can read configuration learn the secret exists.
	if err := m.require(ctx, subject, configstore.ActionRead, configstore.ResourceConfig, t); err != nil {
		return nil, denied(subject, configstore.ActionRead, configstore.ResourceSecret, t)
	}
	return e.Redact(), nil
}

func (m *Manager) revealSecret(ctx context.Context, subject string, e *configstore.Entry) (*configstore.Entry, error) {
	canRead, err := m.allowed(ctx, subject, configstore.ActionRead, configstore.ResourceSecret, e.Tuple())
	if err != nil {
		return nil, err
	}
	if !canRead {
		return e.Redact(), nil
	}
	return m.open(e)
}

// open returns a copy of e with its secret value decrypted and the
// ciphertext dropped.
func (m *Manager) open(e *configstore.Entry) (*configstore.Entry, error) {
	v, err := m.store.Open(e)
	if err != nil {
		return nil, err
	}
	out := e.Clone()
	out.Value = v
	out.Ciphertext = nil
	return out, nil
}

func scopeOf(namespace string, env configstore.Environment) (configstore.Tuple, error) {
	if err := validation.Namespace(namespace); err != nil {
		return configstore.Tuple{}, err
	}
	if !env.Valid() {
		return configstore.Tuple{}, configstore.ValidationError{
			Kind:    configstore.InvalidIdentifier,
			Field:   "environment",
			Message: "unknown environment",
		}
	}
	return configstore.Tuple{Namespace: namespace, Environment: env}, nil
}

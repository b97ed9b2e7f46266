package manager

import (
	"context"
	"errors"
	"strconv"

	"github.com/systmms/cfgstore/internal/audit"
	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/internal/validation"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// maxAuthAttempts bounds how often a write is re-authorized when the
// version it was authorized against moves underneath it.
const maxAuthAttempts = 3

// SetRequest describes one write.
type SetRequest struct {
	Namespace   string
	Key         string
	Environment configstore.Environment
	Value       configstore.Value
	Author      string
	Description string

	// ExpectedVersion makes the write conditional on the current version.
	// Zero writes unconditionally.
	ExpectedVersion int64
}

func (r SetRequest) tuple() configstore.Tuple {
	return configstore.NewTuple(r.Namespace, r.Key, r.Environment)
}

// Set stores a plain value as the next version of the tuple and returns
// that version.
func (m *Manager) Set(ctx context.Context, req SetRequest) (int64, error) {
	return m.set(ctx, req, false)
}

// SetSecret encrypts the value and stores it as the next version.
func (m *Manager) SetSecret(ctx context.Context, req SetRequest) (int64, error) {
	return m.set(ctx, req, true)
}

func (m *Manager) set(ctx context.Context, req SetRequest, secret bool) (int64, error) {
	t := req.tuple()
	if err := validation.Tuple(t); err != nil {
		return 0, err
	}
	if err := m.validator.Value(t, req.Value, secret); err != nil {
		return 0, err
	}

	m.sealMu.RLock()
	defer m.sealMu.RUnlock()

	var res *store.CommitResult
	for attempt := 1; ; attempt++ {
		creq, guarded, err := m.authorizeSet(ctx, req, secret)
		if err != nil {
			return 0, err
		}
		res, err = m.store.Commit(ctx, creq)
		if err == nil {
			break
		}
		// The guard was added here, not by the caller. Someone else won
		// the race, so authorize again against what they wrote.
		if guarded && errors.Is(err, configstore.ErrVersionConflict) && attempt < maxAuthAttempts {
			continue
		}
		return 0, err
	}

	created := res.Previous == nil || res.Previous.Tombstone
	typ, action := audit.ConfigUpdated, configstore.ActionUpdate
	if created {
		typ, action = audit.ConfigCreated, configstore.ActionCreate
	}
	var details map[string]string
	if secret || (res.Previous != nil && res.Previous.IsSecret) {
		details = map[string]string{"action": string(action)}
		typ = audit.SecretModified
	}
	m.committed(ctx, req.Author, action, typ, res, details)
	return res.Entry.Version, nil
}

// authorizeSet decides whether req is a create or an update and returns
// the commit request to send. Callers holding both grants write
// unconditionally. Everyone else is pinned to the state they were
// authorized against, and guarded reports that the pin was added here.
func (m *Manager) authorizeSet(ctx context.Context, req SetRequest, secret bool) (creq store.CommitRequest, guarded bool, err error) {
	t := req.tuple()
	res := resourceFor(secret)
	creq = store.CommitRequest{
		Tuple:           t,
		Value:           req.Value,
		IsSecret:        secret,
		Author:          req.Author,
		Description:     req.Description,
		ExpectedVersion: req.ExpectedVersion,
	}

	canCreate, err := m.allowed(ctx, req.Author, configstore.ActionCreate, res, t)
	if err != nil {
		return creq, false, err
	}
	canUpdate, err := m.allowed(ctx, req.Author, configstore.ActionUpdate, res, t)
	if err != nil {
		return creq, false, err
	}
	// Overwriting a secret with a plain value needs secret update rights.
	canReplaceSecret := secret
	if !secret {
		if canReplaceSecret, err = m.allowed(ctx, req.Author, configstore.ActionUpdate, configstore.ResourceSecret, t); err != nil {
			return creq, false, err
		}
	}

	if canCreate && canUpdate && canReplaceSecret {
		return creq, false, nil
	}
	if !canCreate && !canUpdate {
		action := configstore.ActionCreate
		if req.ExpectedVersion > 0 {
			action = configstore.ActionUpdate
		}
		return creq, false, denied(req.Author, action, res, t)
	}

	cur, err := m.store.ReadCurrent(ctx, t)
	if err != nil && !configstore.IsNotFound(err) {
		return creq, false, err
	}

	if cur == nil {
		if !canCreate {
			return creq, false, denied(req.Author, configstore.ActionCreate, res, t)
		}
		if creq.ExpectedVersion == 0 {
			creq.IfAbsent = true
			guarded = true
		}
		return creq, guarded, nil
	}

	if !canUpdate {
		return creq, false, denied(req.Author, configstore.ActionUpdate, res, t)
	}
	if cur.IsSecret && !canReplaceSecret {
		return creq, false, denied(req.Author, configstore.ActionUpdate, configstore.ResourceSecret, t)
	}
	if creq.ExpectedVersion == 0 {
		creq.ExpectedVersion = cur.Version
		guarded = true
	}
	return creq, guarded, nil
}

// Rollback commits the value of target as a new version and returns it.
// Rolling back to a deleted version is NotFound.
func (m *Manager) Rollback(ctx context.Context, namespace, key string, env configstore.Environment, target int64, author string) (int64, error) {
	t := configstore.NewTuple(namespace, key, env)
	if err := validation.Tuple(t); err != nil {
		return 0, err
	}
	if target < 1 {
		return 0, configstore.ValidationError{
			Kind:    configstore.InvalidIdentifier,
			Field:   "version",
			Message: "target version must be positive",
		}
	}

	old, err := m.store.ReadVersion(ctx, t, target)
	if err != nil {
		return 0, err
	}
	if err := m.require(ctx, author, configstore.ActionRollback, resourceFor(old.IsSecret), t); err != nil {
		return 0, err
	}

	m.sealMu.RLock()
	res, err := m.store.Rollback(ctx, t, target, author)
	m.sealMu.RUnlock()
	if err != nil {
		return 0, err
	}

	typ := audit.ConfigRolledBack
	details := map[string]string{"target": strconv.FormatInt(target, 10)}
	if old.IsSecret {
		typ = audit.SecretModified
		details["action"] = string(configstore.ActionRollback)
	}
	m.committed(ctx, author, configstore.ActionRollback, typ, res, details)
	return res.Entry.Version, nil
}

// Delete commits a tombstone and returns its version. Earlier versions
// stay in history and remain valid rollback targets.
func (m *Manager) Delete(ctx context.Context, namespace, key string, env configstore.Environment, author string) (int64, error) {
	t := configstore.NewTuple(namespace, key, env)
	if err := validation.Tuple(t); err != nil {
		return 0, err
	}

	cur, err := m.store.ReadCurrent(ctx, t)
	if err != nil {
		return 0, err
	}
	if err := m.require(ctx, author, configstore.ActionDelete, resourceFor(cur.IsSecret), t); err != nil {
		return 0, err
	}

	res, err := m.store.Delete(ctx, t, author)
	if err != nil {
		return 0, err
	}

	typ := audit.ConfigDeleted
	var details map[string]string
	if cur.IsSecret {
		typ = audit.SecretModified
		details = map[string]string{"action": string(configstore.ActionDelete)}
	}
	m.committed(ctx, author, configstore.ActionDelete, typ, res, details)
	return res.Entry.Version, nil
}

// committed runs after every successful write. The cache is invalidated
// even when ctx is already cancelled. A store read already in flight for
// the tuple may predate the commit, so later readers must not join it.
func (m *Manager) committed(ctx context.Context, author string, action configstore.Action, typ audit.EventType, res *store.CommitResult, details map[string]string) {
	t := res.Entry.Tuple()
	m.cache.Invalidate(context.WithoutCancel(ctx), t, res.Entry.Version)
	m.reads.Forget(t.CacheKey())
	m.metrics.RecordWrite(string(action), t.Environment.String())

	e := audit.NewEvent(typ, author, t).WithChange(res.Previous, res.Entry)
	e.Details = details
	m.record(e)

	m.logger.Debug("%s %s -> version %d by %s", action, t, res.Entry.Version, author)
}

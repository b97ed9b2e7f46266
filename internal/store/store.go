// Package store implements the versioned, append-only configuration
// history. Secrets are encrypted before they reach the backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/metrics"
	"github.com/systmms/cfgstore/internal/secure"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// Cipher encrypts secret payloads. crypto.Keyring implements it.
type Cipher interface {
	Encrypt(plaintext []byte) (blob []byte, keyID string, err error)
	Decrypt(blob []byte, keyID string) ([]byte, error)
	PrimaryID() string
}

// CommitRequest describes one write.
type CommitRequest struct {
	Tuple       configstore.Tuple
	Value       configstore.Value
	IsSecret    bool
	Author      string
	Description string

	// ExpectedVersion, when positive, must equal the current version or
	// the commit fails with VersionConflictError.
	ExpectedVersion int64

	// IfAbsent fails the commit with VersionConflictError when the tuple
	// already has a live version.
	IfAbsent bool
}

type precondition struct {
	expected int64
	absent   bool
}

// CommitResult is the committed entry plus the version it superseded.
type CommitResult struct {
	Entry    *configstore.Entry
	Previous *configstore.Entry
}

// Store is the version store.
type Store struct {
	backend    Backend
	cipher     Cipher
	locks      *tupleLocks
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	maxRetries int
}

// Option configures a Store.
type Option func(*Store)

func WithLogger(l *logging.Logger) Option   { return func(s *Store) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Store) { s.metrics = m } }
func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// WithMaxRetries bounds how often a commit re-reads after losing a
// cross-process race on the same version.
func WithMaxRetries(n int) Option { return func(s *Store) { s.maxRetries = n } }

// New creates a Store over backend.
func New(backend Backend, cipher Cipher, opts ...Option) *Store {
	s := &Store{
		backend:    backend,
		cipher:     cipher,
		locks:      newTupleLocks(),
		logger:     logging.Nop(),
		now:        time.Now,
		maxRetries: 16,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Commit appends the next version of req.Tuple.
func (s *Store) Commit(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if req.Value.IsZero() {
		return nil, configstore.ValidationError{Kind: configstore.TypeMismatch, Field: "value", Message: "value is empty"}
	}
	if !req.Value.IsFinite() {
		return nil, configstore.ValidationError{Kind: configstore.TypeMismatch, Field: "value", Message: "float must be finite"}
	}

	template := &configstore.Entry{
		Namespace:   req.Tuple.Namespace,
		Key:         req.Tuple.Key,
		Environment: req.Tuple.Environment,
		IsSecret:    req.IsSecret,
		Author:      req.Author,
		Description: req.Description,
	}
	if req.IsSecret {
		blob, keyID, err := s.seal(req.Value)
		if err != nil {
			return nil, err
		}
		template.Ciphertext = blob
		template.KeyID = keyID
	} else {
		template.Value = req.Value
	}

	return s.append(ctx, "commit", template, precondition{expected: req.ExpectedVersion, absent: req.IfAbsent})
}

// Rollback re-commits the value of target as a new version. Secret values
// are re-encrypted with the current primary key.
func (s *Store) Rollback(ctx context.Context, t configstore.Tuple, target int64, author string) (*CommitResult, error) {
	old, err := s.ReadVersion(ctx, t, target)
	if err != nil {
		return nil, err
	}
	if old.Tombstone {
		return nil, configstore.NotFoundError{Tuple: t, Version: target}
	}

	value := old.Value
	if old.IsSecret {
		value, err = s.Open(old)
		if err != nil {
			return nil, err
		}
	}

	description := old.Description
	if description == "" {
		description = fmt.Sprintf("rollback to version %d", target)
	}

	template := &configstore.Entry{
		Namespace:   t.Namespace,
		Key:         t.Key,
		Environment: t.Environment,
		IsSecret:    old.IsSecret,
		Author:      author,
		Description: description,
	}
	if old.IsSecret {
		blob, keyID, err := s.seal(value)
		if err != nil {
			return nil, err
		}
		template.Ciphertext = blob
		template.KeyID = keyID
	} else {
		template.Value = value
	}
	return s.append(ctx, "rollback", template, precondition{})
}

// Delete commits a tombstone. It fails with NotFound when the tuple has no
// live current version.
func (s *Store) Delete(ctx context.Context, t configstore.Tuple, author string) (*CommitResult, error) {
	template := &configstore.Entry{
		Namespace:   t.Namespace,
		Key:         t.Key,
		Environment: t.Environment,
		Tombstone:   true,
		Author:      author,
	}
	return s.append(ctx, "delete", template, precondition{})
}

func (s *Store) append(ctx context.Context, op string, template *configstore.Entry, cond precondition) (res *CommitResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordCommit(op, err == nil, time.Since(start).Seconds())
	}()

	t := template.Tuple()
	release, err := s.locks.acquire(ctx, t.CacheKey())
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prev, err := s.latest(ctx, t)
		if err != nil {
			return nil, err
		}

		var current int64
		live := prev != nil && !prev.Tombstone
		if prev != nil {
			current = prev.Version
		}
		if cond.expected > 0 && cond.expected != current {
			return nil, configstore.VersionConflictError{Tuple: t, Expected: cond.expected, Actual: current}
		}
		if cond.absent && live {
			return nil, configstore.VersionConflictError{Tuple: t, Actual: current}
		}
		if template.Tombstone && !live {
			return nil, configstore.NotFoundError{Tuple: t}
		}

		now := s.now().UTC()
		entry := template.Clone()
		entry.Version = current + 1
		entry.UpdatedAt = now
		entry.CreatedAt = now
		if live {
			entry.CreatedAt = prev.CreatedAt
		}

		err = s.backend.Append(ctx, entry)
		if errors.Is(err, ErrVersionExists) && attempt < s.maxRetries {
			s.logger.Debug("lost race on %s version %d, retrying", t, entry.Version)
			continue
		}
		if err != nil {
			return nil, configstore.StorageError{Op: op, Err: err}
		}

		s.logger.Debug("%s %s -> version %d", op, t, entry.Version)
		return &CommitResult{Entry: entry, Previous: prev}, nil
	}
}

func (s *Store) latest(ctx context.Context, t configstore.Tuple) (*configstore.Entry, error) {
	e, err := s.backend.Latest(ctx, t)
	if configstore.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, configstore.StorageError{Op: "read", Err: err}
	}
	return e, nil
}

// ReadCurrent returns the current live version of t.
func (s *Store) ReadCurrent(ctx context.Context, t configstore.Tuple) (*configstore.Entry, error) {
	e, err := s.latest(ctx, t)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Tombstone {
		return nil, configstore.NotFoundError{Tuple: t}
	}
	return e, nil
}

// ReadVersion returns one version of t.
func (s *Store) ReadVersion(ctx context.Context, t configstore.Tuple, version int64) (*configstore.Entry, error) {
	e, err := s.backend.Get(ctx, t, version)
	if configstore.IsNotFound(err) {
		return nil, configstore.NotFoundError{Tuple: t, Version: version}
	}
	if err != nil {
		return nil, configstore.StorageError{Op: "read", Err: err}
	}
	return e, nil
}

// ReadHistory returns every version of t, oldest first.
func (s *Store) ReadHistory(ctx context.Context, t configstore.Tuple) ([]*configstore.Entry, error) {
	history, err := s.backend.History(ctx, t)
	if err != nil && !configstore.IsNotFound(err) {
		return nil, configstore.StorageError{Op: "history", Err: err}
	}
	if len(history) == 0 {
		return nil, configstore.NotFoundError{Tuple: t}
	}
	return history, nil
}

// List returns the current live entry of every key in namespace and env,
// sorted by key.
func (s *Store) List(ctx context.Context, namespace string, env configstore.Environment) ([]*configstore.Entry, error) {
	keys, err := s.backend.Keys(ctx, namespace, env)
	if err != nil {
		return nil, configstore.StorageError{Op: "list", Err: err}
	}
	sort.Strings(keys)

	entries := make([]*configstore.Entry, 0, len(keys))
	for _, key := range keys {
		e, err := s.latest(ctx, configstore.NewTuple(namespace, key, env))
		if err != nil {
			return nil, err
		}
		if e == nil || e.Tombstone {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Open decrypts a secret entry's blob into its Value.
func (s *Store) Open(e *configstore.Entry) (configstore.Value, error) {
	if !e.IsSecret {
		return e.Value, nil
	}
	plaintext, err := s.cipher.Decrypt(e.Ciphertext, e.KeyID)
	if err != nil {
		var derr configstore.DecryptionError
		if errors.As(err, &derr) {
			s.metrics.RecordDecryptFailure(derr.Kind.String())
		}
		return configstore.Value{}, err
	}
	defer secure.Wipe(plaintext)

	var v configstore.Value
	if err := json.Unmarshal(plaintext, &v); err != nil {
		return configstore.Value{}, configstore.DecryptionError{Kind: configstore.Malformed, Message: "decrypted payload is not a value"}
	}
	return v, nil
}

func (s *Store) seal(v configstore.Value) ([]byte, string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, "", configstore.EncryptionError{Err: err}
	}
	defer secure.Wipe(plaintext)
	return s.cipher.Encrypt(plaintext)
}

// ReencryptAll moves every secret version not sealed with the primary key
// onto it. Each version is replaced atomically; failures are collected and
// the remaining versions are still processed. It returns how many versions
// were migrated.
func (s *Store) ReencryptAll(ctx context.Context) (int, error) {
	primary := s.cipher.PrimaryID()

	var pending []*configstore.Entry
	err := s.backend.Walk(ctx, func(e *configstore.Entry) error {
		if e.IsSecret && !e.Tombstone && e.KeyID != primary {
			pending = append(pending, e)
		}
		return nil
	})
	if err != nil {
		return 0, configstore.StorageError{Op: "walk", Err: err}
	}

	var result *multierror.Error
	migrated := 0
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			result = multierror.Append(result, err)
			break
		}
		done, err := s.reencrypt(ctx, e.Tuple(), e.Version)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s version %d: %w", e.Tuple(), e.Version, err))
			continue
		}
		if done {
			migrated++
		}
	}
	s.metrics.RecordReencrypted(migrated)
	return migrated, result.ErrorOrNil()
}

func (s *Store) reencrypt(ctx context.Context, t configstore.Tuple, version int64) (bool, error) {
	release, err := s.locks.acquire(ctx, t.CacheKey())
	if err != nil {
		return false, err
	}
	defer release()

	e, err := s.ReadVersion(ctx, t, version)
	if err != nil {
		return false, err
	}
	if e.KeyID == s.cipher.PrimaryID() {
		return false, nil
	}

	plaintext, err := s.cipher.Decrypt(e.Ciphertext, e.KeyID)
	if err != nil {
		return false, err
	}
	blob, keyID, err := s.cipher.Encrypt(plaintext)
	secure.Wipe(plaintext)
	if err != nil {
		return false, err
	}

	e.Ciphertext = blob
	e.KeyID = keyID
	if err := s.backend.Replace(ctx, e); err != nil {
		return false, configstore.StorageError{Op: "replace", Err: err}
	}
	return true, nil
}

package store

import (
	"context"
	"errors"

	"github.com/systmms/cfgstore/pkg/configstore"
)

// ErrVersionExists is returned by Backend.Append when the entry's version is
// already present for its tuple. Another writer won the race; the store
// re-reads and retries.
var ErrVersionExists = errors.New("version already exists")

// Backend is the durable primitive the Store sits on. Implementations must
// make Append atomic and exclusive per (tuple, version): after a crash
// either the whole entry is present or none of it is.
//
// Backends return configstore.NotFoundError for absent tuples or versions
// and plain errors otherwise; the Store wraps the latter as StorageError.
type Backend interface {
	// Append persists e as a new version. It fails with ErrVersionExists
	// if the version is taken.
	Append(ctx context.Context, e *configstore.Entry) error

	// Latest returns the highest version of t, tombstones included.
	Latest(ctx context.Context, t configstore.Tuple) (*configstore.Entry, error)

	// Get returns one version of t.
	Get(ctx context.Context, t configstore.Tuple, version int64) (*configstore.Entry, error)

	// History returns every version of t, oldest first.
	History(ctx context.Context, t configstore.Tuple) ([]*configstore.Entry, error)

	// Keys lists keys with at least one version in namespace and env.
	Keys(ctx context.Context, namespace string, env configstore.Environment) ([]string, error)

	// Walk calls fn for every stored version of every tuple.
	Walk(ctx context.Context, fn func(*configstore.Entry) error) error

	// Replace atomically overwrites an existing version. It is used only to
	// re-encrypt secret blobs during key rotation.
	Replace(ctx context.Context, e *configstore.Entry) error

	Close() error
}

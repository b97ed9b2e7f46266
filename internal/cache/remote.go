package cache

import (
	"context"
	"time"

	"github.com/systmms/cfgstore/pkg/configstore"
)

// Remote is an L2 cache backend. Implementations keep a per-key floor
// version: Set is ignored for entries older than the floor, and Invalidate
// raises it. This stops a slow reader from re-caching a version that a
// concurrent write has already superseded.
type Remote interface {
	// Get returns (nil, nil) on a miss.
	Get(ctx context.Context, key string) (*configstore.Entry, error)

	// Set stores e for ttl unless e.Version is below the key's floor. It
	// reports whether the entry was stored.
	Set(ctx context.Context, key string, e *configstore.Entry, ttl time.Duration) (bool, error)

	// Invalidate deletes key and raises its floor to version.
	Invalidate(ctx context.Context, key string, version int64) error

	// Purge drops every cached entry. Floors are kept.
	Purge(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

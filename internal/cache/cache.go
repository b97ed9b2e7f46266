// Package cache is the two-tier read cache in front of the version store.
//
// L1 is an in-process LRU with a TTL. L2 is a shared, size-bounded tier
// (Redis or in-memory). L2 failures never fail a read or a write: the tier
// is bypassed until a background health check sees it healthy again, and it is
// purged before it is trusted again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/metrics"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// Tier identifies where a lookup was served from.
type Tier int

const (
	TierNone Tier = iota
	TierL1
	TierL2
)

func (t Tier) String() string {
	switch t {
	case TierL1:
		return "l1"
	case TierL2:
		return "l2"
	default:
		return "none"
	}
}

// Config holds tier sizes and lifetimes.
type Config struct {
	L1Capacity          uint64
	L1TTL               time.Duration
	L2TTL               time.Duration
	HealthCheckInterval time.Duration

	// OpTimeout bounds each L2 call.
	OpTimeout time.Duration
}

// DefaultConfig returns the defaults used when the config file is silent.
func DefaultConfig() Config {
	return Config{
		L1Capacity:          1000,
		L1TTL:               30 * time.Second,
		L2TTL:               5 * time.Minute,
		HealthCheckInterval: 5 * time.Second,
		OpTimeout:           250 * time.Millisecond,
	}
}

// Validate checks that both TTLs are positive and that L1 entries never
// outlive L2 entries.
func (c Config) Validate() error {
	switch {
	case c.L1Capacity == 0:
		return errors.New("cache: l1 capacity must be positive")
	case c.L1TTL <= 0 || c.L2TTL <= 0:
		return errors.New("cache: ttls must be positive")
	case c.L1TTL > c.L2TTL:
		return fmt.Errorf("cache: l1 ttl %s exceeds l2 ttl %s", c.L1TTL, c.L2TTL)
	case c.HealthCheckInterval <= 0:
		return errors.New("cache: health check interval must be positive")
	}
	return nil
}

// Tiered is the L1 + L2 cache. A nil L2 runs L1 only.
type Tiered struct {
	cfg     Config
	l1      *ttlcache.Cache[string, *configstore.Entry]
	l2      Remote
	logger  *logging.Logger
	metrics *metrics.Metrics

	// l1mu orders L1 writes against floors.
	l1mu     sync.Mutex
	l1Floors map[string]int64

	degraded atomic.Bool
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   sync.Once
}

// Option configures a Tiered cache.
type Option func(*Tiered)

func WithLogger(l *logging.Logger) Option   { return func(c *Tiered) { c.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(c *Tiered) { c.metrics = m } }

// New builds the cache. l2 may be nil.
func New(cfg Config, l2 Remote, opts ...Option) (*Tiered, error) {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultConfig().OpTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Tiered{
		cfg: cfg,
		l1: ttlcache.New(
			ttlcache.WithTTL[string, *configstore.Entry](cfg.L1TTL),
			ttlcache.WithCapacity[string, *configstore.Entry](cfg.L1Capacity),
			ttlcache.WithDisableTouchOnHit[string, *configstore.Entry](),
		),
		l2:       l2,
		logger:   logging.Nop(),
		l1Floors: make(map[string]int64),
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.l1.Start()
	return c, nil
}

// Lookup returns a copy of the cached current entry for t. L2 hits are
// promoted into L1.
func (c *Tiered) Lookup(ctx context.Context, t configstore.Tuple) (*configstore.Entry, Tier) {
	key := t.CacheKey()

	if item := c.l1.Get(key); item != nil {
		c.metrics.RecordCacheLookup(TierL1.String(), true)
		return item.Value().Clone(), TierL1
	}
	c.metrics.RecordCacheLookup(TierL1.String(), false)

	if !c.l2Usable() {
		return nil, TierNone
	}

	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	e, err := c.l2.Get(opCtx, key)
	if err != nil {
		c.degrade("get", err)
		return nil, TierNone
	}
	if e == nil {
		c.metrics.RecordCacheLookup(TierL2.String(), false)
		return nil, TierNone
	}

	c.l1mu.Lock()
	floor := c.l1Floors[key]
	c.l1mu.Unlock()
	if e.Version < floor {
		// L2 missed an invalidation this process already made.
		c.metrics.RecordCacheLookup(TierL2.String(), false)
		if err := c.l2.Invalidate(opCtx, key, floor); err != nil {
			c.degrade("invalidate", err)
		}
		return nil, TierNone
	}
	c.metrics.RecordCacheLookup(TierL2.String(), true)

	c.setL1(key, e)
	return e.Clone(), TierL2
}

// Populate stores a freshly read current entry in both tiers. Entries
// older than the tuple's last invalidation are ignored.
func (c *Tiered) Populate(ctx context.Context, e *configstore.Entry) {
	if e == nil || e.Tombstone {
		return
	}
	key := e.Tuple().CacheKey()
	c.setL1(key, e)

	if !c.l2Usable() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	if _, err := c.l2.Set(opCtx, key, e, c.cfg.L2TTL); err != nil {
		if errors.Is(err, ErrUnencodable) {
			c.logger.Warn("Not caching %s in L2: %v", e.Tuple(), err)
			return
		}
		c.degrade("set", err)
	}
}

// Invalidate removes t from both tiers and records version as the oldest
// version either tier may hold afterwards. It must complete before a write
// is acknowledged. L2 failures degrade the tier instead of failing.
func (c *Tiered) Invalidate(ctx context.Context, t configstore.Tuple, version int64) {
	key := t.CacheKey()

	c.l1mu.Lock()
	if version > c.l1Floors[key] {
		c.l1Floors[key] = version
	}
	c.l1.Delete(key)
	c.l1mu.Unlock()

	if !c.l2Usable() {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, c.cfg.OpTimeout)
	defer cancel()
	if err := c.l2.Invalidate(opCtx, key, version); err != nil {
		c.degrade("invalidate", err)
	}
}

// Purge empties both tiers. Floors survive.
func (c *Tiered) Purge(ctx context.Context) error {
	c.l1mu.Lock()
	c.l1.DeleteAll()
	c.l1mu.Unlock()

	if !c.l2Usable() {
		return nil
	}
	if err := c.l2.Purge(ctx); err != nil {
		c.degrade("purge", err)
		return configstore.CacheError{Tier: TierL2.String(), Op: "purge", Err: err}
	}
	return nil
}

// Degraded reports whether L2 is currently bypassed.
func (c *Tiered) Degraded() bool {
	return c.degraded.Load()
}

// L1Len returns the number of L1 entries.
func (c *Tiered) L1Len() int {
	return c.l1.Len()
}

// Close stops the health check and L1 expiry, then closes L2.
func (c *Tiered) Close() error {
	var err error
	c.closed.Do(func() {
		close(c.stop)
		c.wg.Wait()
		c.l1.Stop()
		if c.l2 != nil {
			err = c.l2.Close()
		}
	})
	return err
}

func (c *Tiered) setL1(key string, e *configstore.Entry) {
	c.l1mu.Lock()
	defer c.l1mu.Unlock()
	if e.Version < c.l1Floors[key] {
		return
	}
	if cur := c.l1.Get(key); cur != nil && cur.Value().Version > e.Version {
		return
	}
	c.l1.Set(key, e.Clone(), ttlcache.DefaultTTL)
}

func (c *Tiered) l2Usable() bool {
	return c.l2 != nil && !c.degraded.Load()
}

func (c *Tiered) degrade(op string, err error) {
	c.metrics.RecordCacheError(TierL2.String(), op)
	if !c.degraded.CompareAndSwap(false, true) {
		return
	}
	c.metrics.SetL2Degraded(true)
	c.logger.Warn("L2 cache %s failed, bypassing until it recovers: %v", op, err)

	c.wg.Add(1)
	go c.awaitRecovery()
}

// awaitRecovery pings L2 until it answers, purges it, and re-enables it. Only the
// goroutine that flipped degraded on runs it.
func (c *Tiered) awaitRecovery() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
		err := c.l2.Ping(ctx)
		cancel()
		if err != nil {
			c.logger.Debug("L2 cache still unavailable: %v", err)
			continue
		}

		// Writes made while degraded never reached L2.
		ctx, cancel = context.WithTimeout(context.Background(), 10*c.cfg.OpTimeout)
		err = c.l2.Purge(ctx)
		cancel()
		if err != nil {
			c.metrics.RecordCacheError(TierL2.String(), "purge")
			c.logger.Debug("L2 cache purge after recovery failed: %v", err)
			continue
		}

		c.degraded.Store(false)
		c.metrics.SetL2Degraded(false)
		c.logger.Info("L2 cache recovered")
		return
	}
}

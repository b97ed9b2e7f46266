package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/systmms/cfgstore/internal/audit"
	"github.com/systmms/cfgstore/internal/cache"
	"github.com/systmms/cfgstore/internal/config"
	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/keysource"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/metrics"
	"github.com/systmms/cfgstore/internal/rbac"
	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/internal/store/filestore"
	"github.com/systmms/cfgstore/internal/store/sqlstore"
	"github.com/systmms/cfgstore/internal/validation"
	"github.com/systmms/cfgstore/pkg/manager"
)

// closeTimeout bounds draining audit sinks on exit.
const closeTimeout = 5 * time.Second

// runtime is everything one command invocation needs, built from the
// loaded configuration.
type runtime struct {
	manager *manager.Manager
	cache   *cache.Tiered
	logger  *logging.Logger

	closers []func(context.Context) error
}

// openRuntime loads the configuration and wires the manager. The caller
// must Close the result.
func openRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	def := cfg.Definition

	rt := &runtime{logger: cfg.Logger}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if def.Logging.File != "" {
		logger, err := logging.NewWithOptions(logging.Options{
			Debug:   cfg.Debug || def.Logging.Debug,
			NoColor: cfg.NoColor,
			File:    def.Logging.File,
		})
		if err != nil {
			return nil, err
		}
		rt.logger = logger
		rt.onClose(func(context.Context) error { return logger.Close() })
	}

	m := metrics.New()
	if def.Metrics.Textfile != "" {
		metrics.InitMetrics()
		path := def.Metrics.Textfile
		rt.onClose(func(context.Context) error { return metrics.WriteTextfile(path) })
	}

	keys, err := openKeyring(ctx, def)
	if err != nil {
		return nil, err
	}
	rt.onClose(func(context.Context) error { keys.Close(); return nil })

	backend, err := openBackend(ctx, def)
	if err != nil {
		return nil, err
	}
	st := store.New(backend, keys, store.WithLogger(rt.logger), store.WithMetrics(m))
	rt.onClose(func(context.Context) error { return st.Close() })

	var l2 cache.Remote
	switch def.Cache.L2.Kind {
	case "memory":
		l2 = cache.NewMemoryRemote(def.Cache.L2.MaxBytes)
	case "redis":
		r, err := cache.DialRedis(def.RedisOptions())
		if err != nil {
			return nil, err
		}
		l2 = r
	}
	c, err := cache.New(def.CacheConfig(), l2, cache.WithLogger(rt.logger), cache.WithMetrics(m))
	if err != nil {
		if l2 != nil {
			_ = l2.Close()
		}
		return nil, err
	}
	rt.cache = c
	rt.onClose(func(context.Context) error { return c.Close() })

	validator, err := validation.New(def.ValidationConfig())
	if err != nil {
		return nil, err
	}

	opts := []manager.Option{
		manager.WithValidator(validator),
		manager.WithLogger(rt.logger),
		manager.WithMetrics(m),
	}

	if def.RBAC.PolicyFile != "" {
		policy, err := rbac.LoadPolicy(def.RBAC.PolicyFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, manager.WithAuthorizer(policy))
	}

	sinks, err := openSinks(def, rt.logger)
	if err != nil {
		return nil, err
	}
	if len(sinks) > 0 {
		d := audit.NewDispatcher(sinks,
			audit.WithLogger(rt.logger),
			audit.WithMetrics(m),
			audit.WithQueueSize(def.Audit.QueueSize),
			audit.WithSinkTimeout(def.Audit.SinkTimeout),
		)
		rt.onClose(d.Close)
		opts = append(opts, manager.WithAuditor(d))
	}

	rt.manager = manager.New(st, keys, c, opts...)
	return rt, nil
}

func (rt *runtime) onClose(fn func(context.Context) error) {
	rt.closers = append(rt.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (rt *runtime) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	var result *multierror.Error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	rt.closers = nil
	return result.ErrorOrNil()
}

func openBackend(ctx context.Context, def *config.Definition) (store.Backend, error) {
	switch def.Storage.Backend {
	case "memory":
		return store.NewMemoryBackend(), nil
	case "file":
		return filestore.New(def.Storage.Path)
	}
	dialect, err := sqlstore.LookupDialect(def.Storage.Backend)
	if err != nil {
		return nil, err
	}
	return sqlstore.Open(ctx, dialect, def.Storage.DSN)
}

// openKeyring loads the primary key and any previous keys still needed to
// read data written before a rotation.
func openKeyring(ctx context.Context, def *config.Definition) (*crypto.Keyring, error) {
	registry := keysource.NewRegistry()

	primary, err := loadKey(ctx, registry, def.Crypto.KeySource)
	if err != nil {
		return nil, err
	}

	retired := make([]*crypto.Engine, 0, len(def.Crypto.PreviousKeys))
	for i, ks := range def.Crypto.PreviousKeys {
		e, err := loadKey(ctx, registry, ks)
		if err != nil {
			primary.Close()
			for _, r := range retired {
				r.Close()
			}
			return nil, fmt.Errorf("crypto.previous_keys[%d]: %w", i, err)
		}
		retired = append(retired, e)
	}
	return crypto.NewKeyring(primary, retired...), nil
}

func loadKey(ctx context.Context, registry *keysource.Registry, ks config.KeySourceConfig) (*crypto.Engine, error) {
	src, err := registry.Create(ks.Type, ks.Config)
	if err != nil {
		return nil, err
	}
	return keysource.Load(ctx, src)
}

func openSinks(def *config.Definition, logger *logging.Logger) ([]audit.Sink, error) {
	sinks := make([]audit.Sink, 0, len(def.Audit.Sinks))
	fail := func(i int, err error) ([]audit.Sink, error) {
		for _, s := range sinks {
			_ = s.Close()
		}
		return nil, fmt.Errorf("audit.sinks[%d]: %w", i, err)
	}

	for i, sc := range def.Audit.Sinks {
		switch sc.Type {
		case "log":
			sinks = append(sinks, audit.NewLogSink(logger))
		case "file":
			s, err := audit.NewFileSink(sc.Path)
			if err != nil {
				return fail(i, err)
			}
			sinks = append(sinks, s)
		case "nats":
			s, err := audit.DialNATS(sc.URL, sc.SubjectPrefix, logger)
			if err != nil {
				return fail(i, err)
			}
			sinks = append(sinks, s)
		case "kafka":
			sinks = append(sinks, audit.NewKafkaSink(sc.Brokers, sc.Topic))
		default:
			return fail(i, fmt.Errorf("unknown sink type %q", sc.Type))
		}
	}
	return sinks, nil
}

// Package manager is the public entry point of cfgstore. It validates
// requests, authorizes them, coordinates the version store with the read
// cache, decrypts secrets for entitled callers and emits audit events.
//
// Writes invalidate the cache before they return, so a Get issued after a
// successful write observes that write or a later one.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/systmms/cfgstore/internal/audit"
	"github.com/systmms/cfgstore/internal/cache"
	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/metrics"
	"github.com/systmms/cfgstore/internal/rbac"
	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/internal/template"
	"github.com/systmms/cfgstore/internal/validation"
	"github.com/systmms/cfgstore/pkg/configstore"
	"golang.org/x/sync/singleflight"
)

// Authorizer decides whether a subject may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req configstore.AccessRequest) (bool, error)
}

// Auditor receives one event per successful write. Record must not block
// on delivery.
type Auditor interface {
	Record(e audit.Event)
}

// Manager is safe for concurrent use.
type Manager struct {
	store     *store.Store
	keys      *crypto.Keyring
	cache     *cache.Tiered
	validator *validation.Validator
	authz     Authorizer
	auditor   Auditor
	renderer  *template.Renderer
	logger    *logging.Logger
	metrics   *metrics.Metrics

	reads       singleflight.Group
	readTimeout time.Duration

	// sealMu is held shared by writes that encrypt and exclusively while
	// the primary key is swapped, so no blob sealed with the old key can
	// land after re-encryption has started.
	sealMu   sync.RWMutex
	rotateMu sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithAuthorizer sets the RBAC collaborator. The default allows everything.
func WithAuthorizer(a Authorizer) Option { return func(m *Manager) { m.authz = a } }

// WithAuditor sets the audit collaborator. The default drops events.
func WithAuditor(a Auditor) Option { return func(m *Manager) { m.auditor = a } }

// WithValidator replaces the default identifier and size checks.
func WithValidator(v *validation.Validator) Option { return func(m *Manager) { m.validator = v } }

func WithLogger(l *logging.Logger) Option   { return func(m *Manager) { m.logger = l } }
func WithMetrics(x *metrics.Metrics) Option { return func(m *Manager) { m.metrics = x } }

// WithReadTimeout bounds a shared store read on a cache miss. Concurrent
// readers of one tuple share that read, so it is not tied to any single
// caller's context.
func WithReadTimeout(d time.Duration) Option { return func(m *Manager) { m.readTimeout = d } }

// New wires a Manager. st must encrypt with keys.
func New(st *store.Store, keys *crypto.Keyring, c *cache.Tiered, opts ...Option) *Manager {
	m := &Manager{
		store:       st,
		keys:        keys,
		cache:       c,
		validator:   validation.Default(),
		authz:       rbac.AllowAll{},
		logger:      logging.Nop(),
		readTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.renderer = template.New(m.logger)
	return m
}

// GenerateKey returns a fresh random master key.
func GenerateKey() ([]byte, error) {
	return crypto.GenerateKey()
}

type callerKey struct{}

// WithCaller attaches the identity reads are authorized for.
func WithCaller(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, callerKey{}, subject)
}

// CallerFrom returns the identity attached by WithCaller, or "".
func CallerFrom(ctx context.Context) string {
	s, _ := ctx.Value(callerKey{}).(string)
	return s
}

func (m *Manager) allowed(ctx context.Context, subject string, action configstore.Action, res configstore.Resource, t configstore.Tuple) (bool, error) {
	ok, err := m.authz.Authorize(ctx, configstore.AccessRequest{
		Subject:  subject,
		Action:   action,
		Resource: res,
		Tuple:    t,
	})
	if err != nil {
		return false, fmt.Errorf("authorize %s %s: %w", action, res, err)
	}
	return ok, nil
}

func (m *Manager) require(ctx context.Context, subject string, action configstore.Action, res configstore.Resource, t configstore.Tuple) error {
	ok, err := m.allowed(ctx, subject, action, res, t)
	if err != nil {
		return err
	}
	if !ok {
		return denied(subject, action, res, t)
	}
	return nil
}

func denied(subject string, action configstore.Action, res configstore.Resource, t configstore.Tuple) error {
	return configstore.PermissionDeniedError{Subject: subject, Action: action, Resource: res, Tuple: t}
}

func resourceFor(secret bool) configstore.Resource {
	if secret {
		return configstore.ResourceSecret
	}
	return configstore.ResourceConfig
}

func (m *Manager) record(e audit.Event) {
	if m.auditor != nil {
		m.auditor.Record(e)
	}
}

// Package rbac decides whether a subject may perform an action on a
// namespace and environment.
package rbac

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/pkg/configstore"
	"gopkg.in/yaml.v3"
)

// AllowAll permits every request. It is the default when no policy is
// configured.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, configstore.AccessRequest) (bool, error) {
	return true, nil
}

// PolicyConfig is the YAML form of a policy.
//
//	default_role: reader
//	subjects:
//	  alice: [admin]
//	roles:
//	  admin:
//	    grants:
//	      - resources: ["*"]
//	        actions: ["*"]
//	  reader:
//	    grants:
//	      - resources: [config]
//	        actions: [read, list]
//	        namespaces: ["app/*"]
//	        environments: [development, staging]
type PolicyConfig struct {
	DefaultRole string                `yaml:"default_role,omitempty"`
	Subjects    map[string][]string   `yaml:"subjects,omitempty"`
	Roles       map[string]RoleConfig `yaml:"roles"`
}

// RoleConfig is a named set of grants.
type RoleConfig struct {
	Grants []GrantConfig `yaml:"grants"`
}

// GrantConfig allows every combination of its lists. An empty list or "*"
// matches anything. Namespaces are path patterns; a trailing "/**" matches
// a whole subtree.
type GrantConfig struct {
	Resources    []string `yaml:"resources,omitempty"`
	Actions      []string `yaml:"actions,omitempty"`
	Namespaces   []string `yaml:"namespaces,omitempty"`
	Environments []string `yaml:"environments,omitempty"`
}

type grant struct {
	resources    map[configstore.Resource]bool
	actions      map[configstore.Action]bool
	namespaces   []string
	environments map[configstore.Environment]bool
}

// Policy evaluates requests against compiled roles.
type Policy struct {
	defaultRole string
	subjects    map[string][]string
	roles       map[string][]grant
}

// LoadPolicy reads and compiles a YAML policy file.
func LoadPolicy(file string) (*Policy, error) {
	data, err := os.ReadFile(file) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, dserrors.ConfigError{
			Field:      "rbac.policy_file",
			Value:      file,
			Message:    "cannot read RBAC policy",
			Suggestion: "Check the path in your config file or remove rbac.policy_file to allow all callers",
		}
	}
	var cfg PolicyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, dserrors.ConfigError{
			Field:      "rbac.policy_file",
			Value:      file,
			Message:    fmt.Sprintf("invalid YAML: %v", err),
			Suggestion: "Fix the policy file syntax",
		}
	}
	return NewPolicy(cfg)
}

// NewPolicy validates cfg and compiles it.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	p := &Policy{
		defaultRole: cfg.DefaultRole,
		subjects:    cfg.Subjects,
		roles:       make(map[string][]grant, len(cfg.Roles)),
	}

	for name, role := range cfg.Roles {
		for i, gc := range role.Grants {
			g, err := compileGrant(gc)
			if err != nil {
				return nil, dserrors.ConfigError{
					Field:      fmt.Sprintf("rbac.roles.%s.grants[%d]", name, i),
					Message:    err.Error(),
					Suggestion: "Valid resources: config, secret, history. Valid actions: read, create, update, delete, list, rollback, export, rotate",
				}
			}
			p.roles[name] = append(p.roles[name], g)
		}
	}

	if p.defaultRole != "" {
		if _, ok := cfg.Roles[p.defaultRole]; !ok {
			return nil, dserrors.ConfigError{Field: "rbac.default_role", Value: p.defaultRole, Message: "role is not defined"}
		}
	}
	for subject, roles := range p.subjects {
		for _, r := range roles {
			if _, ok := cfg.Roles[r]; !ok {
				return nil, dserrors.ConfigError{
					Field:   fmt.Sprintf("rbac.subjects.%s", subject),
					Value:   r,
					Message: "role is not defined",
				}
			}
		}
	}
	return p, nil
}

func compileGrant(gc GrantConfig) (grant, error) {
	g := grant{}

	if !isWildcard(gc.Resources) {
		g.resources = make(map[configstore.Resource]bool)
		for _, r := range gc.Resources {
			res := configstore.Resource(strings.ToLower(r))
			if !knownResource(res) {
				return grant{}, fmt.Errorf("unknown resource %q", r)
			}
			g.resources[res] = true
		}
	}

	if !isWildcard(gc.Actions) {
		g.actions = make(map[configstore.Action]bool)
		for _, a := range gc.Actions {
			act := configstore.Action(strings.ToLower(a))
			if !knownAction(act) {
				return grant{}, fmt.Errorf("unknown action %q", a)
			}
			g.actions[act] = true
		}
	}

	if !isWildcard(gc.Namespaces) {
		for _, pattern := range gc.Namespaces {
			if _, err := path.Match(strings.TrimSuffix(pattern, "/**"), ""); err != nil {
				return grant{}, fmt.Errorf("bad namespace pattern %q: %w", pattern, err)
			}
		}
		g.namespaces = gc.Namespaces
	}

	if !isWildcard(gc.Environments) {
		g.environments = make(map[configstore.Environment]bool)
		for _, e := range gc.Environments {
			env, err := configstore.ParseEnvironment(e)
			if err != nil {
				return grant{}, err
			}
			g.environments[env] = true
		}
	}
	return g, nil
}

// Authorize reports whether any role of req.Subject grants the request.
// Subjects without roles fall back to the default role, if any.
func (p *Policy) Authorize(_ context.Context, req configstore.AccessRequest) (bool, error) {
	roles, ok := p.subjects[req.Subject]
	if !ok && p.defaultRole != "" {
		roles = []string{p.defaultRole}
	}
	for _, role := range roles {
		for _, g := range p.roles[role] {
			if g.allows(req) {
				return true, nil
			}
		}
	}
	return false, nil
}

func (g grant) allows(req configstore.AccessRequest) bool {
	if g.resources != nil && !g.resources[req.Resource] {
		return false
	}
	if g.actions != nil && !g.actions[req.Action] {
		return false
	}
	// Rotation spans every namespace, so only unrestricted grants cover it.
	if req.Tuple.Namespace == "" {
		return g.namespaces == nil && g.environments == nil
	}
	if g.environments != nil && !g.environments[req.Tuple.Environment] {
		return false
	}
	if g.namespaces != nil && !matchNamespace(g.namespaces, req.Tuple.Namespace) {
		return false
	}
	return true
}

func matchNamespace(patterns []string, ns string) bool {
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if ns == prefix || strings.HasPrefix(ns, prefix+"/") {
				return true
			}
			continue
		}
		if ok, _ := path.Match(pattern, ns); ok {
			return true
		}
	}
	return false
}

func isWildcard(list []string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == "*" {
			return true
		}
	}
	return false
}

func knownResource(r configstore.Resource) bool {
	for _, known := range configstore.Resources {
		if r == known {
			return true
		}
	}
	return false
}

func knownAction(a configstore.Action) bool {
	for _, known := range configstore.Actions {
		if a == known {
			return true
		}
	}
	return false
}

package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/pkg/configstore"
)

const testPolicy = `
default_role: reader
subjects:
  alice: [admin]
  bob: [llm-operator]
roles:
  admin:
    grants:
      - resources: ["*"]
        actions: ["*"]
  reader:
    grants:
      - resources: [config]
        actions: [read, list]
        environments: [development, staging]
  llm-operator:
    grants:
      - resources: [config, secret, history]
        actions: [read, create, update, rollback, list]
        namespaces: ["app/llm/**"]
      - resources: [config]
        actions: [read]
        namespaces: ["shared/*"]
        environments: [production]
`

func writePolicy(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte(content), 0600))
	return file
}

func req(subject string, action configstore.Action, resource configstore.Resource, ns string, env configstore.Environment) configstore.AccessRequest {
	return configstore.AccessRequest{
		Subject:  subject,
		Action:   action,
		Resource: resource,
		Tuple:    configstore.NewTuple(ns, "model", env),
	}
}

func TestAllowAll(t *testing.T) {
	t.Parallel()

	ok, err := AllowAll{}.Authorize(context.Background(), req("anyone", configstore.ActionDelete, configstore.ResourceSecret, "app", configstore.Production))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicyAuthorize(t *testing.T) {
	t.Parallel()

	p, err := LoadPolicy(writePolicy(t, testPolicy))
	require.NoError(t, err)

	tests := []struct {
		name    string
		request configstore.AccessRequest
		allowed bool
	}{
		{"admin anything", req("alice", configstore.ActionDelete, configstore.ResourceSecret, "billing", configstore.Production), true},
		{"operator own subtree", req("bob", configstore.ActionUpdate, configstore.ResourceSecret, "app/llm", configstore.Production), true},
		{"operator nested namespace", req("bob", configstore.ActionRollback, configstore.ResourceConfig, "app/llm/eu", configstore.Staging), true},
		{"operator sibling prefix", req("bob", configstore.ActionRead, configstore.ResourceConfig, "app/llmx", configstore.Staging), false},
		{"operator delete not granted", req("bob", configstore.ActionDelete, configstore.ResourceConfig, "app/llm", configstore.Staging), false},
		{"operator shared production read", req("bob", configstore.ActionRead, configstore.ResourceConfig, "shared/flags", configstore.Production), true},
		{"operator shared staging read", req("bob", configstore.ActionRead, configstore.ResourceConfig, "shared/flags", configstore.Staging), false},
		{"operator shared nested", req("bob", configstore.ActionRead, configstore.ResourceConfig, "shared/a/b", configstore.Production), false},
		{"default role read", req("carol", configstore.ActionRead, configstore.ResourceConfig, "app", configstore.Development), true},
		{"default role production", req("carol", configstore.ActionRead, configstore.ResourceConfig, "app", configstore.Production), false},
		{"default role secret", req("carol", configstore.ActionRead, configstore.ResourceSecret, "app", configstore.Development), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ok, err := p.Authorize(context.Background(), tt.request)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, ok)
		})
	}
}

func TestPolicyRotateNeedsUnrestrictedGrant(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(PolicyConfig{
		Subjects: map[string][]string{"ops": {"scoped"}, "root": {"global"}},
		Roles: map[string]RoleConfig{
			"scoped": {Grants: []GrantConfig{{Actions: []string{"rotate"}, Namespaces: []string{"app/**"}}}},
			"global": {Grants: []GrantConfig{{Actions: []string{"rotate"}}}},
		},
	})
	require.NoError(t, err)

	rotate := func(subject string) configstore.AccessRequest {
		return configstore.AccessRequest{Subject: subject, Action: configstore.ActionRotate, Resource: configstore.ResourceSecret}
	}

	ok, err := p.Authorize(context.Background(), rotate("ops"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = p.Authorize(context.Background(), rotate("root"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPolicyWithoutDefaultRoleDenies(t *testing.T) {
	t.Parallel()

	p, err := NewPolicy(PolicyConfig{
		Roles: map[string]RoleConfig{"admin": {Grants: []GrantConfig{{}}}},
	})
	require.NoError(t, err)

	ok, err := p.Authorize(context.Background(), req("stranger", configstore.ActionRead, configstore.ResourceConfig, "app", configstore.Base))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewPolicyRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		cfg   PolicyConfig
		field string
	}{
		{
			name:  "unknown action",
			cfg:   PolicyConfig{Roles: map[string]RoleConfig{"r": {Grants: []GrantConfig{{Actions: []string{"write"}}}}}},
			field: "rbac.roles.r.grants[0]",
		},
		{
			name:  "unknown resource",
			cfg:   PolicyConfig{Roles: map[string]RoleConfig{"r": {Grants: []GrantConfig{{Resources: []string{"tables"}}}}}},
			field: "rbac.roles.r.grants[0]",
		},
		{
			name:  "unknown environment",
			cfg:   PolicyConfig{Roles: map[string]RoleConfig{"r": {Grants: []GrantConfig{{Environments: []string{"qa"}}}}}},
			field: "rbac.roles.r.grants[0]",
		},
		{
			name:  "bad pattern",
			cfg:   PolicyConfig{Roles: map[string]RoleConfig{"r": {Grants: []GrantConfig{{Namespaces: []string{"app/["}}}}}},
			field: "rbac.roles.r.grants[0]",
		},
		{
			name:  "undefined default role",
			cfg:   PolicyConfig{DefaultRole: "ghost", Roles: map[string]RoleConfig{}},
			field: "rbac.default_role",
		},
		{
			name:  "subject with undefined role",
			cfg:   PolicyConfig{Subjects: map[string][]string{"alice": {"ghost"}}, Roles: map[string]RoleConfig{}},
			field: "rbac.subjects.alice",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewPolicy(tt.cfg)
			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestLoadPolicyErrors(t *testing.T) {
	t.Parallel()

	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "cannot read")

	_, err = LoadPolicy(writePolicy(t, "roles: [unclosed"))
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Message, "invalid YAML")
}

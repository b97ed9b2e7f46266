package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func TestSecretPolicyCheck(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     SecretPolicyConfig
		value   string
		wantErr string
	}{
		{"no rules", SecretPolicyConfig{}, "x", ""},
		{"too short", SecretPolicyConfig{MinLength: 12}, "short", "at least 12"},
		{"too long", SecretPolicyConfig{MaxLength: 4}, "toolong", "not exceed 4"},
		{"missing upper", SecretPolicyConfig{RequireUpper: true}, "lower123", "uppercase"},
		{"missing lower", SecretPolicyConfig{RequireLower: true}, "UPPER123", "lowercase"},
		{"missing digit", SecretPolicyConfig{RequireDigit: true}, "NoDigits", "digits"},
		{"missing symbol", SecretPolicyConfig{RequireSymbol: true}, "NoSymbols1", "symbols"},
		{
			name:  "complex enough",
			cfg:   SecretPolicyConfig{MinLength: 10, RequireUpper: true, RequireLower: true, RequireDigit: true, RequireSymbol: true},
			value: "Sup3r-Secret!",
		},
		{"forbidden", SecretPolicyConfig{ForbiddenPatterns: []string{`(?i)password`}}, "MyPassword1", "forbidden pattern"},
		{"required", SecretPolicyConfig{RequiredPatterns: []string{`^sk-`}}, "pk-123", "required pattern"},
		{"required matches", SecretPolicyConfig{RequiredPatterns: []string{`^sk-`}}, "sk-123", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p, err := NewSecretPolicy(tt.cfg)
			require.NoError(t, err)

			err = p.Check(tt.value)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.NotContains(t, err.Error(), tt.value)
			assert.Equal(t, configstore.PolicyViolation, validationKind(t, err))
		})
	}
}

func TestNewSecretPolicyErrors(t *testing.T) {
	t.Parallel()

	_, err := NewSecretPolicy(SecretPolicyConfig{MinLength: 10, MaxLength: 5})
	assert.Error(t, err)

	_, err = NewSecretPolicy(SecretPolicyConfig{ForbiddenPatterns: []string{"("}})
	assert.Error(t, err)

	_, err = NewSecretPolicy(SecretPolicyConfig{RequiredPatterns: []string{"["}})
	assert.Error(t, err)
}

func TestSecretPolicyOnlyForSecrets(t *testing.T) {
	t.Parallel()

	v, err := New(Config{SecretPolicy: &SecretPolicyConfig{MinLength: 20}})
	require.NoError(t, err)
	tuple := configstore.NewTuple("app", "token", configstore.Production)

	assert.NoError(t, v.Value(tuple, configstore.StringValue("short"), false))
	err = v.Value(tuple, configstore.StringValue("short"), true)
	assert.Equal(t, configstore.PolicyViolation, validationKind(t, err))
}

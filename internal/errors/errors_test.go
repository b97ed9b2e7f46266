package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/keysource"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/pkg/configstore"
)

var tuple = configstore.NewTuple("app/llm", "model", configstore.Production)

// TestUserErrorFormatting verifies UserError displays properly
func TestUserErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.UserError{
		Message:    "Operation failed",
		Details:    "Connection timeout",
		Suggestion: "Check network connectivity",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "Operation failed")
	assert.Contains(t, errMsg, "Connection timeout")
	assert.Contains(t, errMsg, "Check network connectivity")
	assert.Contains(t, errMsg, "💡")
}

// TestConfigErrorFormatting verifies ConfigError displays with context
func TestConfigErrorFormatting(t *testing.T) {
	t.Parallel()

	err := errors.ConfigError{
		Field:      "cache.l1_ttl",
		Value:      "10m",
		Message:    "l1_ttl must not exceed l2_ttl",
		Suggestion: "Lower cache.l1_ttl",
	}

	errMsg := err.Error()

	assert.Contains(t, errMsg, "cache.l1_ttl")
	assert.Contains(t, errMsg, "10m")
	assert.Contains(t, errMsg, "must not exceed")
	assert.Contains(t, errMsg, "Lower cache.l1_ttl")
}

func TestFromDomain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantMsg    string
		wantSugg   string
		wantTarget error
	}{
		{
			name:       "invalid identifier",
			err:        configstore.ValidationError{Kind: configstore.InvalidIdentifier, Field: "key", Message: "bad"},
			wantMsg:    "key",
			wantSugg:   "1-200 characters",
			wantTarget: configstore.ErrValidation,
		},
		{
			name:       "oversized",
			err:        configstore.ValidationError{Kind: configstore.Oversized, Field: "value", Message: "too big"},
			wantSugg:   "max_value_bytes",
			wantTarget: configstore.ErrValidation,
		},
		{
			name:       "missing tuple",
			err:        configstore.NotFoundError{Tuple: tuple},
			wantSugg:   "cfgstore list app/llm --env production",
			wantTarget: configstore.ErrNotFound,
		},
		{
			name:       "missing version",
			err:        fmt.Errorf("rollback: %w", configstore.NotFoundError{Tuple: tuple, Version: 7}),
			wantSugg:   "cfgstore history app/llm model",
			wantTarget: configstore.ErrNotFound,
		},
		{
			name:       "conflict",
			err:        configstore.VersionConflictError{Tuple: tuple, Expected: 2, Actual: 3},
			wantSugg:   "--expect-version 3",
			wantTarget: configstore.ErrVersionConflict,
		},
		{
			name:       "wrong key",
			err:        configstore.DecryptionError{Kind: configstore.AuthenticationFailed, Message: "message authentication failed"},
			wantMsg:    "Cannot decrypt",
			wantSugg:   "master key does not match",
			wantTarget: configstore.ErrAuthenticationFailed,
		},
		{
			name:       "malformed",
			err:        configstore.DecryptionError{Kind: configstore.Malformed, Message: "too short"},
			wantSugg:   "corrupt",
			wantTarget: configstore.ErrMalformed,
		},
		{
			name:       "denied",
			err:        configstore.PermissionDeniedError{Subject: "bob", Action: configstore.ActionUpdate, Resource: configstore.ResourceSecret, Tuple: tuple},
			wantMsg:    "bob may not update secret",
			wantSugg:   "RBAC policy",
			wantTarget: configstore.ErrPermissionDenied,
		},
		{
			name:       "storage",
			err:        configstore.StorageError{Op: "commit", Err: fmt.Errorf("disk full")},
			wantMsg:    "Storage commit failed",
			wantSugg:   "storage.backend",
			wantTarget: configstore.ErrStorage,
		},
		{
			name:       "key source",
			err:        &keysource.SourceError{Source: "env", Op: "fetch", Err: fmt.Errorf("%w: CFGSTORE_KEY is not set", keysource.ErrNotFound)},
			wantMsg:    "Cannot load master key from env",
			wantSugg:   "cfgstore keygen",
			wantTarget: keysource.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mapped := errors.FromDomain(tt.err)
			var ue errors.UserError
			require.ErrorAs(t, mapped, &ue)
			if tt.wantMsg != "" {
				assert.Contains(t, ue.Error(), tt.wantMsg)
			}
			assert.Contains(t, ue.Suggestion, tt.wantSugg)
			assert.ErrorIs(t, mapped, tt.wantTarget, "mapping keeps the chain")
		})
	}
}

func TestFromDomain_PassesThroughOtherErrors(t *testing.T) {
	t.Parallel()

	plain := fmt.Errorf("something else")
	assert.Equal(t, plain, errors.FromDomain(plain))
	assert.Nil(t, errors.FromDomain(nil))

	user := errors.UserError{Message: "already friendly"}
	assert.Equal(t, user, errors.FromDomain(user))
}

func TestKeySourceSuggestions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		source string
		err    error
		want   string
	}{
		{"aws.secretsmanager", fmt.Errorf("failed to retrieve credentials"), "aws configure"},
		{"aws.ssm", fmt.Errorf("AccessDeniedException: not authorized"), "ssm:GetParameter"},
		{"gcp.secretmanager", fmt.Errorf("rpc error: code = PermissionDenied"), "secretAccessor"},
		{"azure.keyvault", fmt.Errorf("DefaultAzureCredential: failed to acquire a token"), "az login"},
		{"akeyless", fmt.Errorf("api key authentication failed"), "access_id"},
		{"file", fmt.Errorf("%w: /etc/cfgstore/key", keysource.ErrNotFound), "keygen --store"},
		{"env", fmt.Errorf("invalid key: decoded key is 16 bytes"), "32 random bytes"},
		{"keyring", fmt.Errorf("dial tcp: connection refused"), "Unable to connect"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			t.Parallel()
			ue := errors.KeySourceError(tt.source, tt.err)
			assert.Contains(t, ue.Suggestion, tt.want)
		})
	}
}

// TestSimplifyError verifies error simplification for common cases
func TestSimplifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		inputError    error
		expectedType  string
		expectedInMsg string
	}{
		{
			name:          "yaml_error",
			inputError:    fmt.Errorf("yaml: line 5: mapping values are not allowed"),
			expectedType:  "ConfigError",
			expectedInMsg: "Invalid YAML",
		},
		{
			name:          "json_error",
			inputError:    fmt.Errorf("json: invalid character"),
			expectedType:  "ConfigError",
			expectedInMsg: "Invalid JSON",
		},
		{
			name:          "permission_denied",
			inputError:    fmt.Errorf("open /var/lib/cfgstore: permission denied"),
			expectedType:  "UserError",
			expectedInMsg: "Permission denied",
		},
		{
			name:          "file_not_found",
			inputError:    fmt.Errorf("no such file or directory"),
			expectedType:  "UserError",
			expectedInMsg: "not found",
		},
		{
			name:          "domain_error",
			inputError:    configstore.NotFoundError{Tuple: tuple},
			expectedType:  "UserError",
			expectedInMsg: "not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			simplified := errors.SimplifyError(tt.inputError)

			errMsg := simplified.Error()
			assert.Contains(t, errMsg, tt.expectedInMsg)

			switch tt.expectedType {
			case "ConfigError":
				_, ok := simplified.(errors.ConfigError)
				assert.True(t, ok, "Should be ConfigError type")
			case "UserError":
				_, ok := simplified.(errors.UserError)
				assert.True(t, ok, "Should be UserError type")
			}
		})
	}
}

// TestUserErrorUnwrap verifies error unwrapping works correctly
func TestUserErrorUnwrap(t *testing.T) {
	t.Parallel()

	baseErr := stderrors.New("base error")
	userErr := errors.UserError{
		Message: "wrapped error",
		Err:     baseErr,
	}

	assert.Equal(t, baseErr, userErr.Unwrap())
	assert.ErrorIs(t, userErr, baseErr)
}

// TestErrorDoesNotLeakSecrets verifies redacted values stay redacted
// through the mapping.
func TestErrorDoesNotLeakSecrets(t *testing.T) {
	t.Parallel()

	secretValue := "sk-live-abc123"
	baseErr := fmt.Errorf("auth failed with key %s", logging.Secret(secretValue))
	mapped := errors.KeySourceError("akeyless", baseErr)

	assert.Contains(t, mapped.Error(), "[REDACTED]")
	assert.NotContains(t, mapped.Error(), secretValue)
}

// TestNilErrorHandling verifies nil errors are handled gracefully
func TestNilErrorHandling(t *testing.T) {
	t.Parallel()

	assert.Nil(t, errors.SimplifyError(nil))
}

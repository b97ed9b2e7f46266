package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/systmms/cfgstore/internal/keysource"
	"github.com/systmms/cfgstore/pkg/configstore"
)

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// FromDomain turns store, crypto and key source errors into UserErrors
// with a suggestion. Other errors are returned unchanged.
func FromDomain(err error) error {
	if ue, ok := toUserError(err); ok {
		return ue
	}
	return err
}

func toUserError(err error) (UserError, bool) {
	if err == nil {
		return UserError{}, false
	}

	var (
		userErr     UserError
		configErr   ConfigError
		validation  configstore.ValidationError
		notFound    configstore.NotFoundError
		conflict    configstore.VersionConflictError
		decryption  configstore.DecryptionError
		denied      configstore.PermissionDeniedError
		storage     configstore.StorageError
		sourceError *keysource.SourceError
	)

	switch {
	case errors.As(err, &userErr), errors.As(err, &configErr):
		return UserError{}, false

	case errors.As(err, &validation):
		return UserError{
			Message:    validation.Error(),
			Suggestion: validationSuggestion(validation),
			Err:        err,
		}, true

	case errors.As(err, &notFound):
		suggestion := fmt.Sprintf("List existing keys with 'cfgstore list %s --env %s'", notFound.Tuple.Namespace, notFound.Tuple.Environment)
		if notFound.Version > 0 {
			suggestion = fmt.Sprintf("See available versions with 'cfgstore history %s %s --env %s'", notFound.Tuple.Namespace, notFound.Tuple.Key, notFound.Tuple.Environment)
		}
		return UserError{Message: notFound.Error(), Suggestion: suggestion, Err: err}, true

	case errors.As(err, &conflict):
		return UserError{
			Message:    conflict.Error(),
			Suggestion: fmt.Sprintf("Another writer got there first. Re-read the entry and retry with --expect-version %d", conflict.Actual),
			Err:        err,
		}, true

	case errors.As(err, &decryption):
		suggestion := "The stored data is corrupt or was not written by cfgstore"
		if decryption.Kind == configstore.AuthenticationFailed {
			suggestion = "The master key does not match this data. Check CFGSTORE_KEY or crypto.key_source, and crypto.previous_keys after a rotation"
		}
		return UserError{Message: "Cannot decrypt secret", Details: decryption.Error(), Suggestion: suggestion, Err: err}, true

	case errors.As(err, &denied):
		return UserError{
			Message:    "Permission denied: " + denied.Error(),
			Suggestion: "Ask an administrator to grant the role in the RBAC policy, or pass --user",
			Err:        err,
		}, true

	case errors.As(err, &storage):
		return UserError{
			Message:    fmt.Sprintf("Storage %s failed", storage.Op),
			Details:    storage.Err.Error(),
			Suggestion: "Check storage.backend and storage.path or storage.dsn in your config, and that the backend is reachable",
			Err:        err,
		}, true

	case errors.As(err, &sourceError):
		return KeySourceError(sourceError.Source, err), true

	case errors.Is(err, configstore.ErrEncryption):
		return UserError{Message: "Encryption failed", Details: err.Error(), Err: err}, true
	}
	return UserError{}, false
}

func validationSuggestion(v configstore.ValidationError) string {
	switch v.Kind {
	case configstore.InvalidIdentifier:
		return "Names may use letters, digits, '_', '-', '.', '/' and be 1-200 characters long"
	case configstore.Oversized:
		return "Store large payloads elsewhere or raise validation.max_value_bytes"
	case configstore.SchemaViolation:
		return "Fix the document so it matches the namespace schema in validation.schemas"
	case configstore.TypeMismatch:
		return "Pass --type to match the stored value type"
	case configstore.PolicyViolation:
		return "Choose a secret that satisfies validation.secret_policy"
	default:
		return ""
	}
}

// KeySourceError enhances key source errors with context
func KeySourceError(source string, err error) UserError {
	return UserError{
		Message:    fmt.Sprintf("Cannot load master key from %s", source),
		Details:    err.Error(),
		Suggestion: getKeySourceSuggestion(source, err),
		Err:        err,
	}
}

// getKeySourceSuggestion returns helpful suggestions based on source and error
func getKeySourceSuggestion(source string, err error) string {
	errStr := err.Error()

	if errors.Is(err, keysource.ErrNotFound) {
		switch source {
		case "env":
			return "Generate a key with 'cfgstore keygen' and export it as CFGSTORE_KEY"
		case "file":
			return "Create the key file with 'cfgstore keygen --store'"
		case "keyring":
			return "Store a key in the OS keyring with 'cfgstore keygen --store'"
		case "passphrase":
			return "Export the passphrase in the configured passphrase_env variable"
		}
	}

	switch {
	case strings.HasPrefix(source, "aws"):
		if strings.Contains(errStr, "credentials") || strings.Contains(errStr, "authorization") {
			return "Configure AWS credentials: 'aws configure' or set AWS_PROFILE"
		}
		if strings.Contains(errStr, "AccessDenied") {
			return "Check IAM permissions for secretsmanager:GetSecretValue or ssm:GetParameter"
		}
		if strings.Contains(errStr, "ThrottlingException") {
			return "AWS rate limit exceeded. Wait a moment and try again"
		}
	case strings.HasPrefix(source, "gcp"):
		if strings.Contains(errStr, "PermissionDenied") {
			return "Grant roles/secretmanager.secretAccessor to the calling identity"
		}
		if strings.Contains(errStr, "credentials") {
			return "Run 'gcloud auth application-default login' or set credentials_file"
		}
	case strings.HasPrefix(source, "azure"):
		if strings.Contains(errStr, "Forbidden") || strings.Contains(errStr, "403") {
			return "Grant the identity 'get' permission on secrets in the Key Vault access policy"
		}
		if strings.Contains(errStr, "DefaultAzureCredential") {
			return "Run 'az login' or set AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET"
		}
	case source == "akeyless":
		if strings.Contains(errStr, "auth") {
			return "Check access_id and the access key environment variable"
		}
	}

	if strings.Contains(errStr, "invalid key") {
		return "Keys are 32 random bytes, base64 or hex encoded. Generate one with 'cfgstore keygen'"
	}
	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}
	if strings.Contains(errStr, "connection refused") || strings.Contains(errStr, "no such host") {
		return "Unable to connect. Check your network and key source configuration"
	}
	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	if ue, ok := toUserError(err); ok {
		return ue
	}

	// Unwrap to get the root cause
	rootErr := err
	for {
		unwrapped := errors.Unwrap(rootErr)
		if unwrapped == nil {
			break
		}
		rootErr = unwrapped
	}

	// Already a user-friendly error
	if _, ok := err.(UserError); ok {
		return err
	}
	if _, ok := err.(ConfigError); ok {
		return err
	}

	// Simplify common technical errors
	errStr := rootErr.Error()

	if strings.Contains(errStr, "yaml:") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	if strings.Contains(errStr, "json:") || strings.Contains(errStr, "invalid character") {
		return ConfigError{
			Message:    "Invalid JSON format",
			Suggestion: "Validate your JSON at https://jsonlint.com/",
		}
	}

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Return original error if we can't simplify it
	return err
}

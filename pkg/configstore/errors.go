package configstore

import (
	"errors"
	"fmt"
)

// Sentinels usable with errors.Is against the typed errors below.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrVersionConflict      = errors.New("version conflict")
	ErrEncryption           = errors.New("encryption failed")
	ErrDecryption           = errors.New("decryption failed")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrMalformed            = errors.New("malformed ciphertext")
	ErrStorage              = errors.New("storage failure")
	ErrCache                = errors.New("cache failure")
	ErrPermissionDenied     = errors.New("permission denied")
)

// ValidationKind classifies a ValidationError.
type ValidationKind int

const (
	InvalidIdentifier ValidationKind = iota + 1
	TypeMismatch
	Oversized
	SchemaViolation
	PolicyViolation
)

func (k ValidationKind) String() string {
	switch k {
	case InvalidIdentifier:
		return "invalid identifier"
	case TypeMismatch:
		return "type mismatch"
	case Oversized:
		return "oversized value"
	case SchemaViolation:
		return "schema violation"
	case PolicyViolation:
		return "secret policy violation"
	}
	return "validation"
}

// ValidationError is returned for caller mistakes. It is never retried.
type ValidationError struct {
	Kind    ValidationKind
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// NotFoundError reports a missing tuple, or a missing version when
// Version is non-zero.
type NotFoundError struct {
	Tuple   Tuple
	Version int64
}

func (e NotFoundError) Error() string {
	if e.Version > 0 {
		return fmt.Sprintf("version %d of %s not found", e.Version, e.Tuple)
	}
	return fmt.Sprintf("%s not found", e.Tuple)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// VersionConflictError is returned when an expected-version precondition
// does not match the current version.
type VersionConflictError struct {
	Tuple    Tuple
	Expected int64
	Actual   int64
}

func (e VersionConflictError) Error() string {
	return fmt.Sprintf("%s: expected version %d, current is %d", e.Tuple, e.Expected, e.Actual)
}

func (e VersionConflictError) Is(target error) bool { return target == ErrVersionConflict }

// EncryptionError wraps an RNG or key availability fault.
type EncryptionError struct {
	Err error
}

func (e EncryptionError) Error() string { return "encrypt: " + e.Err.Error() }
func (e EncryptionError) Unwrap() error { return e.Err }
func (e EncryptionError) Is(target error) bool {
	return target == ErrEncryption
}

// DecryptionKind distinguishes tampering from structurally broken input.
type DecryptionKind int

const (
	AuthenticationFailed DecryptionKind = iota + 1
	Malformed
)

func (k DecryptionKind) String() string {
	if k == Malformed {
		return "malformed"
	}
	return "authentication failed"
}

// DecryptionError is never treated as an absent value.
type DecryptionError struct {
	Kind    DecryptionKind
	Message string
}

func (e DecryptionError) Error() string {
	if e.Message == "" {
		return "decrypt: " + e.Kind.String()
	}
	return "decrypt: " + e.Kind.String() + ": " + e.Message
}

func (e DecryptionError) Is(target error) bool {
	switch target {
	case ErrDecryption:
		return true
	case ErrAuthenticationFailed:
		return e.Kind == AuthenticationFailed
	case ErrMalformed:
		return e.Kind == Malformed
	}
	return false
}

// StorageError wraps a durable backend failure.
type StorageError struct {
	Op  string
	Err error
}

func (e StorageError) Error() string        { return fmt.Sprintf("storage %s: %v", e.Op, e.Err) }
func (e StorageError) Unwrap() error        { return e.Err }
func (e StorageError) Is(target error) bool { return target == ErrStorage }

// CacheError wraps a cache tier failure. The cache logs these and keeps
// serving; they never reach Manager callers.
type CacheError struct {
	Tier string
	Op   string
	Err  error
}

func (e CacheError) Error() string        { return fmt.Sprintf("cache %s %s: %v", e.Tier, e.Op, e.Err) }
func (e CacheError) Unwrap() error        { return e.Err }
func (e CacheError) Is(target error) bool { return target == ErrCache }

// PermissionDeniedError is returned when the authorizer rejects a request.
type PermissionDeniedError struct {
	Subject  string
	Action   Action
	Resource Resource
	Tuple    Tuple
}

func (e PermissionDeniedError) Error() string {
	target := e.Tuple.String()
	switch {
	case e.Tuple.Namespace == "":
		target = "all entries"
	case e.Tuple.Key == "":
		target = e.Tuple.Namespace + "@" + e.Tuple.Environment.String()
	}
	return fmt.Sprintf("%s may not %s %s on %s", e.Subject, e.Action, e.Resource, target)
}

func (e PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }

// IsNotFound reports whether err is or wraps a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Package validation checks identifiers, values and secrets before any
// storage or cache I/O happens.
package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/systmms/cfgstore/pkg/configstore"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultMaxValueBytes bounds a single value when no limit is configured.
const DefaultMaxValueBytes = 1 << 20

var identifierPattern = regexp.MustCompile(`^[a-zA-Z0-9_\-./]{1,200}$`)

// Config selects the checks a Validator applies.
type Config struct {
	// MaxValueBytes bounds the rendered size of a value. Zero means
	// DefaultMaxValueBytes.
	MaxValueBytes int

	// Schemas maps a namespace to a JSON schema file. Document values
	// written to that namespace, or to any namespace below it, must match.
	Schemas map[string]string

	// SecretPolicy applies to secret values only.
	SecretPolicy *SecretPolicyConfig
}

// Validator enforces Config.
type Validator struct {
	maxValueBytes int
	schemas       map[string]*gojsonschema.Schema
	secrets       *SecretPolicy
}

// New compiles cfg. Schema files are loaded eagerly so a broken schema
// fails at startup instead of on the first write.
func New(cfg Config) (*Validator, error) {
	v := &Validator{
		maxValueBytes: cfg.MaxValueBytes,
		schemas:       make(map[string]*gojsonschema.Schema, len(cfg.Schemas)),
	}
	if v.maxValueBytes <= 0 {
		v.maxValueBytes = DefaultMaxValueBytes
	}

	for ns, file := range cfg.Schemas {
		if err := Namespace(ns); err != nil {
			return nil, fmt.Errorf("schema for %q: %w", ns, err)
		}
		abs, err := filepath.Abs(file)
		if err != nil {
			return nil, fmt.Errorf("schema for %q: %w", ns, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
		if err != nil {
			return nil, fmt.Errorf("load schema %s for %q: %w", file, ns, err)
		}
		v.schemas[ns] = schema
	}

	if cfg.SecretPolicy != nil {
		p, err := NewSecretPolicy(*cfg.SecretPolicy)
		if err != nil {
			return nil, err
		}
		v.secrets = p
	}
	return v, nil
}

// Default returns a Validator with only the built-in limits.
func Default() *Validator {
	return &Validator{maxValueBytes: DefaultMaxValueBytes, schemas: map[string]*gojsonschema.Schema{}}
}

// Identifier checks a key or namespace segment set against the allowed
// character class and length.
func Identifier(field, s string) error {
	if !identifierPattern.MatchString(s) {
		return configstore.ValidationError{
			Kind:    configstore.InvalidIdentifier,
			Field:   field,
			Message: fmt.Sprintf("%q must be 1-200 characters of letters, digits, '_', '-', '.', '/'", truncate(s, 40)),
		}
	}
	return nil
}

// Namespace checks a hierarchical namespace. Segments between '/' must be
// non-empty.
func Namespace(ns string) error {
	if err := Identifier("namespace", ns); err != nil {
		return err
	}
	for _, seg := range strings.Split(ns, "/") {
		if seg == "" {
			return configstore.ValidationError{
				Kind:    configstore.InvalidIdentifier,
				Field:   "namespace",
				Message: fmt.Sprintf("%q has an empty segment", ns),
			}
		}
	}
	return nil
}

// Tuple checks all three parts of an address.
func Tuple(t configstore.Tuple) error {
	if err := Namespace(t.Namespace); err != nil {
		return err
	}
	if err := Identifier("key", t.Key); err != nil {
		return err
	}
	if !t.Environment.Valid() {
		return configstore.ValidationError{
			Kind:    configstore.InvalidIdentifier,
			Field:   "environment",
			Message: fmt.Sprintf("unknown environment %d", int(t.Environment)),
		}
	}
	return nil
}

// Value checks a value about to be written to t.
func (v *Validator) Value(t configstore.Tuple, val configstore.Value, secret bool) error {
	if val.IsZero() {
		return configstore.ValidationError{Kind: configstore.TypeMismatch, Field: "value", Message: "value is empty"}
	}
	if !val.IsFinite() {
		return configstore.ValidationError{Kind: configstore.TypeMismatch, Field: "value", Message: "float must be finite"}
	}

	rendered := val.String()
	if len(rendered) > v.maxValueBytes {
		return configstore.ValidationError{
			Kind:    configstore.Oversized,
			Field:   "value",
			Message: fmt.Sprintf("%d bytes exceeds the %d byte limit", len(rendered), v.maxValueBytes),
		}
	}

	if val.Kind() == configstore.KindDocument {
		if err := v.checkSchema(t.Namespace, rendered); err != nil {
			return err
		}
	}

	if secret && v.secrets != nil {
		return v.secrets.Check(rendered)
	}
	return nil
}

// SchemaFor returns the namespace whose schema governs ns, walking up the
// hierarchy. ok is false when no schema applies.
func (v *Validator) SchemaFor(ns string) (owner string, ok bool) {
	for {
		if _, found := v.schemas[ns]; found {
			return ns, true
		}
		i := strings.LastIndex(ns, "/")
		if i < 0 {
			return "", false
		}
		ns = ns[:i]
	}
}

func (v *Validator) checkSchema(ns, doc string) error {
	owner, ok := v.SchemaFor(ns)
	if !ok {
		return nil
	}
	result, err := v.schemas[owner].Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return configstore.ValidationError{Kind: configstore.SchemaViolation, Field: "value", Message: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	sort.Strings(messages)
	return configstore.ValidationError{
		Kind:    configstore.SchemaViolation,
		Field:   "value",
		Message: fmt.Sprintf("does not match schema for %s: %s", owner, strings.Join(messages, "; ")),
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

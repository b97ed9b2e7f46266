// Package config loads cfgstore.yaml.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/systmms/cfgstore/internal/cache"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/logging"
	"github.com/systmms/cfgstore/internal/store/filestore"
	"github.com/systmms/cfgstore/internal/validation"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "cfgstore.yaml"

//go:embed schema.json
var schemaJSON []byte

// Config holds the runtime configuration
type Config struct {
	Path   string
	Logger *logging.Logger

	// Explicit makes a missing file an error instead of selecting defaults.
	Explicit bool

	// User is the identity writes are attributed to and reads are
	// authorized for.
	User    string
	Debug   bool
	NoColor bool

	Definition *Definition
}

// Definition represents the cfgstore.yaml structure
type Definition struct {
	Version    int              `yaml:"version"`
	Storage    StorageConfig    `yaml:"storage"`
	Cache      CacheConfig      `yaml:"cache"`
	Crypto     CryptoConfig     `yaml:"crypto"`
	RBAC       RBACConfig       `yaml:"rbac"`
	Audit      AuditConfig      `yaml:"audit"`
	Validation ValidationConfig `yaml:"validation"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// StorageConfig selects the durable backend.
type StorageConfig struct {
	// Backend is one of memory, file, postgres, mysql, sqlite.
	Backend string `yaml:"backend"`
	// Path is the root directory of the file backend.
	Path string `yaml:"path,omitempty"`
	// DSN is the connection string of the SQL backends.
	DSN string `yaml:"dsn,omitempty"`
}

// CacheConfig sizes the read cache.
type CacheConfig struct {
	L1Capacity uint64        `yaml:"l1_capacity"`
	L1TTL      time.Duration `yaml:"l1_ttl"`
	L2         L2Config      `yaml:"l2"`
}

// L2Config selects and tunes the shared cache tier.
type L2Config struct {
	// Kind is one of none, memory, redis.
	Kind                string        `yaml:"kind"`
	URL                 string        `yaml:"url,omitempty"`
	Addrs               []string      `yaml:"addrs,omitempty"`
	Prefix              string        `yaml:"prefix,omitempty"`
	TTL                 time.Duration `yaml:"ttl"`
	MaxBytes            int           `yaml:"max_bytes,omitempty"`
	MaxRecordBytes      int           `yaml:"max_record_bytes,omitempty"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	OpTimeout           time.Duration `yaml:"op_timeout"`
	FloorTTL            time.Duration `yaml:"floor_ttl,omitempty"`
	TLS                 TLSConfig     `yaml:"tls,omitempty"`
}

// TLSConfig holds client TLS material for Redis.
type TLSConfig struct {
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	ServerName         string `yaml:"server_name,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// CryptoConfig names where the master key comes from. PreviousKeys are
// retired keys still able to decrypt data written before a rotation.
type CryptoConfig struct {
	KeySource    KeySourceConfig   `yaml:"key_source"`
	PreviousKeys []KeySourceConfig `yaml:"previous_keys,omitempty"`
}

// KeySourceConfig holds key source-specific configuration
type KeySourceConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// RBACConfig points at the role policy. Without one every caller is
// allowed.
type RBACConfig struct {
	PolicyFile string `yaml:"policy_file,omitempty"`
}

// AuditConfig lists the audit sinks.
type AuditConfig struct {
	QueueSize   int           `yaml:"queue_size,omitempty"`
	SinkTimeout time.Duration `yaml:"sink_timeout,omitempty"`
	Sinks       []SinkConfig  `yaml:"sinks,omitempty"`
}

// SinkConfig configures one audit sink. Which fields apply depends on Type.
type SinkConfig struct {
	// Type is one of log, file, nats, kafka.
	Type string `yaml:"type"`

	Path string `yaml:"path,omitempty"`

	URL           string `yaml:"url,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`

	Brokers []string `yaml:"brokers,omitempty"`
	Topic   string   `yaml:"topic,omitempty"`
}

// ValidationConfig bounds values and attaches schemas to namespaces.
type ValidationConfig struct {
	MaxValueBytes int                            `yaml:"max_value_bytes,omitempty"`
	Schemas       map[string]string              `yaml:"schemas,omitempty"`
	SecretPolicy  *validation.SecretPolicyConfig `yaml:"secret_policy,omitempty"`
}

// LoggingConfig adds a JSON log file next to console output.
type LoggingConfig struct {
	File  string `yaml:"file,omitempty"`
	Debug bool   `yaml:"debug,omitempty"`
}

// MetricsConfig enables the node-exporter textfile.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"`
}

// Default returns the configuration used when no file exists: a file
// backend in the user data directory, an L1-only cache and the
// CFGSTORE_KEY environment variable as key source.
func Default() *Definition {
	cc := cache.DefaultConfig()
	return &Definition{
		Version: 1,
		Storage: StorageConfig{Backend: "file", Path: filestore.DefaultStorageDir()},
		Cache: CacheConfig{
			L1Capacity: cc.L1Capacity,
			L1TTL:      cc.L1TTL,
			L2: L2Config{
				Kind:                "none",
				TTL:                 cc.L2TTL,
				HealthCheckInterval: cc.HealthCheckInterval,
				OpTimeout:           cc.OpTimeout,
				MaxBytes:            64 << 20,
			},
		},
		Crypto: CryptoConfig{KeySource: KeySourceConfig{Type: "env"}},
		Audit: AuditConfig{
			QueueSize:   1024,
			SinkTimeout: 5 * time.Second,
		},
		Validation: ValidationConfig{MaxValueBytes: validation.DefaultMaxValueBytes},
	}
}

// Load reads and parses the cfgstore.yaml file
func (c *Config) Load() error {
	if c.Path == "" {
		c.Path = DefaultPath
	}

	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) && !c.Explicit {
			if c.Logger != nil {
				c.Logger.Debug("no config at %s, using defaults", c.Path)
			}
			c.Definition = Default()
			return nil
		}
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Check the --config path or omit it to use defaults",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}
	def.resolvePaths(filepath.Dir(c.Path))
	c.Definition = def
	return nil
}

// Parse validates data against the embedded schema and decodes it over
// the defaults. Relative paths are left as written.
func Parse(data []byte) (*Definition, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, dserrors.ConfigError{
			Message:    fmt.Sprintf("invalid YAML syntax in configuration file: %v", err),
			Suggestion: "Check for indentation errors, missing quotes, or invalid characters. Use a YAML validator",
		}
	}
	if raw == nil {
		return Default(), nil
	}
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	def := Default()
	if err := yaml.Unmarshal(data, def); err != nil {
		return nil, dserrors.ConfigError{
			Message:    fmt.Sprintf("cannot decode configuration: %v", err),
			Suggestion: "Durations are written like 30s, 5m or 1h",
		}
	}
	if def.Version == 0 {
		def.Version = 1
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return def, nil
}

func validateSchema(raw interface{}) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return dserrors.ConfigError{
			Message:    fmt.Sprintf("configuration cannot be represented as JSON: %v", err),
			Suggestion: "Use string keys only",
		}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	var messages []string
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return dserrors.ConfigError{
		Field:      first.Field(),
		Value:      first.Value(),
		Message:    strings.Join(messages, "; "),
		Suggestion: "See the configuration reference for allowed fields and values",
	}
}

// Validate checks constraints the schema cannot express.
func (d *Definition) Validate() error {
	switch d.Storage.Backend {
	case "postgres", "mysql", "sqlite":
		if d.Storage.DSN == "" {
			return dserrors.ConfigError{
				Field:      "storage.dsn",
				Message:    fmt.Sprintf("%s backend requires a dsn", d.Storage.Backend),
				Suggestion: "Set storage.dsn, for example postgres://user@host/cfgstore?sslmode=require",
			}
		}
	case "file":
		if d.Storage.Path == "" {
			return dserrors.ConfigError{Field: "storage.path", Message: "file backend requires a path"}
		}
	}

	if err := d.CacheConfig().Validate(); err != nil {
		return dserrors.ConfigError{
			Field:      "cache",
			Message:    err.Error(),
			Suggestion: "Keep cache.l1_ttl at or below cache.l2.ttl",
		}
	}
	if d.Cache.L2.Kind == "redis" && d.Cache.L2.URL == "" && len(d.Cache.L2.Addrs) == 0 {
		return dserrors.ConfigError{
			Field:      "cache.l2.url",
			Message:    "redis L2 requires url or addrs",
			Suggestion: "Set cache.l2.url to redis://host:6379/0",
		}
	}

	if d.Crypto.KeySource.Type == "" {
		return dserrors.ConfigError{Field: "crypto.key_source.type", Message: "key source type is required"}
	}

	for i, s := range d.Audit.Sinks {
		field := fmt.Sprintf("audit.sinks[%d]", i)
		switch {
		case s.Type == "file" && s.Path == "":
			return dserrors.ConfigError{Field: field + ".path", Message: "file sink requires a path"}
		case s.Type == "nats" && s.URL == "":
			return dserrors.ConfigError{Field: field + ".url", Message: "nats sink requires a url"}
		case s.Type == "kafka" && (len(s.Brokers) == 0 || s.Topic == ""):
			return dserrors.ConfigError{Field: field, Message: "kafka sink requires brokers and topic"}
		}
	}
	return nil
}

// CacheConfig converts the cache section.
func (d *Definition) CacheConfig() cache.Config {
	return cache.Config{
		L1Capacity:          d.Cache.L1Capacity,
		L1TTL:               d.Cache.L1TTL,
		L2TTL:               d.Cache.L2.TTL,
		HealthCheckInterval: d.Cache.L2.HealthCheckInterval,
		OpTimeout:           d.Cache.L2.OpTimeout,
	}
}

// RedisOptions converts the L2 section for cache.DialRedis.
func (d *Definition) RedisOptions() cache.RedisOptions {
	l2 := d.Cache.L2
	return cache.RedisOptions{
		URL:                   l2.URL,
		Addrs:                 l2.Addrs,
		Prefix:                l2.Prefix,
		FloorTTL:              l2.FloorTTL,
		MaxRecordBytes:        l2.MaxRecordBytes,
		TLSCAFile:             l2.TLS.CAFile,
		TLSCertFile:           l2.TLS.CertFile,
		TLSKeyFile:            l2.TLS.KeyFile,
		TLSServerName:         l2.TLS.ServerName,
		TLSInsecureSkipVerify: l2.TLS.InsecureSkipVerify,
	}
}

// ValidationConfig converts the validation section.
func (d *Definition) ValidationConfig() validation.Config {
	return validation.Config{
		MaxValueBytes: d.Validation.MaxValueBytes,
		Schemas:       d.Validation.Schemas,
		SecretPolicy:  d.Validation.SecretPolicy,
	}
}

// resolvePaths makes file references relative to the config file's
// directory.
func (d *Definition) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p == "" || filepath.IsAbs(*p) || strings.HasPrefix(*p, "~") {
			return
		}
		*p = filepath.Join(base, *p)
	}

	if d.Storage.Backend == "file" {
		resolve(&d.Storage.Path)
	}
	resolve(&d.RBAC.PolicyFile)
	resolve(&d.Logging.File)
	resolve(&d.Metrics.Textfile)
	resolve(&d.Cache.L2.TLS.CAFile)
	resolve(&d.Cache.L2.TLS.CertFile)
	resolve(&d.Cache.L2.TLS.KeyFile)
	for i := range d.Audit.Sinks {
		if d.Audit.Sinks[i].Type == "file" {
			resolve(&d.Audit.Sinks[i].Path)
		}
	}
	for ns, file := range d.Validation.Schemas {
		resolve(&file)
		d.Validation.Schemas[ns] = file
	}
}

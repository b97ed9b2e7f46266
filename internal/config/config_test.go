package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dserrors "github.com/systmms/cfgstore/internal/errors"
	"github.com/systmms/cfgstore/internal/logging"
)

const fullConfig = `version: 1
storage:
  backend: file
  path: data
cache:
  l1_capacity: 500
  l1_ttl: 10s
  l2:
    kind: redis
    url: redis://localhost:6379/0
    prefix: "cfg:"
    ttl: 2m
    health_check_interval: 1s
    op_timeout: 100ms
    tls:
      ca_file: certs/ca.pem
crypto:
  key_source:
    type: aws.secretsmanager
    secret_id: prod/cfgstore/master
    region: eu-west-1
  previous_keys:
    - type: file
      path: /etc/cfgstore/old.key
rbac:
  policy_file: rbac.yaml
audit:
  queue_size: 64
  sinks:
    - type: log
    - type: file
      path: audit.jsonl
    - type: nats
      url: nats://localhost:4222
    - type: kafka
      brokers: [localhost:9092]
      topic: cfgstore-audit
validation:
  max_value_bytes: 4096
  schemas:
    app/llm: schemas/llm.json
  secret_policy:
    min_length: 12
    forbidden_patterns: ["(?i)password"]
logging:
  file: cfgstore.log
metrics:
  textfile: /var/lib/node_exporter/cfgstore.prom
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfgstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, fullConfig)
	dir := filepath.Dir(path)
	cfg := &Config{Path: path, Logger: logging.Nop()}
	require.NoError(t, cfg.Load())

	def := cfg.Definition
	require.NotNil(t, def)
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, filepath.Join(dir, "data"), def.Storage.Path)

	assert.Equal(t, uint64(500), def.Cache.L1Capacity)
	assert.Equal(t, 10*time.Second, def.Cache.L1TTL)
	assert.Equal(t, "redis", def.Cache.L2.Kind)
	assert.Equal(t, 2*time.Minute, def.Cache.L2.TTL)
	assert.Equal(t, 100*time.Millisecond, def.Cache.L2.OpTimeout)
	assert.Equal(t, filepath.Join(dir, "certs/ca.pem"), def.Cache.L2.TLS.CAFile)

	assert.Equal(t, "aws.secretsmanager", def.Crypto.KeySource.Type)
	assert.Equal(t, "prod/cfgstore/master", def.Crypto.KeySource.Config["secret_id"])
	assert.Equal(t, "eu-west-1", def.Crypto.KeySource.Config["region"])
	require.Len(t, def.Crypto.PreviousKeys, 1)
	assert.Equal(t, "/etc/cfgstore/old.key", def.Crypto.PreviousKeys[0].Config["path"])

	assert.Equal(t, filepath.Join(dir, "rbac.yaml"), def.RBAC.PolicyFile)

	assert.Equal(t, 64, def.Audit.QueueSize)
	assert.Equal(t, 5*time.Second, def.Audit.SinkTimeout, "unset fields keep defaults")
	require.Len(t, def.Audit.Sinks, 4)
	assert.Equal(t, filepath.Join(dir, "audit.jsonl"), def.Audit.Sinks[1].Path)
	assert.Equal(t, []string{"localhost:9092"}, def.Audit.Sinks[3].Brokers)

	assert.Equal(t, 4096, def.Validation.MaxValueBytes)
	assert.Equal(t, filepath.Join(dir, "schemas/llm.json"), def.Validation.Schemas["app/llm"])
	require.NotNil(t, def.Validation.SecretPolicy)
	assert.Equal(t, 12, def.Validation.SecretPolicy.MinLength)

	assert.Equal(t, filepath.Join(dir, "cfgstore.log"), def.Logging.File)
	assert.Equal(t, "/var/lib/node_exporter/cfgstore.prom", def.Metrics.Textfile)

	opts := def.RedisOptions()
	assert.Equal(t, "redis://localhost:6379/0", opts.URL)
	assert.Equal(t, "cfg:", opts.Prefix)

	cc := def.CacheConfig()
	assert.NoError(t, cc.Validate())
	assert.Equal(t, 2*time.Minute, cc.L2TTL)

	vc := def.ValidationConfig()
	assert.Equal(t, 4096, vc.MaxValueBytes)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "missing.yaml"), Logger: logging.Nop()}
	require.NoError(t, cfg.Load())
	require.NotNil(t, cfg.Definition)

	def := cfg.Definition
	assert.Equal(t, "file", def.Storage.Backend)
	assert.NotEmpty(t, def.Storage.Path)
	assert.Equal(t, "none", def.Cache.L2.Kind)
	assert.Equal(t, "env", def.Crypto.KeySource.Type)
	assert.NoError(t, def.Validate())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Path: filepath.Join(t.TempDir(), "missing.yaml"), Explicit: true}
	err := cfg.Load()

	var cfgErr dserrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "path", cfgErr.Field)
}

func TestParseEmptyDocument(t *testing.T) {
	t.Parallel()

	def, err := Parse([]byte("# nothing here\n"))
	require.NoError(t, err)
	assert.Equal(t, Default(), def)
}

func TestParseRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		field   string
	}{
		{
			name:    "bad yaml",
			content: "storage: [unclosed",
		},
		{
			name:    "unknown section",
			content: "providers: {}\n",
		},
		{
			name:    "unknown backend",
			content: "storage:\n  backend: mongo\n",
			field:   "storage.backend",
		},
		{
			name:    "bad duration",
			content: "cache:\n  l1_ttl: soon\n",
			field:   "cache.l1_ttl",
		},
		{
			name:    "l1 outlives l2",
			content: "cache:\n  l1_ttl: 10m\n  l2:\n    ttl: 1m\n",
			field:   "cache",
		},
		{
			name:    "sql without dsn",
			content: "storage:\n  backend: postgres\n",
			field:   "storage.dsn",
		},
		{
			name:    "redis without address",
			content: "cache:\n  l2:\n    kind: redis\n",
			field:   "cache.l2.url",
		},
		{
			name:    "unknown key source",
			content: "crypto:\n  key_source:\n    type: vault\n",
		},
		{
			name:    "file sink without path",
			content: "audit:\n  sinks:\n    - type: file\n",
			field:   "audit.sinks[0].path",
		},
		{
			name:    "kafka sink without topic",
			content: "audit:\n  sinks:\n    - type: kafka\n      brokers: [localhost:9092]\n",
			field:   "audit.sinks[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(tt.content))
			var cfgErr dserrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			if tt.field != "" {
				assert.Equal(t, tt.field, cfgErr.Field)
			}
		})
	}
}

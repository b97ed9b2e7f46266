package cache

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/systmms/cfgstore/pkg/configstore"
)

const (
	defaultPrefix         = "cfgstore:"
	defaultFloorTTL       = 24 * time.Hour
	defaultMaxRecordBytes = 1 << 20
)

// populateScript writes an entry only when its version is not below the
// key's floor.
//
// KEYS[1] entry key, KEYS[2] floor key
// ARGV[1] payload, ARGV[2] version, ARGV[3] ttl in ms
var populateScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[2]) < floor then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
return 1
`)

// invalidateScript raises the floor and deletes the entry atomically.
//
// KEYS[1] entry key, KEYS[2] floor key
// ARGV[1] version, ARGV[2] floor ttl in ms
var invalidateScript = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > floor then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
else
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

// RedisOptions configures a RedisRemote.
type RedisOptions struct {
	URL string

	// Addrs, when set, overrides the URL host and enables cluster mode
	// for more than one address.
	Addrs []string

	Prefix         string
	FloorTTL       time.Duration
	MaxRecordBytes int

	TLSCAFile             string
	TLSCertFile           string
	TLSKeyFile            string
	TLSServerName         string
	TLSInsecureSkipVerify bool
}

// RedisRemote is an L2 tier backed by Redis.
type RedisRemote struct {
	client         redis.UniversalClient
	prefix         string
	floorTTL       time.Duration
	maxRecordBytes int
}

// DialRedis builds a universal client from opts. It does not contact the
// server.
func DialRedis(opts RedisOptions) (*RedisRemote, error) {
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	tlsConfig, err := redisTLSConfig(parsed.TLSConfig, opts)
	if err != nil {
		return nil, err
	}

	addrs := opts.Addrs
	if len(addrs) == 0 {
		addrs = []string{parsed.Addr}
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  parsed.Username,
		Password:  parsed.Password,
		DB:        parsed.DB,
		TLSConfig: tlsConfig,
	})
	return NewRedisRemote(client, opts), nil
}

// NewRedisRemote wraps an existing client. Only the Prefix, FloorTTL and
// MaxRecordBytes fields of opts are used.
func NewRedisRemote(client redis.UniversalClient, opts RedisOptions) *RedisRemote {
	r := &RedisRemote{
		client:         client,
		prefix:         opts.Prefix,
		floorTTL:       opts.FloorTTL,
		maxRecordBytes: opts.MaxRecordBytes,
	}
	if r.prefix == "" {
		r.prefix = defaultPrefix
	}
	if r.floorTTL <= 0 {
		r.floorTTL = defaultFloorTTL
	}
	if r.maxRecordBytes <= 0 {
		r.maxRecordBytes = defaultMaxRecordBytes
	}
	return r
}

// Keys of one tuple share a hash tag so the scripts stay on one slot.
func (r *RedisRemote) entryKey(key string) string { return r.prefix + "{" + key + "}:entry" }
func (r *RedisRemote) floorKey(key string) string { return r.prefix + "{" + key + "}:floor" }

func (r *RedisRemote) Get(ctx context.Context, key string) (*configstore.Entry, error) {
	data, err := r.client.Get(ctx, r.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e, err := decodeEntry(data)
	if err != nil {
		// A record we cannot read is dropped rather than served.
		_ = r.client.Del(ctx, r.entryKey(key)).Err()
		return nil, nil
	}
	return e, nil
}

func (r *RedisRemote) Set(ctx context.Context, key string, e *configstore.Entry, ttl time.Duration) (bool, error) {
	data, err := encodeEntry(e)
	if err != nil {
		return false, err
	}
	if len(data) > r.maxRecordBytes {
		return false, nil
	}
	res, err := populateScript.Run(ctx, r.client,
		[]string{r.entryKey(key), r.floorKey(key)},
		data, strconv.FormatInt(e.Version, 10), ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisRemote) Invalidate(ctx context.Context, key string, version int64) error {
	return invalidateScript.Run(ctx, r.client,
		[]string{r.entryKey(key), r.floorKey(key)},
		strconv.FormatInt(version, 10), r.floorTTL.Milliseconds(),
	).Err()
}

func (r *RedisRemote) Purge(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*:entry", 500).Iterator()
	pipe := r.client.Pipeline()
	queued := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		queued++
		if queued == 500 {
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			queued = 0
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if queued > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisRemote) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRemote) Close() error {
	return r.client.Close()
}

func redisTLSConfig(existing *tls.Config, opts RedisOptions) (*tls.Config, error) {
	if opts.TLSCAFile == "" && opts.TLSCertFile == "" && opts.TLSKeyFile == "" &&
		opts.TLSServerName == "" && !opts.TLSInsecureSkipVerify {
		return existing, nil
	}

	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if existing != nil {
		cfg = existing.Clone()
	}
	if opts.TLSServerName != "" {
		cfg.ServerName = opts.TLSServerName
	}
	if opts.TLSInsecureSkipVerify {
		cfg.InsecureSkipVerify = true // #nosec G402 -- operator opt-in
	}

	if opts.TLSCAFile != "" {
		pem, err := os.ReadFile(opts.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("redis tls ca parse: %s", opts.TLSCAFile)
		}
		cfg.RootCAs = pool
	}

	if opts.TLSCertFile != "" || opts.TLSKeyFile != "" {
		if opts.TLSCertFile == "" || opts.TLSKeyFile == "" {
			return nil, fmt.Errorf("redis tls cert and key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(opts.TLSCertFile, opts.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

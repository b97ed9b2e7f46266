package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/pkg/configstore"
)

func newEntry(ns, key string, env configstore.Environment, version int64, value string) *configstore.Entry {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &configstore.Entry{
		Namespace:   ns,
		Key:         key,
		Environment: env,
		Value:       configstore.StringValue(value),
		Version:     version,
		CreatedAt:   now,
		UpdatedAt:   now,
		Author:      "admin",
	}
}

func TestFileStorage_AppendAndRead(t *testing.T) {
	t.Parallel()

	fs, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	e1 := newEntry("app/llm", "model", configstore.Production, 1, "gpt-4")
	e2 := newEntry("app/llm", "model", configstore.Production, 2, "gpt-4-turbo")
	require.NoError(t, fs.Append(ctx, e1))
	require.NoError(t, fs.Append(ctx, e2))

	latest, err := fs.Latest(ctx, e1.Tuple())
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, "gpt-4-turbo", latest.Value.String())
	assert.Equal(t, configstore.Production, latest.Environment)
	assert.True(t, e2.UpdatedAt.Equal(latest.UpdatedAt))

	got, err := fs.Get(ctx, e1.Tuple(), 1)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", got.Value.String())

	history, err := fs.History(ctx, e1.Tuple())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Version)
}

func TestFileStorage_AppendIsExclusive(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := New(dir)
	require.NoError(t, err)
	ctx := context.Background()

	e := newEntry("app", "k", configstore.Base, 1, "first")
	require.NoError(t, fs.Append(ctx, e))

	err = fs.Append(ctx, newEntry("app", "k", configstore.Base, 1, "second"))
	assert.ErrorIs(t, err, store.ErrVersionExists)

	got, err := fs.Get(ctx, e.Tuple(), 1)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Value.String())

	names, err := os.ReadDir(fs.tupleDir(e.Tuple()))
	require.NoError(t, err)
	for _, n := range names {
		assert.False(t, strings.HasPrefix(n.Name(), ".tmp-"), "temp file %s left behind", n.Name())
	}
}

func TestFileStorage_IgnoresPartialWrites(t *testing.T) {
	t.Parallel()

	fs, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	e := newEntry("app", "k", configstore.Base, 1, "complete")
	require.NoError(t, fs.Append(ctx, e))

	// A crash between temp write and link leaves only a temp file behind.
	stray := filepath.Join(fs.tupleDir(e.Tuple()), ".tmp-crashed")
	require.NoError(t, os.WriteFile(stray, []byte(`{"version": 2, "val`), 0600))

	latest, err := fs.Latest(ctx, e.Tuple())
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Version)

	count := 0
	require.NoError(t, fs.Walk(ctx, func(*configstore.Entry) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

func TestFileStorage_Layout(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fs, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, fs.Append(context.Background(), newEntry("app/llm", "model", configstore.Staging, 1, "x")))

	// sha256("app/llm") and sha256("model")
	nsSum := sha256.Sum256([]byte("app/llm"))
	keySum := sha256.Sum256([]byte("model"))
	path := filepath.Join(dir, "staging", hex.EncodeToString(nsSum[:]), hex.EncodeToString(keySum[:]), "v0000000001.json")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFileStorage_LongIdentifiers(t *testing.T) {
	t.Parallel()

	fs, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ns := strings.Repeat("n", 200)
	key := strings.Repeat("k", 200)
	require.NoError(t, fs.Append(ctx, newEntry(ns, key, configstore.Production, 1, "gpt-4")))
	require.NoError(t, fs.Append(ctx, newEntry(ns, key, configstore.Production, 2, "gpt-4-turbo")))

	latest, err := fs.Latest(ctx, configstore.NewTuple(ns, key, configstore.Production))
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Version)
	assert.Equal(t, key, latest.Key)

	keys, err := fs.Keys(ctx, ns, configstore.Production)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	for _, seg := range strings.Split(fs.tupleDir(latest.Tuple()), string(filepath.Separator)) {
		assert.LessOrEqual(t, len(seg), 255)
	}
}

func TestFileStorage_KeysSkipsEmptyDirectories(t *testing.T) {
	t.Parallel()

	fs, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Append(ctx, newEntry("app", "model", configstore.Base, 1, "gpt-4")))
	// A writer that crashed after creating its directory.
	require.NoError(t, os.MkdirAll(fs.tupleDir(configstore.NewTuple("app", "orphan", configstore.Base)), 0700))

	keys, err := fs.Keys(ctx, "app", configstore.Base)
	require.NoError(t, err)
	assert.Equal(t, []string{"model"}, keys)
}

func TestFileStorage_KeysAndNotFound(t *testing.T) {
	t.Parallel()

	fs, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, fs.Append(ctx, newEntry("app", "a/b", configstore.Edge, 1, "1")))
	require.NoError(t, fs.Append(ctx, newEntry("app", "c", configstore.Edge, 1, "2")))
	require.NoError(t, fs.Append(ctx, newEntry("other", "d", configstore.Edge, 1, "3")))

	keys, err := fs.Keys(ctx, "app", configstore.Edge)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a/b", "c"}, keys)

	keys, err = fs.Keys(ctx, "app", configstore.Base)
	require.NoError(t, err)
	assert.Empty(t, keys)

	_, err = fs.Latest(ctx, configstore.NewTuple("app", "zzz", configstore.Edge))
	assert.ErrorIs(t, err, configstore.ErrNotFound)
	_, err = fs.Get(ctx, configstore.NewTuple("app", "c", configstore.Edge), 5)
	assert.ErrorIs(t, err, configstore.ErrNotFound)
}

func TestFileStorage_Replace(t *testing.T) {
	t.Parallel()

	fs, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	e := newEntry("app", "k", configstore.Base, 1, "old")
	require.NoError(t, fs.Append(ctx, e))

	e.Value = configstore.StringValue("new")
	require.NoError(t, fs.Replace(ctx, e))
	got, err := fs.Get(ctx, e.Tuple(), 1)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Value.String())

	missing := newEntry("app", "k", configstore.Base, 2, "x")
	assert.ErrorIs(t, fs.Replace(ctx, missing), configstore.ErrNotFound)
}

func TestFileStorage_WithVersionStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	backend, err := New(dir)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	engine, err := crypto.New(key)
	require.NoError(t, err)
	ring := crypto.NewKeyring(engine)
	defer ring.Close()

	s := store.New(backend, ring)
	ctx := context.Background()
	tuple := configstore.NewTuple("app/llm", "api_key", configstore.Production)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Commit(ctx, store.CommitRequest{
				Tuple:    tuple,
				Value:    configstore.StringValue("sk-secret"),
				IsSecret: true,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	history, err := s.ReadHistory(ctx, tuple)
	require.NoError(t, err)
	require.Len(t, history, writers)
	for i, e := range history {
		assert.Equal(t, int64(i+1), e.Version)
	}

	raw, err := os.ReadFile(filepath.Join(backend.tupleDir(tuple), versionFile(1)))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-secret")

	// A second store over the same directory, as another process would see it.
	other := store.New(backend, ring)
	current, err := other.ReadCurrent(ctx, tuple)
	require.NoError(t, err)
	value, err := other.Open(current)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", value.String())
}

func TestDefaultStorageDir(t *testing.T) {
	t.Setenv("CFGSTORE_DATA_DIR", "/srv/cfgstore")
	assert.Equal(t, "/srv/cfgstore", DefaultStorageDir())

	t.Setenv("CFGSTORE_DATA_DIR", "")
	t.Setenv("XDG_DATA_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "cfgstore"), DefaultStorageDir())
}

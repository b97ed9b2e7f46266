// Package filestore persists version history as one JSON file per version.
//
// Layout:
//
//	<base>/<environment>/<sha256(namespace)>/<sha256(key)>/v0000000001.json
//
// Identifiers are hashed so every path segment has the same bounded length
// whatever the identifier. Version files carry the real names.
//
// A version is written to a temporary file, fsynced and then hard-linked
// into place, so it appears completely or not at all and two writers can
// never claim the same version number. The parent directory is fsynced
// after the link.
package filestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/systmms/cfgstore/internal/store"
	"github.com/systmms/cfgstore/pkg/configstore"
)

const versionPrefix = "v"
const versionSuffix = ".json"

// FileStorage implements store.Backend on the local filesystem.
type FileStorage struct {
	baseDir string
}

// New creates a file backend rooted at baseDir. The directory is created
// if needed.
func New(baseDir string) (*FileStorage, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &FileStorage{baseDir: baseDir}, nil
}

// DefaultStorageDir returns the default storage directory
func DefaultStorageDir() string {
	if dir := os.Getenv("CFGSTORE_DATA_DIR"); dir != "" {
		return dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "cfgstore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "cfgstore")
	}
	return filepath.Join(os.TempDir(), "cfgstore")
}

func segment(name string) string {
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:])
}

func (f *FileStorage) namespaceDir(namespace string, env configstore.Environment) string {
	return filepath.Join(f.baseDir, env.String(), segment(namespace))
}

func (f *FileStorage) tupleDir(t configstore.Tuple) string {
	return filepath.Join(f.namespaceDir(t.Namespace, t.Environment), segment(t.Key))
}

func versionFile(version int64) string {
	return fmt.Sprintf("%s%010d%s", versionPrefix, version, versionSuffix)
}

func parseVersionFile(name string) (int64, bool) {
	if !strings.HasPrefix(name, versionPrefix) || !strings.HasSuffix(name, versionSuffix) {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, versionPrefix), versionSuffix), 10, 64)
	if err != nil || v < 1 {
		return 0, false
	}
	return v, true
}

// Append writes e as a new version file.
func (f *FileStorage) Append(ctx context.Context, e *configstore.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := f.tupleDir(e.Tuple())
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}

	tmp, err := writeTemp(dir, e)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	if err := os.Link(tmp, filepath.Join(dir, versionFile(e.Version))); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return store.ErrVersionExists
		}
		return fmt.Errorf("failed to publish version file: %w", err)
	}
	return syncDir(dir)
}

// Replace atomically overwrites an existing version file.
func (f *FileStorage) Replace(ctx context.Context, e *configstore.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := f.tupleDir(e.Tuple())
	final := filepath.Join(dir, versionFile(e.Version))
	if _, err := os.Stat(final); err != nil {
		if os.IsNotExist(err) {
			return configstore.NotFoundError{Tuple: e.Tuple(), Version: e.Version}
		}
		return err
	}

	tmp, err := writeTemp(dir, e)
	if err != nil {
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace version file: %w", err)
	}
	return syncDir(dir)
}

func writeTemp(dir string, e *configstore.Entry) (string, error) {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to write entry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(name)
		return "", fmt.Errorf("failed to sync entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory: %w", err)
	}
	return nil
}

func (f *FileStorage) versions(t configstore.Tuple) ([]int64, error) {
	return versionsIn(f.tupleDir(t))
}

func versionsIn(dir string) ([]int64, error) {
	names, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var versions []int64
	for _, n := range names {
		if v, ok := parseVersionFile(n.Name()); ok && !n.IsDir() {
			versions = append(versions, v)
		}
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	return versions, nil
}

func (f *FileStorage) read(path string) (*configstore.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var e configstore.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}
	return &e, nil
}

// Latest returns the highest version of t.
func (f *FileStorage) Latest(ctx context.Context, t configstore.Tuple) (*configstore.Entry, error) {
	versions, err := f.versions(t)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, configstore.NotFoundError{Tuple: t}
	}
	return f.Get(ctx, t, versions[len(versions)-1])
}

// Get returns one version of t.
func (f *FileStorage) Get(_ context.Context, t configstore.Tuple, version int64) (*configstore.Entry, error) {
	e, err := f.read(filepath.Join(f.tupleDir(t), versionFile(version)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, configstore.NotFoundError{Tuple: t, Version: version}
		}
		return nil, err
	}
	return e, nil
}

// History returns every version of t, oldest first.
func (f *FileStorage) History(ctx context.Context, t configstore.Tuple) ([]*configstore.Entry, error) {
	versions, err := f.versions(t)
	if err != nil {
		return nil, err
	}
	out := make([]*configstore.Entry, 0, len(versions))
	for _, v := range versions {
		e, err := f.Get(ctx, t, v)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Keys lists keys stored under namespace and env. Each key is read back
// from its first version file; directories without one are skipped.
func (f *FileStorage) Keys(_ context.Context, namespace string, env configstore.Environment) ([]string, error) {
	nsDir := f.namespaceDir(namespace, env)
	dirs, err := os.ReadDir(nsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var keys []string
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(nsDir, d.Name())
		versions, err := versionsIn(dir)
		if err != nil {
			return nil, err
		}
		if len(versions) == 0 {
			continue
		}
		e, err := f.read(filepath.Join(dir, versionFile(versions[0])))
		if err != nil {
			return nil, err
		}
		keys = append(keys, e.Key)
	}
	return keys, nil
}

// Walk visits every version file under the base directory.
func (f *FileStorage) Walk(ctx context.Context, fn func(*configstore.Entry) error) error {
	return filepath.WalkDir(f.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := parseVersionFile(d.Name()); !ok {
			return nil
		}
		e, err := f.read(path)
		if err != nil {
			return err
		}
		return fn(e)
	})
}

// Close is a no-op.
func (f *FileStorage) Close() error {
	return nil
}

package keysource

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/systmms/cfgstore/internal/crypto"
	"github.com/systmms/cfgstore/internal/secure"
)

// FileSource reads an encoded key from a file that only its owner may read.
type FileSource struct {
	name string
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{name: "file", path: expandHome(path)}
}

func NewFileSourceFactory(name string, cfg map[string]interface{}) (Source, error) {
	path, err := requireOpt(name, cfg, "path")
	if err != nil {
		return nil, err
	}
	s := NewFileSource(path)
	s.name = name
	return s, nil
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Fetch(context.Context) ([]byte, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%w: %s", ErrNotFound, s.path)}
	}
	if err != nil {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: fmt.Errorf("%s is accessible by other users (mode %04o); chmod 600 it", s.path, info.Mode().Perm())}
	}

	data, err := os.ReadFile(s.path) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, &SourceError{Source: s.name, Op: "fetch", Err: err}
	}
	defer secure.Wipe(data)
	return decodeMaterial(s.name, []byte(strings.TrimSpace(string(data))))
}

// Store writes key base64-encoded with mode 0600. An existing file is not
// overwritten.
func (s *FileSource) Store(_ context.Context, key []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return &SourceError{Source: s.name, Op: "store", Err: err}
	}
	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return &SourceError{Source: s.name, Op: "store", Err: err}
	}
	if _, err := f.WriteString(crypto.EncodeKey(key, false) + "\n"); err != nil {
		_ = f.Close()
		return &SourceError{Source: s.name, Op: "store", Err: err}
	}
	if err := f.Close(); err != nil {
		return &SourceError{Source: s.name, Op: "store", Err: err}
	}
	return nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

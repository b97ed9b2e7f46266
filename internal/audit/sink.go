package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/systmms/cfgstore/internal/logging"
)

// Sink delivers events somewhere durable or observable.
type Sink interface {
	Name() string
	Emit(ctx context.Context, e Event) error
	Close() error
}

// LogSink writes events to the structured logger.
type LogSink struct {
	logger *logging.Logger
}

func NewLogSink(l *logging.Logger) *LogSink {
	return &LogSink{logger: l}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Emit(ctx context.Context, e Event) error {
	s.logger.Slog().InfoContext(ctx, "audit",
		"event_id", e.ID,
		"type", string(e.Type),
		"actor", e.Actor,
		"namespace", e.Namespace,
		"key", e.Key,
		"environment", e.Environment,
		"version", e.Version,
		"previous_version", e.PreviousVersion,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// FileSink appends one JSON object per line.
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
	enc  *json.Encoder
}

// NewFileSink opens path for appending, creating it with mode 0600.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- operator-configured path
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &FileSink{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

func (s *FileSink) Name() string { return "file" }

func (s *FileSink) Emit(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	return s.enc.Encode(e)
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	slogmulti "github.com/samber/slog-multi"
)

// Logger provides printf-style logging with redaction support. Records go
// to a human-readable stderr handler and, when configured, to a JSON file.
type Logger struct {
	debug bool
	slog  *slog.Logger
	file  io.Closer
}

// Options configures NewWithOptions.
type Options struct {
	Debug   bool
	NoColor bool

	// Output overrides stderr for the console handler.
	Output io.Writer

	// File, when set, receives JSON records at the same level.
	File string
}

// New creates a console logger.
func New(debug, noColor bool) *Logger {
	l, _ := NewWithOptions(Options{Debug: debug, NoColor: noColor})
	return l
}

// NewWithOptions creates a logger that fans out to every configured sink.
func NewWithOptions(opts Options) (*Logger, error) {
	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}

	handlers := []slog.Handler{
		&consoleHandler{out: opts.Output, noColor: opts.NoColor, level: level, mu: &sync.Mutex{}},
	}

	var closer io.Closer
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return New(opts.Debug, opts.NoColor), fmt.Errorf("open log file: %w", err)
		}
		closer = f
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}))
	}

	return &Logger{
		debug: opts.Debug,
		slog:  slog.New(slogmulti.Fanout(handlers...)),
		file:  closer,
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// With returns a logger that adds attrs to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{debug: l.debug, slog: l.slog.With(args...), file: l.file}
}

// Slog exposes the underlying structured logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.slog.Info(fmt.Sprintf(format, args...))
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.slog.Warn(fmt.Sprintf(format, args...))
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.slog.Error(fmt.Sprintf(format, args...))
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.slog.Debug(fmt.Sprintf(format, args...))
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// consoleHandler renders records the way a terminal user expects:
// a level glyph, the message, then key=value attributes.
type consoleHandler struct {
	out     io.Writer
	noColor bool
	level   slog.Level
	attrs   []slog.Attr
	group   string
	mu      *sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(h.prefix(r.Level))
	b.WriteString(r.Message)

	write := func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value.Resolve())
		return true
	}
	for _, a := range h.attrs {
		write(a)
	}
	r.Attrs(write)
	b.WriteByte('\n')

	out := h.out
	if out == nil {
		out = os.Stderr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(out, b.String())
	return err
}

func (h *consoleHandler) prefix(level slog.Level) string {
	type glyph struct{ color, plain string }
	var g glyph
	switch {
	case level >= slog.LevelError:
		g = glyph{"\033[31m✗\033[0m ", "✗ "}
	case level >= slog.LevelWarn:
		g = glyph{"\033[33m⚠\033[0m ", "⚠ "}
	case level >= slog.LevelInfo:
		g = glyph{"\033[32m✓\033[0m ", "✓ "}
	default:
		g = glyph{"\033[36m[DEBUG]\033[0m ", "[DEBUG] "}
	}
	if h.noColor {
		return g.plain
	}
	return g.color
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group != "" {
		c.group += "." + name
	} else {
		c.group = name
	}
	return &c
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// LogValue keeps secrets out of structured attributes.
func (s Secret) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}

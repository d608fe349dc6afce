// Package logging builds the process-wide slog logger. Output goes to stderr
// and, optionally, to a size-rotated file so the agent keeps a local record
// when it runs unattended under a service manager.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes the desired logging configuration.
type Config struct {
	Level          string
	Format         string
	FilePath       string
	FileMaxSizeMB  int
	FileMaxFiles   int
	FileMaxAgeDays int
}

// swapHandler delegates to an inner handler that can be replaced while
// loggers derived from it are in use.
type swapHandler struct {
	inner atomic.Pointer[slog.Handler]
}

func newSwapHandler(h slog.Handler) *swapHandler {
	s := &swapHandler{}
	s.inner.Store(&h)
	return s
}

func (s *swapHandler) swap(h slog.Handler) { s.inner.Store(&h) }

func (s *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.inner.Load()).Enabled(ctx, level)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return (*s.inner.Load()).Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedHandler{root: s, attrs: attrs}
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	return &derivedHandler{root: s, group: name}
}

// derivedHandler re-applies its attrs/group to whatever handler the root
// currently holds, so component loggers created at startup follow a
// later Reconfigure.
type derivedHandler struct {
	root   *swapHandler
	parent *derivedHandler
	attrs  []slog.Attr
	group  string
}

func (d *derivedHandler) resolve() slog.Handler {
	var h slog.Handler
	if d.parent != nil {
		h = d.parent.resolve()
	} else {
		h = *d.root.inner.Load()
	}
	if d.group != "" {
		h = h.WithGroup(d.group)
	}
	if len(d.attrs) > 0 {
		h = h.WithAttrs(d.attrs)
	}
	return h
}

func (d *derivedHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*d.root.inner.Load()).Enabled(ctx, level)
}

func (d *derivedHandler) Handle(ctx context.Context, r slog.Record) error {
	return d.resolve().Handle(ctx, r)
}

func (d *derivedHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &derivedHandler{root: d.root, parent: d, attrs: attrs}
}

func (d *derivedHandler) WithGroup(name string) slog.Handler {
	return &derivedHandler{root: d.root, parent: d, group: name}
}

// Manager owns the logger lifecycle and supports runtime reconfiguration.
type Manager struct {
	levelVar *slog.LevelVar
	handler  *swapHandler
	stderr   io.Writer

	mu     sync.Mutex
	config Config
	closer io.Closer // lumberjack writer, if any
}

// NewManager creates a Manager and returns it along with a ready-to-use logger.
func NewManager(cfg Config) (*Manager, *slog.Logger) {
	return newManager(cfg, os.Stderr)
}

func newManager(cfg Config, stderr io.Writer) (*Manager, *slog.Logger) {
	lvl := &slog.LevelVar{}
	lvl.Set(parseLevel(cfg.Level))

	w, closer := buildWriter(cfg, stderr)
	m := &Manager{
		levelVar: lvl,
		handler:  newSwapHandler(buildHandler(w, lvl, resolveFormat(cfg.Format, stderr))),
		stderr:   stderr,
		config:   cfg,
		closer:   closer,
	}
	return m, slog.New(m.handler)
}

// Reconfigure applies a new configuration at runtime. Level-only changes
// are instant via LevelVar; format or output changes rebuild the handler.
func (m *Manager) Reconfigure(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.levelVar.Set(parseLevel(cfg.Level))

	rebuild := cfg.Format != m.config.Format ||
		cfg.FilePath != m.config.FilePath ||
		cfg.FileMaxSizeMB != m.config.FileMaxSizeMB ||
		cfg.FileMaxFiles != m.config.FileMaxFiles ||
		cfg.FileMaxAgeDays != m.config.FileMaxAgeDays

	if rebuild {
		if m.closer != nil {
			m.closer.Close() //nolint:errcheck
			m.closer = nil
		}
		w, closer := buildWriter(cfg, m.stderr)
		m.handler.swap(buildHandler(w, m.levelVar, resolveFormat(cfg.Format, m.stderr)))
		m.closer = closer
	}

	m.config = cfg
}

// Config returns the current configuration snapshot.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Close releases the log file writer, if any.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closer == nil {
		return nil
	}
	err := m.closer.Close()
	m.closer = nil
	return err
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildWriter returns stderr alone, or stderr plus a rotated file when a
// file path is configured. The lumberjack logger doubles as the closer.
func buildWriter(cfg Config, stderr io.Writer) (io.Writer, io.Closer) {
	if cfg.FilePath == "" {
		return stderr, nil
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    orDefault(cfg.FileMaxSizeMB, 20),
		MaxBackups: orDefault(cfg.FileMaxFiles, 5),
		MaxAge:     orDefault(cfg.FileMaxAgeDays, 30),
		Compress:   true,
	}
	return io.MultiWriter(stderr, lj), lj
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// resolveFormat maps "auto" (or empty) to text when stderr is a terminal
// and to JSON otherwise.
func resolveFormat(format string, stderr io.Writer) string {
	if format != "" && format != "auto" {
		return format
	}
	if f, ok := stderr.(*os.File); ok && term.IsTerminal(int(f.Fd())) { //nolint:gosec // G115: fd fits in int
		return "text"
	}
	return "json"
}

func buildHandler(w io.Writer, leveler slog.Leveler, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: leveler}
	if format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ValidLevel returns true if s is a recognized log level.
func ValidLevel(s string) bool {
	switch s {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

// ValidFormat returns true if s is a recognized log format.
func ValidFormat(s string) bool {
	return s == "text" || s == "json" || s == "auto"
}

// String returns a human-readable summary of the config.
func (c Config) String() string {
	s := fmt.Sprintf("level=%s format=%s", c.Level, c.Format)
	if c.FilePath != "" {
		s += fmt.Sprintf(" file=%s", c.FilePath)
	}
	return s
}

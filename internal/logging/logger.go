package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"docflow/internal/config"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Writer receives output; nil means stderr.
	Writer io.Writer
	// FilePath, when set, additionally appends JSON lines to that file
	// regardless of Format.
	FilePath    string
	Development bool
}

// New constructs a slog logger from opts.
func New(opts Options) (*slog.Logger, error) {
	level := new(slog.LevelVar)
	level.Set(parseLevel(opts.Level))
	addSource := opts.Development || level.Level() <= slog.LevelDebug

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	primary, err := formatHandler(opts.Format, w, level, addSource)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(opts.FilePath) == "" {
		return slog.New(primary), nil
	}
	file, err := openAppend(opts.FilePath)
	if err != nil {
		return nil, err
	}
	return slog.New(fanout{primary, newJSONHandler(file, level, true)}), nil
}

func formatHandler(format string, w io.Writer, level *slog.LevelVar, addSource bool) (slog.Handler, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		return newConsoleHandler(w, level, addSource), nil
	case "json":
		return newJSONHandler(w, level, addSource), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", format)
	}
}

// NewFromConfig builds the daemon logger: configured format on stderr plus
// a JSON file named fileName in the log directory when both are set.
func NewFromConfig(cfg *config.Config, fileName string) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{Level: "info"})
	}
	opts := Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}
	if fileName != "" && cfg.Paths.LogDir != "" {
		opts.FilePath = filepath.Join(cfg.Paths.LogDir, fileName)
	}
	return New(opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openAppend(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}

// fanout delivers each record to every enabled handler.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

// Package logging builds the process logger from configuration.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/najoast/praas/config"
)

// Logger is a slog.Logger whose level can change after construction.
type Logger struct {
	*slog.Logger
	level  *slog.LevelVar
	closer io.Closer
}

// Level maps a configured level onto slog. Trace folds into Debug and
// fatal into Error.
func Level(l config.LogLevel) slog.Level {
	switch config.LogLevel(strings.ToLower(string(l))) {
	case config.LogLevelTrace, config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError, config.LogLevelFatal:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New opens the configured output and builds a logger on it.
func New(cfg config.LogConfig) (*Logger, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output %s: %w", cfg.Output, err)
		}
		w, closer = f, f
	}
	logger := NewWithWriter(cfg, w)
	logger.closer = closer
	return logger, nil
}

// NewWithWriter builds a logger writing to w.
func NewWithWriter(cfg config.LogConfig, w io.Writer) *Logger {
	level := new(slog.LevelVar)
	level.Set(Level(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	if len(cfg.Fields) > 0 {
		keys := make([]string, 0, len(cfg.Fields))
		for k := range cfg.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		args := make([]any, 0, 2*len(keys))
		for _, k := range keys {
			args = append(args, k, cfg.Fields[k])
		}
		logger = logger.With(args...)
	}

	return &Logger{Logger: logger, level: level}
}

// SetLevel changes the minimum level of every logger derived from l.
func (l *Logger) SetLevel(level config.LogLevel) {
	l.level.Set(Level(level))
}

// Level reports the current minimum level.
func (l *Logger) Level() slog.Level {
	return l.level.Level()
}

// Follow applies log level changes from a config watcher.
func (l *Logger) Follow(w *config.Watcher) {
	w.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig == nil || oldConfig.Log.Level != newConfig.Log.Level {
			l.SetLevel(newConfig.Log.Level)
			l.Info("log level changed", "level", newConfig.Log.Level)
		}
	})
}

// Close releases a file output. Standard streams are left open.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

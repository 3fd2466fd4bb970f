// Package log provides structured logging for the ChainEquity cap-table
// indexer. It wraps zerolog with indexer-specific conveniences such as
// per-module child loggers.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with indexer-specific context.
type Logger struct {
	inner zerolog.Logger
}

// defaultLogger is the process-wide logger used by the package-level
// convenience functions.
var defaultLogger *Logger

func init() {
	defaultLogger = New(os.Stderr, zerolog.InfoLevel, false)
}

// New creates a Logger that writes to w at the given level. When console is
// true the output is human-readable; otherwise each entry is a JSON line.
func New(w io.Writer, level zerolog.Level, console bool) *Logger {
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{inner: zl}
}

// ParseLevel maps a configuration string ("debug", "info", "warn", "error")
// to a zerolog level. Unrecognized values fall back to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// SetDefault replaces the package-level default logger.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger = l
	}
}

// Default returns the current package-level default logger.
func Default() *Logger {
	return defaultLogger
}

// Module returns a child logger with an additional "module" field. This is
// the primary way subsystems (indexer, store, chain, api, ...) obtain their
// own contextual logger.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With().Str("module", name).Logger()}
}

// With returns a child logger with an additional string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{inner: l.inner.With().Str(key, value).Logger()}
}

// Debug logs at debug level with alternating key-value pairs.
func (l *Logger) Debug(msg string, args ...any) { emit(l.inner.Debug(), msg, args) }

// Info logs at info level with alternating key-value pairs.
func (l *Logger) Info(msg string, args ...any) { emit(l.inner.Info(), msg, args) }

// Warn logs at warn level with alternating key-value pairs.
func (l *Logger) Warn(msg string, args ...any) { emit(l.inner.Warn(), msg, args) }

// Error logs at error level with alternating key-value pairs.
func (l *Logger) Error(msg string, args ...any) { emit(l.inner.Error(), msg, args) }

func emit(e *zerolog.Event, msg string, args []any) {
	if len(args) > 0 {
		e = e.Fields(args)
	}
	e.Msg(msg)
}

// ---------------------------------------------------------------------------
// Package-level convenience functions -- delegate to defaultLogger.
// ---------------------------------------------------------------------------

// Debug logs at debug level using the default logger.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }

// Info logs at info level using the default logger.
func Info(msg string, args ...any) { defaultLogger.Info(msg, args...) }

// Warn logs at warn level using the default logger.
func Warn(msg string, args ...any) { defaultLogger.Warn(msg, args...) }

// Error logs at error level using the default logger.
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// Package logging wraps log/slog with the structured fields used across the
// module.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler logs text
// at Info to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger creates a Logger writing JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger writing human readable records to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// ParseLevel maps debug, info, warn and error to a level, defaulting to
// Info.
func ParseLevel(name string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// WithComponent tags every record with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithK adds a neighbour count field.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{Logger: l.Logger.With("k", k)}
}

// LogInsert logs the insertion of one element.
func (l *Logger) LogInsert(ctx context.Context, id string, size int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "insert completed", "id", id, "size", size)
}

// LogRemove logs the removal of one element.
func (l *Logger) LogRemove(ctx context.Context, id string, found bool, size int) {
	l.DebugContext(ctx, "remove completed", "id", id, "found", found, "size", size)
}

// LogEvict logs a bulk eviction.
func (l *Logger) LogEvict(ctx context.Context, requested, removed, size int) {
	l.DebugContext(ctx, "evict completed", "requested", requested, "removed", removed, "size", size)
}

// LogQuery logs a nearest neighbour query.
func (l *Logger) LogQuery(ctx context.Context, k, found int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed", "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "query completed", "k", k, "results", found, "elapsed", elapsed)
}

// LogBuild logs a bulk load.
func (l *Logger) LogBuild(ctx context.Context, count, height int, elapsed time.Duration) {
	l.InfoContext(ctx, "build completed", "count", count, "height", height, "elapsed", elapsed)
}

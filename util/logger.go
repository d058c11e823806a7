package util

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with index-specific helpers so that field names
// stay consistent across packages.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler logs text
// to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))
}

// With returns a Logger carrying the given attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

func (l *Logger) LogInsert(ctx context.Context, block uint32, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "path", path, "error", err)
		return
	}
	l.DebugContext(ctx, "insert completed", "block", block, "path", path)
}

func (l *Logger) LogScan(ctx context.Context, pages uint32, candidates uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scan failed", "pages", pages, "error", err)
		return
	}
	l.DebugContext(ctx, "scan completed", "pages", pages, "candidates", candidates)
}

func (l *Logger) LogVacuum(ctx context.Context, phase string, removed, remaining int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "vacuum failed", "phase", phase, "error", err)
		return
	}
	l.InfoContext(ctx, "vacuum completed",
		"phase", phase,
		"removed", removed,
		"remaining", remaining,
	)
}

package flatdb

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with flatdb-specific context.
// Field names are shared by every store operation.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
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

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPath adds the store path to every record.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// LogLoad logs an index rebuild.
func (l *Logger) LogLoad(ctx context.Context, slots int64, live int, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"slots", slots,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "load completed",
		"slots", slots,
		"live", live,
		"tombstones", slots-int64(live),
		"elapsed", elapsed,
	)
}

// LogRewrite logs a bulk rewrite.
func (l *Logger) LogRewrite(ctx context.Context, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rewrite failed",
			"records", records,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "rewrite completed",
		"records", records,
	)
}

// LogOptimize logs a compaction.
func (l *Logger) LogOptimize(ctx context.Context, before, after int64, records int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "optimize failed",
			"size_before", before,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "optimize completed",
		"size_before", before,
		"size_after", after,
		"records", records,
	)
}

// LogMerge logs the outcome of a merge.
func (l *Logger) LogMerge(ctx context.Context, source string, policy MergePolicy, copied, conflicts int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "merge failed",
			"source", source,
			"policy", policy.String(),
			"copied", copied,
			"conflicts", conflicts,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "merge completed",
		"source", source,
		"policy", policy.String(),
		"copied", copied,
		"conflicts", conflicts,
	)
}

// LogConflict logs a key present in both merge participants.
func (l *Logger) LogConflict(ctx context.Context, key any, policy MergePolicy) {
	l.WarnContext(ctx, "merge conflict",
		"key", key,
		"policy", policy.String(),
	)
}

// LogClose logs a store close and the size the file was truncated to.
func (l *Logger) LogClose(ctx context.Context, size int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "close failed",
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "store closed",
		"size", size,
	)
}

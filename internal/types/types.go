// Package types provides internal types shared across snmpcollect packages.
package types

import (
	"context"
	"log/slog"
)

// LevelTrace is a custom log level more verbose than Debug.
// Use for per-item logging (datagrams, varbinds, samples).
// Enable with: &slog.HandlerOptions{Level: slog.Level(-8)}
const LevelTrace = slog.Level(-8)

// ctx is a package-level context for logging.
var ctx = context.Background()

// Logger wraps slog.Logger with nil-safe helpers. The zero value discards
// everything.
type Logger struct {
	L *slog.Logger
}

// Component returns a Logger tagged with the given component name, or a
// disabled Logger when l is nil.
func Component(l *slog.Logger, component string) Logger {
	if l == nil {
		return Logger{}
	}
	return Logger{L: l.With(slog.String("component", component))}
}

// With returns a Logger carrying additional attributes.
func (l Logger) With(attrs ...any) Logger {
	if l.L == nil {
		return l
	}
	return Logger{L: l.L.With(attrs...)}
}

// Enabled returns true if logging is enabled at the given level.
func (l Logger) Enabled(level slog.Level) bool {
	return l.L != nil && l.L.Enabled(ctx, level)
}

// Log emits a log message if logging is enabled.
func (l Logger) Log(level slog.Level, msg string, attrs ...slog.Attr) {
	if l.L != nil && l.L.Enabled(ctx, level) {
		l.L.LogAttrs(ctx, level, msg, attrs...)
	}
}

func (l Logger) Debug(msg string, attrs ...slog.Attr) { l.Log(slog.LevelDebug, msg, attrs...) }
func (l Logger) Info(msg string, attrs ...slog.Attr)  { l.Log(slog.LevelInfo, msg, attrs...) }
func (l Logger) Warn(msg string, attrs ...slog.Attr)  { l.Log(slog.LevelWarn, msg, attrs...) }
func (l Logger) Error(msg string, attrs ...slog.Attr) { l.Log(slog.LevelError, msg, attrs...) }

// TraceEnabled returns true if trace-level logging is enabled.
func (l Logger) TraceEnabled() bool {
	return l.Enabled(LevelTrace)
}

// Trace emits a trace-level log.
func (l Logger) Trace(msg string, attrs ...slog.Attr) {
	l.Log(LevelTrace, msg, attrs...)
}

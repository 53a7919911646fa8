// Package plog provides the application's global leveled logger, built on
// log/slog. Informational output goes to stdout while warnings and errors go
// to stderr, so shell pipelines and cron mails separate cleanly.
package plog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Level is the log level used by plog. It maps onto slog levels with one
// addition: NOTICE sits between INFO and WARN for operational events that
// should stand out from routine progress output (e.g. deletions).
type Level int

const (
	LevelDebug  Level = Level(slog.LevelDebug)
	LevelInfo   Level = Level(slog.LevelInfo)
	LevelNotice Level = Level(slog.LevelInfo + 2)
	LevelWarn   Level = Level(slog.LevelWarn)
	LevelError  Level = Level(slog.LevelError)
)

// LevelFromString parses a level name, defaulting to info on unknown input.
func LevelFromString(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "notice":
		return LevelNotice
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// LevelDispatchHandler is a slog.Handler that writes log records to different
// handlers based on the record's level. INFO and below go to one handler,
// while WARNING and above go to another.
type LevelDispatchHandler struct {
	stdoutHandler slog.Handler
	stderrHandler slog.Handler
}

// Enabled checks if the level is enabled for either of the underlying handlers.
func (h *LevelDispatchHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.stdoutHandler.Enabled(ctx, level) || h.stderrHandler.Enabled(ctx, level)
}

// Handle dispatches the record to the appropriate handler.
func (h *LevelDispatchHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderrHandler.Handle(ctx, r)
	}
	return h.stdoutHandler.Handle(ctx, r)
}

// WithAttrs returns a new LevelDispatchHandler with the given attributes added.
func (h *LevelDispatchHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithAttrs(attrs),
		stderrHandler: h.stderrHandler.WithAttrs(attrs),
	}
}

// WithGroup returns a new LevelDispatchHandler with the given group.
func (h *LevelDispatchHandler) WithGroup(name string) slog.Handler {
	return &LevelDispatchHandler{
		stdoutHandler: h.stdoutHandler.WithGroup(name),
		stderrHandler: h.stderrHandler.WithGroup(name),
	}
}

var defaultLogger atomic.Pointer[slog.Logger]
var currentLevel = new(slog.LevelVar)

// replaceLevelName renames the synthetic NOTICE level in handler output.
func replaceLevelName(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && Level(lvl) == LevelNotice {
			a.Value = slog.StringValue("NOTICE")
		}
	}
	return a
}

func init() {
	handlerOpts := &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: replaceLevelName,
	}

	defaultLogger.Store(slog.New(&LevelDispatchHandler{
		stdoutHandler: slog.NewTextHandler(os.Stdout, handlerOpts),
		stderrHandler: slog.NewTextHandler(os.Stderr, handlerOpts),
	}))
}

// Default returns the logger currently backing the package-level functions.
func Default() *slog.Logger {
	return defaultLogger.Load()
}

// SetLevel sets the minimum level emitted by the global logger.
func SetLevel(l Level) {
	currentLevel.Set(slog.Level(l))
}

// SetOutput allows redirecting the logger's output, primarily for testing.
// All levels are written to the provided writer.
func SetOutput(w io.Writer) {
	defaultLogger.Store(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       currentLevel,
		ReplaceAttr: replaceLevelName,
	})))
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelDebug), msg, args...)
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelInfo), msg, args...)
}

// Notice logs an operational event that should stand out from info output.
func Notice(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelNotice), msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelWarn), msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Default().Log(context.Background(), slog.Level(LevelError), msg, args...)
}

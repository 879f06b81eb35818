// Package slogger adapts log/slog to the glog.Logger contract used across
// gatekeeper components.
package slogger

import (
	"context"
	"log/slog"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

// LevelTrace sits below slog's debug level.
const LevelTrace = slog.LevelDebug - 4

type Logger struct {
	logger *slog.Logger
	ctx    context.Context
}

// New wraps logger, falling back to slog.Default when nil.
func New(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

func (l *Logger) Trace(msg string, args ...any) { l.log(LevelTrace, msg, args) }
func (l *Logger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args) }
func (l *Logger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args) }
func (l *Logger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args) }
func (l *Logger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args) }

// Fatal logs at error level and exits the process.
func (l *Logger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args)
	os.Exit(1)
}

func (l *Logger) WithContext(ctx context.Context) glog.Logger {
	return &Logger{logger: l.logger, ctx: ctx}
}

// WithFields returns a logger that attaches fields to every record.
func (l *Logger) WithFields(fields map[string]any) glog.Logger {
	attrs := make([]any, 0, len(fields))
	for key, value := range fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	return &Logger{logger: l.logger.With(attrs...), ctx: l.ctx}
}

// GetLogger makes Logger usable as a glog.LoggerProvider.
func (l *Logger) GetLogger(name string) glog.Logger {
	if name == "" {
		return l
	}
	return &Logger{logger: l.logger.With(slog.String("logger", name)), ctx: l.ctx}
}

func (l *Logger) log(level slog.Level, msg string, args []any) {
	ctx := l.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

var (
	_ glog.Logger         = (*Logger)(nil)
	_ glog.LoggerProvider = (*Logger)(nil)
)

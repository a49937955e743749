// Package logger is the process-wide structured logger. Lines are JSON and
// pick up request scoped values stored in the context.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
)

type contextKey string

// Context keys copied onto every line logged with a context.
const (
	RequestIDKey contextKey = "request_id"
	SubjectKey   contextKey = "subject" // device id or user id from the bearer token
)

var contextKeys = []contextKey{RequestIDKey, SubjectKey}

var base = New(os.Stdout, os.Getenv("LOG_LEVEL"))

func init() {
	slog.SetDefault(base)
}

// New builds a JSON logger writing to w. level "debug" enables debug output.
func New(w io.Writer, level string) *slog.Logger {
	lvl := slog.LevelInfo
	if level == "debug" {
		lvl = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// SetService tags every subsequent log line with the service name.
func SetService(name string) {
	base = base.With("service", name)
	slog.SetDefault(base)
}

func scoped(ctx context.Context) *slog.Logger {
	l := base
	for _, k := range contextKeys {
		if v := ctx.Value(k); v != nil {
			l = l.With(string(k), v)
		}
	}
	return l
}

func Info(msg string, args ...any)  { base.Info(msg, args...) }
func Warn(msg string, args ...any)  { base.Warn(msg, args...) }
func Error(msg string, args ...any) { base.Error(msg, args...) }

func InfoContext(ctx context.Context, msg string, args ...any) {
	scoped(ctx).InfoContext(ctx, msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	scoped(ctx).WarnContext(ctx, msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	scoped(ctx).ErrorContext(ctx, msg, args...)
}

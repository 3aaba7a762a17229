// Package observability holds the structured logger and the request-scoped
// correlation id.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type ctxKey string

const (
	ctxKeyCorrelationID ctxKey = "correlation_id"
	ctxKeyLogger        ctxKey = "logger"
)

// ParseLevel maps debug, info, warn or error onto a slog level. An empty
// string means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("observability: unknown log level %q", s)
	}
}

// NewLogger returns a JSON logger writing to w.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// WithCorrelationID stores the correlation id in the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyCorrelationID, id)
}

// CorrelationID returns the id stored by WithCorrelationID, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCorrelationID).(string)
	return id
}

// WithLogger stores a base logger in the context.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, l)
}

// LoggerFromContext returns the context's logger, or fallback, with the
// correlation id attached when present.
func LoggerFromContext(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	l, _ := ctx.Value(ctxKeyLogger).(*slog.Logger)
	if l == nil {
		l = fallback
	}
	if l == nil {
		l = slog.Default()
	}
	if id := CorrelationID(ctx); id != "" {
		return l.With("correlation_id", id)
	}
	return l
}

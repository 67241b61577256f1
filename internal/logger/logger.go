// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and carries a
// per-symbol load ID through context.Context so all log lines of one
// session load can be correlated.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

type ctxKey string

const loadIDKey ctxKey = "load_id"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
func Init(service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log/slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// WithLoadID stores a load ID in the context for downstream propagation.
func WithLoadID(ctx context.Context, loadID string) context.Context {
	return context.WithValue(ctx, loadIDKey, loadID)
}

// LoadID extracts the load ID from context. Returns "" if not set.
func LoadID(ctx context.Context) string {
	if v, ok := ctx.Value(loadIDKey).(string); ok {
		return v
	}
	return ""
}

// NewLoadID creates a load ID from a symbol and timestamp.
// Format: "{symbol}-{unixNano}" — lightweight, no UUID dependency.
func NewLoadID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, ts.UnixNano())
}

// WithLoad returns slog attributes including the load ID from context.
// Usage: slog.Info("msg", logger.WithLoad(ctx)...)
func WithLoad(ctx context.Context) []any {
	id := LoadID(ctx)
	if id == "" {
		return nil
	}
	return []any{slog.String("load_id", id)}
}

package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"psd2gateway/internal/common/types"
)

// Context keys for logging attributes
type contextKey string

const (
	correlationIDKey     contextKey = "x_request_id"
	internalRequestIDKey contextKey = "internal_request_id"
)

// Config holds logging configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// Setup initializes the global logger with the given configuration.
func Setup(cfg Config) {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID stores the TPP X-Request-ID in the context.
func WithCorrelationID(ctx context.Context, id types.CorrelationID) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// WithInternalRequestID stores the gateway-generated request id in the context.
func WithInternalRequestID(ctx context.Context, id types.InternalRequestID) context.Context {
	return context.WithValue(ctx, internalRequestIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID from context.
func CorrelationIDFromContext(ctx context.Context) types.CorrelationID {
	if id, ok := ctx.Value(correlationIDKey).(types.CorrelationID); ok {
		return id
	}
	return ""
}

// InternalRequestIDFromContext extracts the internal request ID from context.
func InternalRequestIDFromContext(ctx context.Context) types.InternalRequestID {
	if id, ok := ctx.Value(internalRequestIDKey).(types.InternalRequestID); ok {
		return id
	}
	return ""
}

// FromContext returns a logger carrying the request ids found in ctx.
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if corrID := CorrelationIDFromContext(ctx); !corrID.IsEmpty() {
		logger = logger.With("x_request_id", corrID.String())
	}

	if reqID := InternalRequestIDFromContext(ctx); !reqID.IsEmpty() {
		logger = logger.With("internal_request_id", reqID.String())
	}

	return logger
}

// Info logs at info level.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// InfoContext logs at info level with context attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).InfoContext(ctx, msg, args...)
}

// DebugContext logs at debug level with context attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).DebugContext(ctx, msg, args...)
}

// WarnContext logs at warn level with context attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).WarnContext(ctx, msg, args...)
}

// ErrorContext logs at error level with context attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	FromContext(ctx).ErrorContext(ctx, msg, args...)
}

package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/sqlscribe/sqlscribe/internal/config"
)

type ctxKey string

const traceIDAttr = "trace_id"

const traceIDKey ctxKey = "trace_id"

// NewLogger writes JSON or text records tagged with the service and profile.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	} else {
		handler = slog.NewTextHandler(writer, &slog.HandlerOptions{Level: cfg.Observability.LogLevel})
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	value, ok := ctx.Value(traceIDKey).(string)
	if !ok {
		return ""
	}
	return value
}

// TraceAttr is the trace_id attribute for records logged while serving ctx.
func TraceAttr(ctx context.Context) slog.Attr {
	return slog.String(traceIDAttr, TraceIDFromContext(ctx))
}

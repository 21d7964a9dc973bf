package observability

import (
	"context"
	"io"
	"log/slog"

	"github.com/askdb/askdb/internal/config"
)

type traceIDKey struct{}

// NewLogger builds the process logger. Records logged with a request context
// carry that request's trace_id.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Observability.LogLevel,
		AddSource: cfg.Observability.LogLevel <= slog.LevelDebug,
	}
	var base slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		base = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(traceHandler{Handler: base}).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
	)
}

// LoggerOrDiscard lets components accept an optional logger.
func LoggerOrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
}

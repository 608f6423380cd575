package logger

import (
	"context"
	"log/slog"
)

// ConnIDKey is the attribute key for connection IDs.
const ConnIDKey = "conn_id"

type connIDKey struct{}

// WithConnID returns a context carrying a connection ID. Records logged
// with that context through a logger from New get a conn_id attribute.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnIDFromContext returns the connection ID carried by ctx, or "".
func ConnIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}

// connIDHandler adds the context's connection ID to each record.
type connIDHandler struct {
	slog.Handler
}

func (h connIDHandler) Handle(ctx context.Context, r slog.Record) error {
	if id := ConnIDFromContext(ctx); id != "" {
		r.AddAttrs(slog.String(ConnIDKey, id))
	}
	return h.Handler.Handle(ctx, r)
}

func (h connIDHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return connIDHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h connIDHandler) WithGroup(name string) slog.Handler {
	return connIDHandler{Handler: h.Handler.WithGroup(name)}
}

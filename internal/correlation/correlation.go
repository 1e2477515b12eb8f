// Package correlation tags every request with a short ID so log lines from
// one vote submission can be stitched together across the engine layers.
package correlation

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// NewRequestID returns an 8-character hex ID derived from a random UUID.
// Short on purpose: it prefixes every log line of a request.
func NewRequestID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// WithRequestID stores the request ID on the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID reads the request ID back, reporting false when absent or empty.
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}

// LogHandler decorates a slog.Handler so records logged with a
// request-carrying context pick up a "request_id" attribute.
type LogHandler struct {
	inner slog.Handler
}

func NewLogHandler(inner slog.Handler) *LogHandler {
	return &LogHandler{inner: inner}
}

func (h *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *LogHandler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := RequestID(ctx); ok {
		r.AddAttrs(slog.String("request_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("request id log handler: %w", err)
	}
	return nil
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: h.inner.WithGroup(name)}
}

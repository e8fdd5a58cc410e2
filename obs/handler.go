package obs

import (
	"context"
	"log/slog"
)

// LogHandler is a slog.Handler that tees records into the hub's log ring
// while forwarding them to an inner handler. Wrap the process logger with
// it so operator log queries see everything the process logs.
type LogHandler struct {
	inner  slog.Handler
	hub    *Hub
	source string
}

var _ slog.Handler = (*LogHandler)(nil)

// NewLogHandler wraps inner, recording every handled record into hub
// under the given default source.
func NewLogHandler(inner slog.Handler, hub *Hub, source string) *LogHandler {
	return &LogHandler{inner: inner, hub: hub, source: source}
}

// Enabled implements slog.Handler.
func (l *LogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

// Handle implements slog.Handler.
func (l *LogHandler) Handle(ctx context.Context, rec slog.Record) error {
	l.hub.RecordLog(rec.Level, l.source, rec.Message)
	return l.inner.Handle(ctx, rec)
}

// WithAttrs implements slog.Handler.
func (l *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LogHandler{inner: l.inner.WithAttrs(attrs), hub: l.hub, source: l.source}
}

// WithGroup implements slog.Handler.
func (l *LogHandler) WithGroup(name string) slog.Handler {
	return &LogHandler{inner: l.inner.WithGroup(name), hub: l.hub, source: l.source}
}

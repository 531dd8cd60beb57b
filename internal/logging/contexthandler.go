package logging

import (
	"context"
	"log/slog"
)

// StateProvider returns attributes describing current engine state,
// evaluated per record so values stay live.
type StateProvider func() []slog.Attr

// ContextHandler stamps dynamic engine state onto every record before
// delegating to the wrapped handler.
type ContextHandler struct {
	inner    slog.Handler
	provider StateProvider
}

// NewContextHandler wraps inner with per-record state attributes.
func NewContextHandler(inner slog.Handler, provider StateProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

// Enabled delegates to the wrapped handler.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle appends the provider's attributes and delegates.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

// WithAttrs keeps the provider attached to the derived handler.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

// WithGroup keeps the provider attached to the derived handler.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}

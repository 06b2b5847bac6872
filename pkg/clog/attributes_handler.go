package clog

import (
	"context"
	"log/slog"
	"maps"
	"slices"
)

// AttributesHandler tags every record with the attributes collected on its
// context by AddAttribute, in key order, then hands it to the next handler.
// Records logged with a context that was never passed to ContextWithSlog go
// through untouched.
type AttributesHandler struct {
	next slog.Handler
}

// NewAttributesHandler wraps next.
func NewAttributesHandler(next slog.Handler) *AttributesHandler {
	return &AttributesHandler{next: next}
}

func (h *AttributesHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *AttributesHandler) Handle(ctx context.Context, record slog.Record) error {
	if attrs := GetAttributes(ctx); len(attrs) > 0 {
		record.AddAttrs(sortedAttrs(attrs)...)
	}
	return h.next.Handle(ctx, record)
}

func (h *AttributesHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return NewAttributesHandler(h.next.WithAttrs(attrs))
}

func (h *AttributesHandler) WithGroup(name string) slog.Handler {
	return NewAttributesHandler(h.next.WithGroup(name))
}

// sortedAttrs keeps the output stable across records with the same context.
func sortedAttrs(m map[string]any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		attrs = append(attrs, slog.Any(k, m[k]))
	}
	return attrs
}

package masking

import (
	"context"
	"log/slog"
)

// Handler wraps a slog.Handler and masks the message and every string
// attribute value before the record reaches the inner handler.
type Handler struct {
	inner  slog.Handler
	masker *Masker
}

// NewHandler wraps inner with PII masking.
func NewHandler(inner slog.Handler, masker *Masker) *Handler {
	return &Handler{inner: inner, masker: masker}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, h.masker.Mask(record.Message), record.PC)
	record.Attrs(func(attr slog.Attr) bool {
		masked.AddAttrs(h.maskAttr(attr))
		return true
	})
	return h.inner.Handle(ctx, masked)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		maskedAttrs[i] = h.maskAttr(attr)
	}
	return &Handler{inner: h.inner.WithAttrs(maskedAttrs), masker: h.masker}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), masker: h.masker}
}

func (h *Handler) maskAttr(attr slog.Attr) slog.Attr {
	switch attr.Value.Kind() {
	case slog.KindString:
		attr.Value = slog.StringValue(h.masker.Mask(attr.Value.String()))
	case slog.KindGroup:
		group := attr.Value.Group()
		masked := make([]slog.Attr, len(group))
		for i, member := range group {
			masked[i] = h.maskAttr(member)
		}
		attr.Value = slog.GroupValue(masked...)
	}
	return attr
}

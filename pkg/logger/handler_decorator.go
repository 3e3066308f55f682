package logger

import (
	"context"
	"log/slog"
	"slices"
)

// ContextExtractor extracts a slog attribute from context.
type ContextExtractor func(ctx context.Context) (slog.Attr, bool)

type ctxAttrsKey struct{}

// WithContextAttrs returns ctx carrying attrs in addition to the ones it
// already carries. Records logged with the returned context get them through
// LogHandlerDecorator, so the module being loaded or the handler being called
// show up in every record logged below that point, Lua log() calls included.
func WithContextAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	prev := ContextAttrs(ctx)
	return context.WithValue(ctx, ctxAttrsKey{}, append(slices.Clip(prev), attrs...))
}

// ContextAttrs returns the attributes added to ctx with WithContextAttrs,
// innermost last.
func ContextAttrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	attrs, _ := ctx.Value(ctxAttrsKey{}).([]slog.Attr)
	return attrs
}

// LogHandlerDecorator wraps a slog.Handler and adds context attributes and
// extractor results to each record that passes the level check. A key the
// record or the logger already has is never added twice; for context
// attributes the innermost value wins.
type LogHandlerDecorator struct {
	next       slog.Handler
	extractors []ContextExtractor
	// keys set through WithAttrs before any WithGroup.
	keys    map[string]struct{}
	grouped bool
}

// NewLogHandlerDecorator creates a new decorated handler. Nil extractors are dropped.
func NewLogHandlerDecorator(next slog.Handler, extractors ...ContextExtractor) slog.Handler {
	clean := make([]ContextExtractor, 0, len(extractors))
	for _, ex := range extractors {
		if ex != nil {
			clean = append(clean, ex)
		}
	}
	return &LogHandlerDecorator{next: next, extractors: clean}
}

func (h *LogHandlerDecorator) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *LogHandlerDecorator) Handle(ctx context.Context, rec slog.Record) error {
	ctxAttrs := ContextAttrs(ctx)
	if ctx == nil || (len(h.extractors) == 0 && len(ctxAttrs) == 0) {
		return h.next.Handle(ctx, rec)
	}

	seen := make(map[string]struct{}, len(h.keys)+rec.NumAttrs())
	for k := range h.keys {
		seen[k] = struct{}{}
	}
	rec.Attrs(func(a slog.Attr) bool {
		seen[a.Key] = struct{}{}
		return true
	})
	add := func(a slog.Attr) {
		if a.Key == "" {
			return
		}
		if _, ok := seen[a.Key]; ok {
			return
		}
		seen[a.Key] = struct{}{}
		rec.AddAttrs(a)
	}

	for i := len(ctxAttrs) - 1; i >= 0; i-- {
		add(ctxAttrs[i])
	}
	for _, ex := range h.extractors {
		if attr, ok := ex(ctx); ok {
			add(attr)
		}
	}
	return h.next.Handle(ctx, rec)
}

func (h *LogHandlerDecorator) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := h.clone()
	out.next = h.next.WithAttrs(attrs)
	if !h.grouped {
		for _, a := range attrs {
			out.keys[a.Key] = struct{}{}
		}
	}
	return out
}

func (h *LogHandlerDecorator) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	out := h.clone()
	out.next = h.next.WithGroup(name)
	out.grouped = true
	return out
}

func (h *LogHandlerDecorator) clone() *LogHandlerDecorator {
	keys := make(map[string]struct{}, len(h.keys))
	for k := range h.keys {
		keys[k] = struct{}{}
	}
	return &LogHandlerDecorator{
		next:       h.next,
		extractors: h.extractors,
		keys:       keys,
		grouped:    h.grouped,
	}
}

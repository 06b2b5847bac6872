package clog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
)

// leadColumns are printed on the header line, before the message.
var leadColumns = []string{"project_id", "task_id", "method", "path", "status"}

type TextHandlerConfig struct {
	Color bool
	Level slog.Leveler
}

type TextHandlerOption func(*TextHandlerConfig)

func WithColor(c bool) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Color = c
	}
}

func WithLevel(level slog.Leveler) TextHandlerOption {
	return func(cfg *TextHandlerConfig) {
		cfg.Level = level
	}
}

// TextHandler writes human-oriented records: a coloured header line followed
// by one indented key=value line per remaining attribute.
type TextHandler struct {
	cfg    TextHandlerConfig
	groups []string
	attrs  []slog.Attr
	mu     *sync.Mutex
	w      io.Writer
}

func NewTextHandler(w io.Writer, opts ...TextHandlerOption) *TextHandler {
	cfg := TextHandlerConfig{
		Color: true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TextHandler{
		cfg: cfg,
		mu:  &sync.Mutex{},
		w:   w,
	}
}

func (h *TextHandler) clone() *TextHandler {
	nh := *h
	nh.groups = make([]string, len(h.groups))
	copy(nh.groups, h.groups)
	nh.attrs = make([]slog.Attr, len(h.attrs))
	copy(nh.attrs, h.attrs)
	return &nh
}

func (h *TextHandler) Enabled(_ context.Context, l slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.cfg.Level != nil {
		minLevel = h.cfg.Level.Level()
	}
	return l >= minLevel
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.groups = append(h2.groups, name)
	return h2
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *TextHandler) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if h.cfg.Color {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func (h *TextHandler) Handle(_ context.Context, record slog.Record) error {
	buf := &bytes.Buffer{}

	plain := h.paint()
	plain.Fprintf(buf, "%s ", record.Time.Format(time.RFC3339))

	var levelColor color.Attribute
	switch {
	case record.Level >= slog.LevelError:
		levelColor = color.FgRed
	case record.Level >= slog.LevelWarn:
		levelColor = color.FgYellow
	case record.Level >= slog.LevelInfo:
		levelColor = color.FgBlue
	default:
		levelColor = color.FgCyan
	}
	h.paint(levelColor).Fprintf(buf, "%s ", record.Level)

	kv := map[string]slog.Value{}
	prefix := ""
	for _, g := range h.groups {
		prefix += g + "."
	}
	for _, attr := range h.attrs {
		kv[attr.Key] = attr.Value
	}
	record.Attrs(func(attr slog.Attr) bool {
		kv[prefix+attr.Key] = attr.Value
		return true
	})
	for _, key := range leadColumns {
		if v, ok := kv[key]; ok {
			plain.Fprintf(buf, "%s ", v)
			delete(kv, key)
		}
	}

	h.paint(color.FgGreen).Fprintf(buf, "%s", record.Message)
	if e, ok := kv[ErrorAttributeKey]; ok {
		delete(kv, ErrorAttributeKey)
		h.paint(color.FgRed).Fprintf(buf, " %s", e)
	}
	buf.WriteString("\n")

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(buf, "    %s=%s\n", k, kv[k])
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, err := h.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("can't write record: %w", err)
	}
	return nil
}

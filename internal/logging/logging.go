// Package logging builds the process logger and keeps recent entries in
// memory for the API
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ParseLevel maps a config level name onto a slog level
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New creates a logger writing to w in the given format ("json" or
// "text"). LOG_LEVEL overrides level. When buf is non-nil every record is
// also kept there.
func New(w io.Writer, level, format string, buf *RingBuffer) (*slog.Logger, error) {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		level = env
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	if buf != nil {
		h = &bufferHandler{buffer: buf, next: h}
	}
	return slog.New(h), nil
}

// Entry is one captured log record
type Entry struct {
	Time      time.Time              `json:"time"`
	Level     string                 `json:"level"`
	Message   string                 `json:"msg"`
	Component string                 `json:"component,omitempty"`
	Attrs     map[string]interface{} `json:"attrs,omitempty"`
}

// RingBuffer holds the most recent log entries
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// NewRingBuffer creates a buffer holding up to size entries
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1
	}
	return &RingBuffer{entries: make([]Entry, size)}
}

// Add stores an entry, evicting the oldest when full
func (rb *RingBuffer) Add(e Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = e
	rb.head = (rb.head + 1) % len(rb.entries)
	if rb.count < len(rb.entries) {
		rb.count++
	}
}

// Recent returns up to n entries, oldest first
func (rb *RingBuffer) Recent(n int) []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || n > rb.count {
		n = rb.count
	}
	size := len(rb.entries)
	out := make([]Entry, n)
	start := (rb.head - n + size) % size
	for i := 0; i < n; i++ {
		out[i] = rb.entries[(start+i)%size]
	}
	return out
}

// bufferHandler copies records into a RingBuffer before passing them on.
// Grouped attributes are stored under dotted keys ("group.key").
type bufferHandler struct {
	buffer *RingBuffer
	next   slog.Handler
	attrs  []scopedAttr
	groups []string
}

// scopedAttr is an attribute together with the groups open when it was added
type scopedAttr struct {
	prefix string
	attr   slog.Attr
}

func (h *bufferHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *bufferHandler) Handle(ctx context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}

	for _, sa := range h.attrs {
		e.collect(sa.prefix, sa.attr)
	}
	prefix := h.prefix()
	r.Attrs(func(a slog.Attr) bool {
		e.collect(prefix, a)
		return true
	})

	h.buffer.Add(e)
	return h.next.Handle(ctx, r)
}

func (h *bufferHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := h.prefix()
	merged := make([]scopedAttr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	for _, a := range attrs {
		merged = append(merged, scopedAttr{prefix: prefix, attr: a})
	}
	return &bufferHandler{buffer: h.buffer, next: h.next.WithAttrs(attrs), attrs: merged, groups: h.groups}
}

func (h *bufferHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &bufferHandler{buffer: h.buffer, next: h.next.WithGroup(name), attrs: h.attrs, groups: groups}
}

func (h *bufferHandler) prefix() string {
	return strings.Join(h.groups, ".")
}

// collect flattens a into the entry. Only a top-level "component" attr
// sets the entry's component.
func (e *Entry) collect(prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	key := joinKey(prefix, a.Key)

	if v.Kind() == slog.KindGroup {
		for _, ga := range v.Group() {
			e.collect(key, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if key == "component" {
		e.Component = v.String()
		return
	}
	if e.Attrs == nil {
		e.Attrs = make(map[string]interface{})
	}
	e.Attrs[key] = v.Any()
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	default:
		return prefix + "." + key
	}
}

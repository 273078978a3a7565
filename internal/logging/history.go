package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one retained log record.
type Entry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Module  string            `json:"module"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// History keeps the most recent log records in a fixed-size ring.
type History struct {
	mu      sync.RWMutex
	entries []Entry
	next    int
	full    bool
}

// NewHistory creates a history holding up to n records.
func NewHistory(n int) *History {
	if n < 1 {
		n = 1
	}
	return &History{entries: make([]Entry, n)}
}

func (h *History) add(e Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[h.next] = e
	h.next++
	if h.next == len(h.entries) {
		h.next = 0
		h.full = true
	}
}

// Entries returns retained records oldest first. An empty module matches
// every module; records below minLevel are skipped.
func (h *History) Entries(module string, minLevel slog.Level) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ordered := h.entries[:h.next]
	if h.full {
		ordered = append(append([]Entry(nil), h.entries[h.next:]...), h.entries[:h.next]...)
	}

	out := make([]Entry, 0, len(ordered))
	for _, e := range ordered {
		if module != "" && e.Module != module {
			continue
		}
		if lvl := parseLevel(e.Level); lvl != nil && *lvl < minLevel {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of retained records.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.full {
		return len(h.entries)
	}
	return h.next
}

// historyHandler records into a History. Group names prefix attribute keys.
type historyHandler struct {
	history *History
	level   slog.Leveler
	module  string
	prefix  string
	attrs   map[string]string
}

func newHistoryHandler(history *History, level slog.Leveler) *historyHandler {
	return &historyHandler{history: history, level: level}
}

func (h *historyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *historyHandler) Handle(_ context.Context, r slog.Record) error {
	e := Entry{
		Time:    r.Time,
		Level:   strings.ToLower(r.Level.String()),
		Module:  h.module,
		Message: r.Message,
	}
	attrs := make(map[string]string, len(h.attrs)+r.NumAttrs())
	for k, v := range h.attrs {
		attrs[k] = v
	}
	r.Attrs(func(a slog.Attr) bool {
		flatten(attrs, h.prefix, a)
		return true
	})
	if len(attrs) > 0 {
		e.Attrs = attrs
	}
	h.history.add(e)
	return nil
}

func (h *historyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make(map[string]string, len(h.attrs)+len(attrs))
	for k, v := range h.attrs {
		next.attrs[k] = v
	}
	for _, a := range attrs {
		if a.Key == "module" && h.prefix == "" {
			next.module = a.Value.String()
			continue
		}
		flatten(next.attrs, h.prefix, a)
	}
	return &next
}

func (h *historyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

func flatten(dst map[string]string, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		for _, ga := range v.Group() {
			flatten(dst, prefix+a.Key+".", ga)
		}
	case slog.KindTime:
		dst[prefix+a.Key] = v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			dst[prefix+a.Key] = err.Error()
			return
		}
		dst[prefix+a.Key] = fmt.Sprint(v.Any())
	default:
		dst[prefix+a.Key] = v.String()
	}
}

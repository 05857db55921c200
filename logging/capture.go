package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record with its resolved attributes.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Capture is an slog.Handler that records every log record in memory.
// Tests hand it to the code under test and assert on the entries
// afterwards. The zero value is ready to use:
//
//	capture := &logging.Capture{}
//	logger := slog.New(capture)
//
// Capture is safe for concurrent use. Handlers derived through WithAttrs
// keep recording into the originating Capture.
type Capture struct {
	mu      sync.Mutex
	entries []Entry
}

// Enabled returns true for every level so tests see debug records too.
func (c *Capture) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle records the log record.
func (c *Capture) Handle(ctx context.Context, r slog.Record) error {
	c.add(r, nil)
	return nil
}

// WithAttrs returns a handler recording into the same capture with the
// additional attributes attached to every entry.
func (c *Capture) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureWith{root: c, attrs: attrs}
}

// WithGroup returns the handler unchanged; grouped attributes keep their
// leaf keys, which is enough for test assertions.
func (c *Capture) WithGroup(name string) slog.Handler {
	return c
}

// Entries returns a copy of everything captured so far, in order.
func (c *Capture) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Messages returns just the captured messages, in order.
func (c *Capture) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.Message)
	}
	return out
}

func (c *Capture) add(r slog.Record, bound []slog.Attr) {
	entry := Entry{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, r.NumAttrs()+len(bound)),
	}
	for _, a := range bound {
		entry.Attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		entry.Attrs[a.Key] = a.Value.Resolve().Any()
		return true
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, entry)
}

// captureWith carries attributes accumulated via WithAttrs while
// recording into the root capture.
type captureWith struct {
	root  *Capture
	attrs []slog.Attr
}

func (h *captureWith) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *captureWith) Handle(ctx context.Context, r slog.Record) error {
	h.root.add(r, h.attrs)
	return nil
}

func (h *captureWith) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &captureWith{root: h.root, attrs: merged}
}

func (h *captureWith) WithGroup(name string) slog.Handler {
	return h
}

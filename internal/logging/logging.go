// Package logging provides the plain-text slog handler used by the
// redis-node command.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ErrUnknownLevel is returned by ParseLevel
var ErrUnknownLevel = errors.New("unknown log level")

// NewLogger returns a logger writing plain lines to w at level and above
func NewLogger(w io.Writer, level slog.Level, color bool) *slog.Logger {
	h := NewPlainHandler(w, level)
	h.color = color
	return slog.New(h)
}

// PlainHandler writes one line per record:
//
//	2006-01-02 15:04:05.000 INFO message key=value ...
type PlainHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	minLevel  slog.Leveler
	color     bool
	withAttrs []slog.Attr
	group     string
}

// NewPlainHandler creates a handler writing to w. A nil minLevel enables
// every level.
func NewPlainHandler(w io.Writer, minLevel slog.Leveler) *PlainHandler {
	return &PlainHandler{
		mu:       &sync.Mutex{},
		w:        w,
		minLevel: minLevel,
	}
}

func (h *PlainHandler) Enabled(_ context.Context, lvl slog.Level) bool {
	if h.minLevel == nil {
		return true
	}
	return lvl >= h.minLevel.Level()
}

func (h *PlainHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder

	b.WriteString(r.Time.Format("2006-01-02 15:04:05.000"))
	b.WriteByte(' ')

	levelText := r.Level.String()
	if h.color {
		levelText = colorLevel(levelText)
	}
	b.WriteString(levelText)
	b.WriteByte(' ')
	b.WriteString(r.Message)

	for _, a := range h.withAttrs {
		h.writeAttr(&b, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&b, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *PlainHandler) writeAttr(b *strings.Builder, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	val := a.Value.Resolve().String()
	if strings.ContainsAny(val, " \t\"=") {
		val = fmt.Sprintf("%q", val)
	}
	b.WriteByte(' ')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(val)
}

func (h *PlainHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.withAttrs = append(append([]slog.Attr(nil), h.withAttrs...), attrs...)
	return &cp
}

func (h *PlainHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cp := *h
	if cp.group != "" {
		name = cp.group + "." + name
	}
	cp.group = name
	return &cp
}

func colorLevel(level string) string {
	const reset = "\x1b[0m"

	switch level {
	case "DEBUG":
		return "\x1b[36m" + level + reset
	case "INFO":
		return "\x1b[32m" + level + reset
	case "WARN":
		return "\x1b[33m" + level + reset
	case "ERROR":
		return "\x1b[31m" + level + reset
	default:
		return level
	}
}

// ParseLevel maps debug, info, warn (or warning) and error to a slog
// level, ignoring case
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrUnknownLevel, s)
	}
}

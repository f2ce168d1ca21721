// Package logging provides structured logging for ssh-action, including a
// handler that renders records as CI workflow annotations.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// AnnotationHandler is a slog.Handler that renders records as single-line
// GitHub Actions workflow commands. Errors go to errOut as "::error::",
// warnings to out as "::warning::", debug records as "::debug::" and info
// records are printed plainly to out.
type AnnotationHandler struct {
	out    io.Writer
	errOut io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
	mu     *sync.Mutex
}

// NewAnnotationHandler creates a handler writing to out and errOut
func NewAnnotationHandler(out, errOut io.Writer, opts *slog.HandlerOptions) *AnnotationHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &AnnotationHandler{
		out:    out,
		errOut: errOut,
		level:  level,
		mu:     &sync.Mutex{},
	}
}

// Enabled implements slog.Handler
func (h *AnnotationHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler
func (h *AnnotationHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)

	writeAttr := func(a slog.Attr) {
		a.Value = a.Value.Resolve()
		if a.Equal(slog.Attr{}) {
			return
		}
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		fmt.Fprintf(&b, " %s=%v", key, a.Value.Any())
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})

	msg := b.String()
	w := h.out
	var line string
	switch {
	case r.Level >= slog.LevelError:
		w = h.errOut
		line = "::error::" + escapeData(msg)
	case r.Level >= slog.LevelWarn:
		line = "::warning::" + escapeData(msg)
	case r.Level < slog.LevelInfo:
		line = "::debug::" + escapeData(msg)
	default:
		line = msg
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(w, line+"\n")
	return err
}

// WithAttrs implements slog.Handler
func (h *AnnotationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup implements slog.Handler
func (h *AnnotationHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		name = clone.group + "." + name
	}
	clone.group = name
	return &clone
}

// escapeData encodes characters that would otherwise end or split a workflow command
func escapeData(s string) string {
	s = strings.ReplaceAll(s, "%", "%25")
	s = strings.ReplaceAll(s, "\r", "%0D")
	s = strings.ReplaceAll(s, "\n", "%0A")
	return s
}

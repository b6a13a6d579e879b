// Package call runs the per-call supervisor: it owns the AI session and
// agent state for one accepted call and bridges media, events and the
// dashboard.
package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// LogBuffer collects the formatted log lines of one call.
type LogBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (l *LogBuffer) append(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.b.WriteString(line)
	l.b.WriteByte('\n')
}

// String returns the captured log text.
func (l *LogBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

// CaptureHandler is a slog.Handler that forwards every record to the
// inner handler and additionally tees records tagged with a call_id attr
// into that call's LogBuffer. Supervisors attach a buffer for the call's
// duration; records for unattached call ids pass through untouched.
type CaptureHandler struct {
	inner slog.Handler
	attrs []slog.Attr

	mu    *sync.Mutex
	sinks map[string]*LogBuffer
}

// NewCaptureHandler wraps the process log handler.
func NewCaptureHandler(inner slog.Handler) *CaptureHandler {
	return &CaptureHandler{
		inner: inner,
		mu:    &sync.Mutex{},
		sinks: make(map[string]*LogBuffer),
	}
}

// Attach starts capturing records for a call id.
func (h *CaptureHandler) Attach(callID string) *LogBuffer {
	buf := &LogBuffer{}
	h.mu.Lock()
	h.sinks[callID] = buf
	h.mu.Unlock()
	return buf
}

// Detach stops capturing for a call id.
func (h *CaptureHandler) Detach(callID string) {
	h.mu.Lock()
	delete(h.sinks, callID)
	h.mu.Unlock()
}

func (h *CaptureHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CaptureHandler) Handle(ctx context.Context, r slog.Record) error {
	callID := ""
	for _, a := range h.attrs {
		if a.Key == "call_id" {
			callID = a.Value.String()
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "call_id" {
			callID = a.Value.String()
			return false
		}
		return true
	})

	if callID != "" {
		h.mu.Lock()
		buf := h.sinks[callID]
		h.mu.Unlock()
		if buf != nil {
			buf.append(formatRecord(h.attrs, r))
		}
	}

	return h.inner.Handle(ctx, r)
}

func (h *CaptureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &CaptureHandler{
		inner: h.inner.WithAttrs(attrs),
		attrs: merged,
		mu:    h.mu,
		sinks: h.sinks,
	}
}

func (h *CaptureHandler) WithGroup(name string) slog.Handler {
	return &CaptureHandler{
		inner: h.inner.WithGroup(name),
		attrs: h.attrs,
		mu:    h.mu,
		sinks: h.sinks,
	}
}

func formatRecord(handlerAttrs []slog.Attr, r slog.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Time.Format("15:04:05.000"), r.Level, r.Message)
	for _, a := range handlerAttrs {
		if a.Key != "call_id" {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "call_id" {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		}
		return true
	})
	return b.String()
}

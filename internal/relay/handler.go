package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/coffersTech/extrelay/internal/model"
)

// Handler is an slog.Handler that writes records to the log sink as log
// entries. It does not write to local output.
type Handler struct {
	relay  *Relay
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// Handler returns an slog.Handler backed by the log sink. Records below
// level are discarded.
func (r *Relay) Handler(level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{relay: r, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return !h.relay.debug && level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, rec slog.Record) error {
	if h.relay.debug {
		return nil
	}

	var b strings.Builder
	b.WriteString(rec.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	// 1. Stored attributes (from WithAttrs)
	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	// 2. Record attributes
	rec.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, prefix, a)
		return true
	})

	return h.relay.sendLog(model.NewLogEntry(model.LevelFromSlog(rec.Level), b.String()))
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, prefix, ga)
		}
		return
	}
	fmt.Fprintf(b, " %s%s=%v", prefix, a.Key, a.Value.Any())
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if prefix != "" {
			a.Key = prefix + a.Key
		}
		h2.attrs = append(h2.attrs, a)
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

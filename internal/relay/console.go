package relay

import (
	"io"
	"log/slog"

	"github.com/coffersTech/extrelay/internal/model"
)

// NewConsoleLogger returns the local diagnostic logger: a text handler on w
// that prints the critical level by name.
func NewConsoleLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceLevel,
	}))
}

func replaceLevel(groups []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey || len(groups) > 0 {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl >= model.SlogLevelCritical {
		return slog.String(slog.LevelKey, model.LevelCritical.String())
	}
	return a
}

package relay

import (
	"context"

	"github.com/coffersTech/extrelay/internal/model"
	"github.com/coffersTech/extrelay/internal/wire"
)

// LogDebug writes msg locally and, outside debug mode, to the log sink.
func (r *Relay) LogDebug(msg string) error { return r.log(model.LevelDebug, msg) }

// LogInfo writes msg locally and, outside debug mode, to the log sink.
func (r *Relay) LogInfo(msg string) error { return r.log(model.LevelInfo, msg) }

// LogWarn writes msg locally and, outside debug mode, to the log sink.
func (r *Relay) LogWarn(msg string) error { return r.log(model.LevelWarn, msg) }

// LogError writes msg locally and, outside debug mode, to the log sink.
func (r *Relay) LogError(msg string) error { return r.log(model.LevelError, msg) }

// LogCritical writes msg locally and, outside debug mode, to the log sink.
func (r *Relay) LogCritical(msg string) error { return r.log(model.LevelCritical, msg) }

// Log dispatches to the function for lvl.
func (r *Relay) Log(lvl model.Level, msg string) error { return r.log(lvl, msg) }

func (r *Relay) log(lvl model.Level, msg string) error {
	// Always log locally
	r.console.Log(context.Background(), lvl.Slog(), msg)

	if r.debug {
		return nil
	}
	return r.sendLog(model.NewLogEntry(lvl, msg))
}

func (r *Relay) sendLog(e model.LogEntry) error {
	if r.logSink == nil {
		return ErrNoSink
	}
	text, err := e.Encode()
	if err != nil {
		return err
	}
	f, err := wire.Pair(model.CategoryLog, text)
	if err != nil {
		return err
	}
	return r.logSink.Send(f)
}

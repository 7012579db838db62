package model

import (
	"encoding/json"
	"log/slog"

	"github.com/coffersTech/extrelay/internal/encoding"
)

// Level is a log severity on the numeric scale used by the log aggregator.
type Level int

const (
	LevelDebug    Level = 10
	LevelInfo     Level = 20
	LevelWarn     Level = 30
	LevelError    Level = 40
	LevelCritical Level = 50
)

// SlogLevelCritical sits above slog.LevelError so handlers order it last.
const SlogLevelCritical = slog.LevelError + 4

// Fixed metadata carried by every entry this module produces.
const (
	LoggerName = "Extension-Logger"
	SourceTag  = "FirefoxExtension"
	SourceLine = 1
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Slog maps the level onto the slog scale.
func (l Level) Slog() slog.Level {
	switch {
	case l >= LevelCritical:
		return SlogLevelCritical
	case l >= LevelError:
		return slog.LevelError
	case l >= LevelWarn:
		return slog.LevelWarn
	case l >= LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// LevelFromSlog is the inverse of Level.Slog.
func LevelFromSlog(l slog.Level) Level {
	switch {
	case l >= SlogLevelCritical:
		return LevelCritical
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// ParseLevel accepts the names returned by Level.String, plus "WARNING".
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "DEBUG", "debug":
		return LevelDebug, true
	case "INFO", "info":
		return LevelInfo, true
	case "WARN", "WARNING", "warn", "warning":
		return LevelWarn, true
	case "ERROR", "error":
		return LevelError, true
	case "CRITICAL", "critical":
		return LevelCritical, true
	}
	return 0, false
}

// LogEntry is the structured record shipped to the log aggregator.
// Field names follow the aggregator's record layout.
type LogEntry struct {
	Name     string `json:"name"`
	Level    Level  `json:"level"`
	Pathname string `json:"pathname"`
	Lineno   int    `json:"lineno"`
	Msg      string `json:"msg"`
	Args     any    `json:"args"`
	ExcInfo  any    `json:"exc_info"`
	Func     any    `json:"func"`
}

// NewLogEntry builds an entry at lvl with an escaped message.
func NewLogEntry(lvl Level, msg any) LogEntry {
	return LogEntry{
		Name:     LoggerName,
		Level:    lvl,
		Pathname: SourceTag,
		Lineno:   SourceLine,
		Msg:      encoding.EscapeString(msg),
	}
}

// Encode returns the entry as JSON text. The log sink expects this text
// as a string inside the frame, not as a nested object.
func (e LogEntry) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

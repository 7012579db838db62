package model

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogEntry(t *testing.T) {
	e := NewLogEntry(LevelWarn, "Received Finalize while no visit_id was set")
	assert.Equal(t, LoggerName, e.Name)
	assert.Equal(t, SourceTag, e.Pathname)
	assert.Equal(t, SourceLine, e.Lineno)
	assert.Equal(t, LevelWarn, e.Level)

	text, err := e.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	assert.EqualValues(t, 30, decoded["level"])
	assert.Equal(t, "Received Finalize while no visit_id was set", decoded["msg"])
	assert.Nil(t, decoded["args"])
	assert.Contains(t, decoded, "exc_info")
	assert.Contains(t, decoded, "func")
}

func TestLevelMapping(t *testing.T) {
	for _, lvl := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical} {
		assert.Equal(t, lvl, LevelFromSlog(lvl.Slog()), lvl.String())
		parsed, ok := ParseLevel(lvl.String())
		require.True(t, ok)
		assert.Equal(t, lvl, parsed)
	}
	assert.Equal(t, LevelInfo, LevelFromSlog(slog.LevelInfo+1))
	_, ok := ParseLevel("verbose")
	assert.False(t, ok)
}

func TestRecordWithVisitID(t *testing.T) {
	r := Record{"x": 1}
	stamped := r.WithVisitID(7)
	assert.EqualValues(t, 7, stamped[FieldVisitID])
	assert.NotContains(t, r, FieldVisitID)
}

func TestRecordIsBlankNavigation(t *testing.T) {
	assert.True(t, Record{"url": "about:blank"}.IsBlankNavigation("navigations"))
	assert.False(t, Record{"url": "about:blank"}.IsBlankNavigation("clicks"))
	assert.False(t, Record{"url": "https://example.com"}.IsBlankNavigation("navigations"))
	assert.False(t, Record{}.IsBlankNavigation("navigations"))
}

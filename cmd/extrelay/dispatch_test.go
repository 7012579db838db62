package main

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coffersTech/extrelay/internal/relay"
)

type lockedBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (l *lockedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.Write(p)
}

func (l *lockedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.b.String()
}

func debugRelay(t *testing.T) (*relay.Relay, *lockedBuffer) {
	var out lockedBuffer
	r, err := relay.Open(context.Background(), relay.Config{Logger: relay.NewConsoleLogger(&out, slog.LevelDebug)})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, &out
}

func TestDispatch(t *testing.T) {
	r, out := debugRelay(t)

	require.NoError(t, dispatch(r, []byte(`["clicks", {"x": 1}]`)))
	require.NoError(t, dispatch(r, []byte(`["page_content", ["aGVsbG8=", "h1"]]`)))
	require.NoError(t, dispatch(r, []byte(`["log", "WARN", "careful"]`)))
	require.NoError(t, dispatch(r, []byte(`["control", 12]`)))
	require.NoError(t, dispatch(r, []byte("   ")))

	local := out.String()
	assert.Contains(t, local, "instrument=clicks")
	assert.Contains(t, local, "content_hash=h1")
	assert.Contains(t, local, "length=5")
	assert.Contains(t, local, "msg=careful")

	id, ok := r.VisitID()
	assert.True(t, ok)
	assert.EqualValues(t, 12, id)
}

func TestDispatchErrors(t *testing.T) {
	r, _ := debugRelay(t)

	for _, line := range []string{
		`not json`,
		`{"a": 1}`,
		`["clicks"]`,
		`[1, {}]`,
		`["clicks", 5]`,
		`["clicks", null]`,
		`["log", "LOUD", "x"]`,
		`["log", "INFO"]`,
		`["page_content", ["%%%", "h"]]`,
	} {
		assert.Error(t, dispatch(r, []byte(line)), line)
	}
}

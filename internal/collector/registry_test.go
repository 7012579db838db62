package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Cleanup(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r.RegisterOrUpdate(1, "127.0.0.1:5000")

	// Make browser 1 stale without going through RegisterOrUpdate.
	r.mu.Lock()
	r.browsers[1].LastSeenAt = time.Now().Add(-20 * time.Minute).Unix()
	r.mu.Unlock()

	r.RegisterOrUpdate(2, "127.0.0.1:5001")

	r.StartCleanupLoop(ctx, 10*time.Millisecond, 10*time.Minute)

	require.Eventually(t, func() bool {
		_, ok := r.Get(1)
		return !ok
	}, time.Second, 10*time.Millisecond)
	_, ok := r.Get(2)
	assert.True(t, ok, "browser 2 should still exist")
}

func TestRegistry_Visits(t *testing.T) {
	r := NewRegistry()
	assert.True(t, r.RegisterOrUpdate(4, "a"))
	r.BeginVisit(4, 10)
	r.CountRecord(4)
	r.CountRecord(4)

	b, ok := r.Get(4)
	require.True(t, ok)
	assert.EqualValues(t, 10, b.ActiveVisit)
	assert.EqualValues(t, 1, b.Visits)
	assert.EqualValues(t, 2, b.Records)

	r.EndVisit(4)
	assert.False(t, r.RegisterOrUpdate(4, "b"))
	b, _ = r.Get(4)
	assert.Zero(t, b.ActiveVisit)
	assert.Equal(t, "b", b.RemoteAddr)
	assert.EqualValues(t, 2, b.Records)

	// Unknown browsers are ignored.
	r.BeginVisit(99, 1)
	_, ok = r.Get(99)
	assert.False(t, ok)
}

func TestAPI_HandleListBrowsers(t *testing.T) {
	r := NewRegistry()
	r.RegisterOrUpdate(2, "b")
	r.RegisterOrUpdate(1, "a")
	api := NewAPI(r)

	req := httptest.NewRequest(http.MethodGet, "/api/browsers", nil)
	w := httptest.NewRecorder()
	api.HandleListBrowsers(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var list []Browser
	require.NoError(t, json.NewDecoder(w.Body).Decode(&list))
	require.Len(t, list, 2)
	assert.EqualValues(t, 1, list[0].BrowserID)

	req = httptest.NewRequest(http.MethodPost, "/api/browsers", nil)
	w = httptest.NewRecorder()
	api.HandleListBrowsers(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAPI_HandleGetBrowser(t *testing.T) {
	r := NewRegistry()
	r.RegisterOrUpdate(3, "c")
	api := NewAPI(r)

	req := httptest.NewRequest(http.MethodGet, "/api/browsers/3", nil)
	w := httptest.NewRecorder()
	api.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/browsers/7", nil)
	w = httptest.NewRecorder()
	api.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/browsers/x", nil)
	w = httptest.NewRecorder()
	api.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

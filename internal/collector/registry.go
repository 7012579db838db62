package collector

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Browser is a relay that completed the storage handshake.
type Browser struct {
	BrowserID    int64  `json:"browser_id"`
	RemoteAddr   string `json:"remote_addr"`
	ActiveVisit  int64  `json:"active_visit,omitempty"`
	Visits       int64  `json:"visits"`
	Records      int64  `json:"records"`
	RegisteredAt int64  `json:"registered_at"`
	LastSeenAt   int64  `json:"last_seen_at"`
}

// Registry tracks connected browsers.
type Registry struct {
	mu       sync.RWMutex
	browsers map[int64]*Browser
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		browsers: make(map[int64]*Browser),
		now:      time.Now,
	}
}

// RegisterOrUpdate adds a browser, or refreshes the address and last-seen
// time of a known one. Counters survive a reconnect. It reports whether a
// new entry was created.
func (r *Registry) RegisterOrUpdate(browserID int64, remoteAddr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Unix()
	if existing, ok := r.browsers[browserID]; ok {
		existing.RemoteAddr = remoteAddr
		existing.LastSeenAt = now
		return false
	}
	r.browsers[browserID] = &Browser{
		BrowserID:    browserID,
		RemoteAddr:   remoteAddr,
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	return true
}

// Get returns a copy of the browser entry.
func (r *Registry) Get(browserID int64) (Browser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.browsers[browserID]
	if !ok {
		return Browser{}, false
	}
	return *b, true
}

// List returns all browsers ordered by id.
func (r *Registry) List() []Browser {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := make([]Browser, 0, len(r.browsers))
	for _, b := range r.browsers {
		list = append(list, *b)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].BrowserID < list[j].BrowserID })
	return list
}

func (r *Registry) update(browserID int64, fn func(b *Browser)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.browsers[browserID]; ok {
		fn(b)
		b.LastSeenAt = r.now().Unix()
	}
}

// BeginVisit records an Initialize for the browser.
func (r *Registry) BeginVisit(browserID, visitID int64) {
	r.update(browserID, func(b *Browser) {
		b.ActiveVisit = visitID
		b.Visits++
	})
}

// EndVisit records a Finalize for the browser.
func (r *Registry) EndVisit(browserID int64) {
	r.update(browserID, func(b *Browser) { b.ActiveVisit = 0 })
}

// CountRecord bumps the record counter and the last-seen time.
func (r *Registry) CountRecord(browserID int64) {
	r.update(browserID, func(b *Browser) { b.Records++ })
}

// PruneStale removes browsers not seen for timeout.
func (r *Registry) PruneStale(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().Unix()
	count := 0
	timeoutSec := int64(timeout.Seconds())

	for id, b := range r.browsers {
		if now-b.LastSeenAt > timeoutSec {
			delete(r.browsers, id)
			count++
		}
	}
	return count
}

// StartCleanupLoop prunes stale browsers every interval until ctx is done.
func (r *Registry) StartCleanupLoop(ctx context.Context, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.PruneStale(timeout)
			case <-ctx.Done():
				return
			}
		}
	}()
}

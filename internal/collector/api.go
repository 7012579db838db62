package collector

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API serves the browser registry and collector metrics over HTTP.
type API struct {
	registry *Registry
	gatherer prometheus.Gatherer
}

// NewAPI creates an API over registry.
func NewAPI(registry *Registry) *API {
	return &API{registry: registry}
}

// WithMetrics exposes g on /metrics.
func (a *API) WithMetrics(g prometheus.Gatherer) *API {
	a.gatherer = g
	return a
}

// Routes returns the HTTP mux.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/browsers", a.HandleListBrowsers)
	mux.HandleFunc("/api/browsers/", a.HandleGetBrowser)
	if a.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// HandleListBrowsers returns the registered browsers.
// GET /api/browsers
func (a *API) HandleListBrowsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a.registry.List())
}

// HandleGetBrowser returns one browser.
// GET /api/browsers/{id}
func (a *API) HandleGetBrowser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/browsers/"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid browser id", http.StatusBadRequest)
		return
	}
	b, ok := a.registry.Get(id)
	if !ok {
		http.Error(w, "Browser not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(b)
}

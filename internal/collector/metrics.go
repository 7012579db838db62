package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the collector's counters, registered on their own registry
// so tests can create several collectors.
type Metrics struct {
	Registry *prometheus.Registry

	Frames         *prometheus.CounterVec
	LogEntries     *prometheus.CounterVec
	Handshakes     prometheus.Counter
	DuplicatePages prometheus.Counter
	ContentBytes   prometheus.Counter
	Malformed      *prometheus.CounterVec
	Unmatched      prometheus.Counter
	Browsers       prometheus.GaugeFunc
}

// NewMetrics creates and registers the collector metrics.
func NewMetrics(registry *Registry) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "frames_total",
			Help:      "Storage frames accepted, by category.",
		}, []string{"category"}),
		LogEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "log_entries_total",
			Help:      "Log entries received, by level.",
		}, []string{"level"}),
		Handshakes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "handshakes_total",
			Help:      "Browser handshakes received.",
		}),
		DuplicatePages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "page_content_duplicates_total",
			Help:      "Page content frames skipped because the hash was already stored.",
		}),
		ContentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "page_content_bytes_total",
			Help:      "Decoded bytes of stored page content.",
		}),
		Malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "malformed_frames_total",
			Help:      "Frames that could not be decoded, by sink.",
		}, []string{"sink"}),
		Unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "unmatched_records_total",
			Help:      "Records stamped with visit_id -1.",
		}),
		Browsers: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "extrelay",
			Subsystem: "collector",
			Name:      "browsers",
			Help:      "Browsers currently in the registry.",
		}, func() float64 { return float64(len(registry.List())) }),
	}
	reg.MustRegister(m.Frames, m.LogEntries, m.Handshakes, m.DuplicatePages,
		m.ContentBytes, m.Malformed, m.Unmatched, m.Browsers)
	return m
}

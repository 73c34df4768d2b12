package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittobundle/pkg/metrics"
)

// fetchMetrics is the Prometheus implementation of metrics.FetchMetrics.
type fetchMetrics struct {
	fetches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bytes    *prometheus.CounterVec
}

// NewFetchMetrics creates the remote fetch collectors. Returns nil if
// metrics are not enabled.
func NewFetchMetrics() metrics.FetchMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &fetchMetrics{
		fetches: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobundle_fetch_total",
				Help: "Remote fetch attempts by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dittobundle_fetch_duration_milliseconds",
				Help:    "Duration of remote fetch attempts in milliseconds",
				Buckets: []float64{10, 50, 100, 500, 1000, 5000, 30000},
			},
			[]string{"backend"},
		),
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobundle_fetch_bytes_total",
				Help: "Bytes received from remote fetches",
			},
			[]string{"backend"},
		),
	}
}

func (m *fetchMetrics) ObserveFetch(backend, outcome string, bytes int64, duration time.Duration) {
	m.fetches.WithLabelValues(backend, outcome).Inc()
	m.duration.WithLabelValues(backend).Observe(float64(duration.Microseconds()) / 1000.0)
	if bytes > 0 {
		m.bytes.WithLabelValues(backend).Add(float64(bytes))
	}
}

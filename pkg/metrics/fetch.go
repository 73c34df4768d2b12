package metrics

import "time"

// FetchMetrics observes remote fetches.
type FetchMetrics interface {
	// ObserveFetch records one fetch attempt. outcome is "ok", "not_found",
	// "network" or "protocol".
	ObserveFetch(backend, outcome string, bytes int64, duration time.Duration)
}

var newPrometheusFetchMetrics func() FetchMetrics

// RegisterFetchMetricsConstructor is called by pkg/metrics/prometheus.
func RegisterFetchMetricsConstructor(fn func() FetchMetrics) {
	newPrometheusFetchMetrics = fn
}

// NewFetchMetrics returns the Prometheus implementation or nil.
func NewFetchMetrics() FetchMetrics {
	if !IsEnabled() || newPrometheusFetchMetrics == nil {
		return nil
	}
	return newPrometheusFetchMetrics()
}

// ObserveFetch is a nil-safe wrapper.
func ObserveFetch(m FetchMetrics, backend, outcome string, bytes int64, d time.Duration) {
	if m != nil {
		m.ObserveFetch(backend, outcome, bytes, d)
	}
}

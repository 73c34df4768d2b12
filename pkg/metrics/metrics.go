// Package metrics holds the metric interfaces used across dittobundle and the
// process-wide Prometheus registry.
//
// Every interface here is optional: components accept a nil value and the
// helper functions in this package are nil-safe, so running without metrics
// costs nothing. The Prometheus implementations live in
// pkg/metrics/prometheus and register their constructors on import.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registryMu sync.RWMutex
	registry   *prometheus.Registry
)

// InitRegistry creates the process registry with Go and process collectors.
// Calling it again replaces the registry (tests rely on this).
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registryMu.Lock()
	registry = reg
	registryMu.Unlock()
	return reg
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when metrics are off.
func GetRegistry() *prometheus.Registry {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry
}

// Reset disables metrics. Used by tests.
func Reset() {
	registryMu.Lock()
	registry = nil
	registryMu.Unlock()
}

// ============================================================================
// Lifecycle metrics
// ============================================================================

// LifecycleMetrics observes the content lifecycle manager.
type LifecycleMetrics interface {
	// ObserveUnitLoad records a settled unit load.
	// outcome is "loaded" or "error"; attempts counts tries made.
	ObserveUnitLoad(source, outcome string, attempts int, duration time.Duration)

	// RecordUnitUnload records a physical unload executed by the scheduler.
	RecordUnitUnload(force, pinned bool)

	// RecordUnloadSkipped records a queued unload cancelled at pop time.
	RecordUnloadSkipped()

	// RecordEntry records a settled cache entry.
	// kind is "entry", "list" or "scene"; outcome "loaded", "missing" or "error".
	RecordEntry(kind, outcome string)

	// SetUnitStates publishes the number of units per state.
	SetUnitStates(counts map[string]int)

	// SetQueueDepth publishes the unload queue length.
	SetQueueDepth(n int)

	// SetOrphans publishes flat-storage orphans and detector-tracked units.
	SetOrphans(flat, tracked int)

	// RecordSweep records a flat-storage sweep and how many objects it freed.
	RecordSweep(freed int)
}

var newPrometheusLifecycleMetrics func() LifecycleMetrics

// RegisterLifecycleMetricsConstructor is called by pkg/metrics/prometheus
// during package initialization.
func RegisterLifecycleMetricsConstructor(fn func() LifecycleMetrics) {
	newPrometheusLifecycleMetrics = fn
}

// NewLifecycleMetrics returns the Prometheus implementation, or nil if
// metrics are disabled or the prometheus package was not linked in.
func NewLifecycleMetrics() LifecycleMetrics {
	if !IsEnabled() || newPrometheusLifecycleMetrics == nil {
		return nil
	}
	return newPrometheusLifecycleMetrics()
}

// ObserveUnitLoad is a nil-safe wrapper.
func ObserveUnitLoad(m LifecycleMetrics, source, outcome string, attempts int, d time.Duration) {
	if m != nil {
		m.ObserveUnitLoad(source, outcome, attempts, d)
	}
}

// RecordUnitUnload is a nil-safe wrapper.
func RecordUnitUnload(m LifecycleMetrics, force, pinned bool) {
	if m != nil {
		m.RecordUnitUnload(force, pinned)
	}
}

// RecordUnloadSkipped is a nil-safe wrapper.
func RecordUnloadSkipped(m LifecycleMetrics) {
	if m != nil {
		m.RecordUnloadSkipped()
	}
}

// RecordEntry is a nil-safe wrapper.
func RecordEntry(m LifecycleMetrics, kind, outcome string) {
	if m != nil {
		m.RecordEntry(kind, outcome)
	}
}

// SetUnitStates is a nil-safe wrapper.
func SetUnitStates(m LifecycleMetrics, counts map[string]int) {
	if m != nil {
		m.SetUnitStates(counts)
	}
}

// SetQueueDepth is a nil-safe wrapper.
func SetQueueDepth(m LifecycleMetrics, n int) {
	if m != nil {
		m.SetQueueDepth(n)
	}
}

// SetOrphans is a nil-safe wrapper.
func SetOrphans(m LifecycleMetrics, flat, tracked int) {
	if m != nil {
		m.SetOrphans(flat, tracked)
	}
}

// RecordSweep is a nil-safe wrapper.
func RecordSweep(m LifecycleMetrics, freed int) {
	if m != nil {
		m.RecordSweep(freed)
	}
}

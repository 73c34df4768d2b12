package prometheus

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittobundle/pkg/metrics"
)

func init() {
	metrics.RegisterLifecycleMetricsConstructor(func() metrics.LifecycleMetrics {
		return NewLifecycleMetrics()
	})
	metrics.RegisterFetchMetricsConstructor(func() metrics.FetchMetrics {
		return NewFetchMetrics()
	})
}

// lifecycleMetrics is the Prometheus implementation of metrics.LifecycleMetrics.
type lifecycleMetrics struct {
	unitLoads      *prometheus.CounterVec
	unitLoadTime   *prometheus.HistogramVec
	unitAttempts   prometheus.Histogram
	unitUnloads    *prometheus.CounterVec
	unloadsSkipped prometheus.Counter
	entries        *prometheus.CounterVec
	unitStates     *prometheus.GaugeVec
	queueDepth     prometheus.Gauge
	orphans        *prometheus.GaugeVec
	sweeps         prometheus.Counter
	sweptObjects   prometheus.Counter
}

// NewLifecycleMetrics creates the lifecycle collectors on the process
// registry. Returns nil if metrics are not enabled.
func NewLifecycleMetrics() metrics.LifecycleMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &lifecycleMetrics{
		unitLoads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobundle_unit_loads_total",
				Help: "Settled content unit loads by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		unitLoadTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittobundle_unit_load_duration_milliseconds",
				Help: "Time from first request to settled state for content units",
				Buckets: []float64{
					1,     // in-memory units
					5,     // small local packs
					25,    //
					100,   // large local packs
					500,   // remote fetch
					2000,  // remote with retries
					10000, // slow networks
				},
			},
			[]string{"source"},
		),
		unitAttempts: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittobundle_unit_load_attempts",
				Help:    "Attempts needed to settle a content unit load",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
		),
		unitUnloads: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobundle_unit_unloads_total",
				Help: "Physical unit unloads executed by the unload scheduler",
			},
			[]string{"mode", "pinned"},
		),
		unloadsSkipped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittobundle_unit_unloads_skipped_total",
				Help: "Queued unloads cancelled because the unit was re-referenced or loading",
			},
		),
		entries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittobundle_entries_total",
				Help: "Settled asset cache entries by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		unitStates: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittobundle_units",
				Help: "Registered content units by state",
			},
			[]string{"state"},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittobundle_unload_queue_depth",
				Help: "Units waiting in the unload scheduler",
			},
		),
		orphans: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dittobundle_orphans",
				Help: "Orphaned flat-storage objects and detector-tracked units",
			},
			[]string{"kind"},
		),
		sweeps: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittobundle_sweeps_total",
				Help: "Flat-storage sweeps executed",
			},
		),
		sweptObjects: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittobundle_swept_objects_total",
				Help: "Objects destroyed by flat-storage sweeps",
			},
		),
	}
}

func (m *lifecycleMetrics) ObserveUnitLoad(source, outcome string, attempts int, duration time.Duration) {
	m.unitLoads.WithLabelValues(source, outcome).Inc()
	m.unitLoadTime.WithLabelValues(source).Observe(float64(duration.Microseconds()) / 1000.0)
	m.unitAttempts.Observe(float64(attempts))
}

func (m *lifecycleMetrics) RecordUnitUnload(force, pinned bool) {
	mode := "release"
	if force {
		mode = "unload"
	}
	m.unitUnloads.WithLabelValues(mode, strconv.FormatBool(pinned)).Inc()
}

func (m *lifecycleMetrics) RecordUnloadSkipped() {
	m.unloadsSkipped.Inc()
}

func (m *lifecycleMetrics) RecordEntry(kind, outcome string) {
	m.entries.WithLabelValues(kind, outcome).Inc()
}

func (m *lifecycleMetrics) SetUnitStates(counts map[string]int) {
	for state, n := range counts {
		m.unitStates.WithLabelValues(state).Set(float64(n))
	}
}

func (m *lifecycleMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *lifecycleMetrics) SetOrphans(flat, tracked int) {
	m.orphans.WithLabelValues("flat").Set(float64(flat))
	m.orphans.WithLabelValues("tracked").Set(float64(tracked))
}

func (m *lifecycleMetrics) RecordSweep(freed int) {
	m.sweeps.Inc()
	m.sweptObjects.Add(float64(freed))
}

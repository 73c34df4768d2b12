package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dittobundle/pkg/metrics"
)

func TestLifecycleMetrics(t *testing.T) {
	metrics.InitRegistry()
	defer metrics.Reset()

	m := metrics.NewLifecycleMetrics()
	require.NotNil(t, m, "constructor registered by init")
	lm := m.(*lifecycleMetrics)

	m.ObserveUnitLoad("memory", "loaded", 1, 3*time.Millisecond)
	m.ObserveUnitLoad("memory", "error", 3, 9*time.Millisecond)
	m.RecordUnitUnload(true, false)
	m.RecordUnitUnload(false, true)
	m.RecordUnloadSkipped()
	m.RecordEntry("list", "missing")
	m.SetUnitStates(map[string]int{"Loaded": 2, "Ready": 1})
	m.SetQueueDepth(4)
	m.SetOrphans(17, 2)
	m.RecordSweep(17)

	assert.Equal(t, 1.0, testutil.ToFloat64(lm.unitLoads.WithLabelValues("memory", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.unitUnloads.WithLabelValues("unload", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.unitUnloads.WithLabelValues("release", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.unloadsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(lm.entries.WithLabelValues("list", "missing")))
	assert.Equal(t, 2.0, testutil.ToFloat64(lm.unitStates.WithLabelValues("Loaded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(lm.queueDepth))
	assert.Equal(t, 17.0, testutil.ToFloat64(lm.orphans.WithLabelValues("flat")))
	assert.Equal(t, 17.0, testutil.ToFloat64(lm.sweptObjects))
}

func TestFetchMetrics(t *testing.T) {
	metrics.InitRegistry()
	defer metrics.Reset()

	m := metrics.NewFetchMetrics()
	require.NotNil(t, m)
	fm := m.(*fetchMetrics)

	m.ObserveFetch("s3", "ok", 1024, 20*time.Millisecond)
	m.ObserveFetch("s3", "network", 0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(fm.fetches.WithLabelValues("s3", "network")))
	assert.Equal(t, 1024.0, testutil.ToFloat64(fm.bytes.WithLabelValues("s3")))
}

func TestDisabledReturnsNil(t *testing.T) {
	metrics.Reset()
	assert.Nil(t, metrics.NewLifecycleMetrics())
	assert.Nil(t, metrics.NewFetchMetrics())
	assert.Nil(t, NewLifecycleMetrics())

	// Helpers accept nil.
	metrics.ObserveUnitLoad(nil, "fs", "loaded", 1, time.Millisecond)
	metrics.SetQueueDepth(nil, 3)
	metrics.ObserveFetch(nil, "s3", "ok", 1, time.Millisecond)
}

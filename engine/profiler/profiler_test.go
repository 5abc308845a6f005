package profiler

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTickLogsOncePerInterval(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewMetrics(prometheus.NewRegistry())

	start := time.Unix(0, 0)
	clock := start
	p := NewProfiler(WithLogger(zap.New(core)), WithMetrics(m), WithUpdateInterval(time.Second))
	p.now = func() time.Time { return clock }
	p.lastTime = clock

	for range 29 {
		clock = clock.Add(time.Second / 60)
		assert.False(t, p.Tick())
	}
	// 29/60 s so far; the 30th tick lands past the one second interval
	clock = clock.Add(time.Second/2 + time.Second/10)
	assert.True(t, p.Tick())
	fps := 30.0 / clock.Sub(start).Seconds()

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "frame stats", entry.Message)
	assert.InDelta(t, fps, entry.ContextMap()["fps"], 1e-6)
	assert.InDelta(t, fps, testutil.ToFloat64(m.FramesPerSecond), 1e-6)

	// the next interval starts from the logged tick
	clock = clock.Add(time.Second / 2)
	assert.False(t, p.Tick())
}

func TestSortProfile(t *testing.T) {
	sp := NewSortProfile("run-1", 8)
	sp.Record(StageSeeding, 0, 2*time.Millisecond)
	for bit := range 2 {
		sp.Record(StageExtract, bit, time.Millisecond)
		sp.Record(StageScanLocal, bit, time.Millisecond)
		sp.Record(StageScanGlobal, bit, time.Millisecond)
		sp.Record(StageScatter, bit, time.Millisecond)
	}
	sp.Record(StageGathering, 0, 3*time.Millisecond)

	require.Len(t, sp.Passes, 2)
	assert.Equal(t, 2*time.Millisecond, sp.StageTotal(StageScatter))
	assert.Equal(t, 13*time.Millisecond, sp.Total())

	var buf bytes.Buffer
	require.NoError(t, sp.Report(&buf))
	out := buf.String()
	assert.Contains(t, out, "run run-1")
	assert.Contains(t, out, "scan_global")
	assert.Contains(t, out, "gathering")
	assert.NotContains(t, out, "verification")

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	sp.Observe(m)
	// one series per stage label
	assert.Equal(t, 6, testutil.CollectAndCount(m.SortStageSeconds))
	families, err := reg.Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() != "oxy_particles_sort_stage_seconds" {
			continue
		}
		for _, metric := range f.GetMetric() {
			samples += metric.GetHistogram().GetSampleCount()
		}
	}
	// seeding, 2 passes of 4 stages, gathering
	assert.Equal(t, uint64(10), samples)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestSortProfileReportWriteError(t *testing.T) {
	sp := NewSortProfile("run-1", 4)
	assert.EqualError(t, sp.Report(failingWriter{}), "disk full")
}

package profiler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors the simulation reports to.
type Metrics struct {
	// SortStageSeconds observes one duration per sort stage execution, labeled by stage.
	SortStageSeconds *prometheus.HistogramVec

	// ActiveParticles is the active particle count read back after the last update.
	ActiveParticles prometheus.Gauge

	// FramesPerSecond is the frame rate measured over the last profiler interval.
	FramesPerSecond prometheus.Gauge

	// HeapBytes tracks Go heap statistics, labeled by type.
	HeapBytes *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors.
//
// Parameters:
//   - reg: the registerer, usually prometheus.DefaultRegisterer; tests pass a fresh registry
//
// Returns:
//   - *Metrics: the registered collectors
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SortStageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "oxy_particles_sort_stage_seconds",
				Help:    "Duration of each radix sort stage",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 12),
			},
			[]string{"stage"},
		),
		ActiveParticles: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oxy_particles_active",
			Help: "Number of active particles after the last update",
		}),
		FramesPerSecond: factory.NewGauge(prometheus.GaugeOpts{
			Name: "oxy_particles_frames_per_second",
			Help: "Simulation frame rate over the last profiler interval",
		}),
		HeapBytes: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "oxy_particles_heap_bytes",
				Help: "Go heap statistics",
			},
			[]string{"type"},
		),
	}
}

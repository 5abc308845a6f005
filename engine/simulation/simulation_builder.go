package simulation

import (
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"go.uber.org/zap"
)

// SimulationBuilderOption is a functional option applied to a Simulation during construction via NewSimulation.
type SimulationBuilderOption func(*simulation)

// WithCapacity sets the particle count N.
//
// Parameters:
//   - n: the particle capacity
//
// Returns:
//   - SimulationBuilderOption: option function to apply
func WithCapacity(n uint32) SimulationBuilderOption {
	return func(s *simulation) {
		s.capacity = n
	}
}

// WithRegion sets the particle region sphere. Particles leaving it are deactivated, and its
// bounding cube is the Morton key space. A non-positive radius keeps the default of 10.
//
// Parameters:
//   - center: the region center
//   - radius: the region radius
//
// Returns:
//   - SimulationBuilderOption: option function to apply
func WithRegion(center [3]float32, radius float32) SimulationBuilderOption {
	return func(s *simulation) {
		s.regionCenter = center
		if radius > 0 {
			s.regionRadius = radius
		}
	}
}

// WithEmitters registers emitters. At most particle.MaxEmittersPerKind of each kind are accepted.
//
// Parameters:
//   - emitters: the emitters
//
// Returns:
//   - SimulationBuilderOption: option function to apply
func WithEmitters(emitters ...particle.Emitter) SimulationBuilderOption {
	return func(s *simulation) {
		s.emitters = append(s.emitters, emitters...)
	}
}

// WithParticlesPerEmitter sets how many particles each emitter may respawn per frame.
//
// Parameters:
//   - n: the per-emitter budget
//
// Returns:
//   - SimulationBuilderOption: option function to apply
func WithParticlesPerEmitter(n uint32) SimulationBuilderOption {
	return func(s *simulation) {
		s.perEmitter = n
	}
}

// WithSort configures the per-frame sort.
//
// Parameters:
//   - enabled: sort every frame
//   - verify: read back and check the order after each sort
//   - profile: time every sort stage and log the report
//
// Returns:
//   - SimulationBuilderOption: option function to apply
func WithSort(enabled, verify, profile bool) SimulationBuilderOption {
	return func(s *simulation) {
		s.sortEnabled = enabled
		s.sortVerify = verify
		s.sortProfile = profile
	}
}

// WithCollisions enables the neighbour collision passes after the sort. Particles without a
// radius of their own collide with radius; a non-positive radius keeps the default of 0.05.
//
// Parameters:
//   - enabled: resolve collisions every frame
//   - radius: the default particle radius
//
// Returns:
//   - SimulationBuilderOption: option function to apply
func WithCollisions(enabled bool, radius float32) SimulationBuilderOption {
	return func(s *simulation) {
		s.collisions = enabled
		if radius > 0 {
			s.collideRadius = radius
		}
	}
}

// WithRunID tags sort profiles with a run identifier.
func WithRunID(id string) SimulationBuilderOption {
	return func(s *simulation) {
		s.runID = id
	}
}

// WithMetrics reports active particles and sort stage durations to Prometheus.
func WithMetrics(m *profiler.Metrics) SimulationBuilderOption {
	return func(s *simulation) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) SimulationBuilderOption {
	return func(s *simulation) {
		if l != nil {
			s.logger = l
		}
	}
}

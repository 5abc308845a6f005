// Package simulation runs one particle frame on a compute device: respawn inactive particles at
// the emitters, integrate and count the active ones, derive Morton sort keys, sort the particle
// buffer by them, and resolve collisions between sorted neighbours.
package simulation

import (
	"bytes"
	"context"
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/atomic_counter"
	"github.com/Carmen-Shannon/oxy-particles/engine/buffer_set"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/parallel_sort"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"go.uber.org/zap"
)

// simulation is the implementation of the Simulation interface.
type simulation struct {
	device compute.Compute

	set     buffer_set.BufferSet
	counter atomic_counter.AtomicCounter
	update  ParticleUpdate
	reset   ParticleReset
	keys    KeyCalculator
	sorter  parallel_sort.ParallelSort
	collide ParticleCollide

	// Pre-creation config collected from builder options
	capacity      uint32
	regionCenter  [3]float32
	regionRadius  float32
	perEmitter    uint32
	emitters      []particle.Emitter
	sortEnabled   bool
	sortVerify    bool
	sortProfile   bool
	collisions    bool
	collideRadius float32
	runID         string

	frame   uint64
	metrics *profiler.Metrics
	logger  *zap.Logger
}

// Simulation owns the particle buffers and the per-frame controllers built on them.
type Simulation interface {
	// Step runs one frame: reset, update, key calculation and, when enabled, the sort and the
	// collision passes.
	//
	// Parameters:
	//   - ctx: passed to the sort
	//   - dt: the time step in seconds
	//
	// Returns:
	//   - error: the first failing stage
	Step(ctx context.Context, dt float32) error

	// Frame returns the number of completed steps.
	Frame() uint64

	// NumActiveParticles returns the active count read back by the last step.
	NumActiveParticles() uint32

	// Particles waits for the device and reads the whole particle buffer back.
	//
	// Returns:
	//   - []particle.GPUParticle: the particles in buffer order
	//   - error: a read failure
	Particles() ([]particle.GPUParticle, error)

	// Emitters returns every registered emitter.
	Emitters() []particle.Emitter

	// Sorter returns the particle sort.
	Sorter() parallel_sort.ParallelSort

	// Release frees the particle buffers. The device stays with the caller.
	Release()
}

var _ Simulation = &simulation{}

// NewSimulation registers every kernel on the device, allocates the buffers and wires the
// per-frame controllers.
//
// Parameters:
//   - device: the compute device
//   - options: variadic list of SimulationBuilderOption functions
//
// Returns:
//   - Simulation: the simulation
//   - error: an error if a kernel, buffer, controller or emitter cannot be set up
func NewSimulation(device compute.Compute, options ...SimulationBuilderOption) (Simulation, error) {
	s := &simulation{
		device:       device,
		regionRadius:  10,
		sortEnabled:   true,
		collideRadius: 0.05,
		logger:        zap.NewNop(),
	}
	for _, opt := range options {
		opt(s)
	}

	if err := device.RegisterKernels(kernels.All()...); err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	set, err := buffer_set.New(device, s.capacity, buffer_set.WithLogger(s.logger))
	if err != nil {
		return nil, fmt.Errorf("simulation: %w", err)
	}
	s.set = set
	if err := s.build(); err != nil {
		set.Release()
		return nil, fmt.Errorf("simulation: %w", err)
	}
	s.logger.Info("simulation ready",
		zap.Uint32("capacity", s.capacity),
		zap.Int("emitters", len(s.reset.Emitters())),
		zap.Bool("sort", s.sortEnabled),
		zap.Bool("collisions", s.collisions),
	)
	return s, nil
}

func (s *simulation) build() error {
	s.counter = atomic_counter.New(s.device, atomic_counter.WithLogger(s.logger))

	var err error
	if s.update, err = NewParticleUpdate(s.device, s.set, s.counter, s.regionCenter, s.regionRadius); err != nil {
		return err
	}
	if s.reset, err = NewParticleReset(s.device, s.set, s.counter); err != nil {
		return err
	}
	for _, e := range s.emitters {
		if err := s.reset.AddEmitter(e); err != nil {
			return err
		}
	}
	if s.keys, err = NewKeyCalculator(s.device, s.set, s.regionCenter, s.regionRadius); err != nil {
		return err
	}
	s.sorter, err = parallel_sort.New(s.device, s.set,
		parallel_sort.WithVerify(s.sortVerify),
		parallel_sort.WithRunID(s.runID),
		parallel_sort.WithMetrics(s.metrics),
		parallel_sort.WithLogger(s.logger),
	)
	if err != nil {
		return err
	}
	if s.collisions {
		s.collide, err = NewParticleCollide(s.device, s.set, s.collideRadius)
	}
	return err
}

func (s *simulation) Step(ctx context.Context, dt float32) error {
	spawned, err := s.reset.ResetParticles(s.perEmitter, s.frame)
	if err != nil {
		return err
	}
	if err := s.update.Update(dt); err != nil {
		return err
	}
	active := s.update.NumActiveParticles()
	if s.metrics != nil {
		s.metrics.ActiveParticles.Set(float64(active))
	}
	if err := s.keys.Calculate(); err != nil {
		return err
	}

	if s.sortEnabled {
		if s.sortProfile {
			sp, err := s.sorter.SortWithProfiling(ctx)
			if err != nil {
				return err
			}
			var report bytes.Buffer
			if err := sp.Report(&report); err != nil {
				s.logger.Debug("sort profile report failed", zap.Uint64("frame", s.frame), zap.Error(err))
			} else {
				s.logger.Debug("sort profile", zap.Uint64("frame", s.frame), zap.String("report", report.String()))
			}
		} else if err := s.sorter.Sort(ctx); err != nil {
			return err
		}
	}
	if s.collide != nil {
		if err := s.collide.Collide(); err != nil {
			return err
		}
	}

	s.logger.Debug("frame done", zap.Uint64("frame", s.frame), zap.Uint32("spawned", spawned), zap.Uint32("active", active))
	s.frame++
	return nil
}

func (s *simulation) Frame() uint64 {
	return s.frame
}

func (s *simulation) NumActiveParticles() uint32 {
	return s.update.NumActiveParticles()
}

func (s *simulation) Particles() ([]particle.GPUParticle, error) {
	if s.capacity == 0 {
		return nil, nil
	}
	if _, err := s.device.WaitIdle(); err != nil {
		return nil, err
	}
	raw, err := s.device.ReadBuffer(kernels.SlotParticles, 0, uint64(s.capacity)*particle.ParticleSize)
	if err != nil {
		return nil, err
	}
	return particle.UnmarshalParticles(raw)
}

func (s *simulation) Emitters() []particle.Emitter {
	return s.reset.Emitters()
}

func (s *simulation) Sorter() parallel_sort.ParallelSort {
	return s.sorter
}

func (s *simulation) Release() {
	s.set.Release()
}

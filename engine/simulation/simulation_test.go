package simulation

import (
	"context"
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newDevice(t *testing.T) compute.Compute {
	t.Helper()
	require.NoError(t, shader.InitRegistry())
	c := compute.NewCompute(compute.BackendTypeEmulated, compute.WithWorkers(4))
	t.Cleanup(c.Release)
	return c
}

func newPointSimulation(t *testing.T, options ...SimulationBuilderOption) Simulation {
	t.Helper()
	opts := append([]SimulationBuilderOption{
		WithCapacity(512),
		WithRegion([3]float32{0, 0, 0}, 10),
		WithEmitters(particle.NewPointEmitter([3]float32{1, 2, 3}, 1, 3)),
		WithParticlesPerEmitter(100),
		WithSort(true, true, false),
	}, options...)
	s, err := NewSimulation(newDevice(t), opts...)
	require.NoError(t, err)
	t.Cleanup(s.Release)
	return s
}

func TestStepSpawnsPerEmitterBudget(t *testing.T) {
	s := newPointSimulation(t)
	ctx := context.Background()

	require.NoError(t, s.Step(ctx, 1.0/60))
	assert.Equal(t, uint32(100), s.NumActiveParticles())
	assert.Equal(t, uint64(1), s.Frame())

	require.NoError(t, s.Step(ctx, 1.0/60))
	assert.Equal(t, uint32(200), s.NumActiveParticles())
	assert.Equal(t, uint64(2), s.Frame())
}

func TestStepLeavesParticlesSorted(t *testing.T) {
	s := newPointSimulation(t)
	for range 3 {
		require.NoError(t, s.Step(context.Background(), 1.0/60))
	}

	particles, err := s.Particles()
	require.NoError(t, err)
	require.Len(t, particles, 512)

	var active int
	for i, p := range particles {
		if i > 0 {
			require.LessOrEqual(t, particles[i-1].SortKey, p.SortKey, "particle %d", i)
		}
		if p.Active() {
			active++
			assert.NotEqual(t, particle.UnusedSortKey, p.SortKey)
		} else {
			assert.Equal(t, particle.UnusedSortKey, p.SortKey)
		}
	}
	assert.Equal(t, 300, active)
	// inactive particles carry the largest key, so they end up at the back
	assert.True(t, particles[active-1].Active())
	assert.False(t, particles[active].Active())
	assert.NoError(t, s.Sorter().Verify())
}

func TestStepWithoutEmittersKeepsEverythingInactive(t *testing.T) {
	s, err := NewSimulation(newDevice(t), WithCapacity(300), WithParticlesPerEmitter(10))
	require.NoError(t, err)
	t.Cleanup(s.Release)

	require.NoError(t, s.Step(context.Background(), 0.1))
	assert.Zero(t, s.NumActiveParticles())
	assert.Empty(t, s.Emitters())
}

func TestTooManyEmittersOfOneKind(t *testing.T) {
	emitters := make([]particle.Emitter, particle.MaxEmittersPerKind+1)
	for i := range emitters {
		emitters[i] = particle.NewPointEmitter([3]float32{float32(i), 0, 0}, 1, 2)
	}
	_, err := NewSimulation(newDevice(t), WithCapacity(256), WithEmitters(emitters...))
	assert.ErrorIs(t, err, ErrTooManyEmitters)

	s, err := NewSimulation(newDevice(t), WithCapacity(256), WithEmitters(emitters[:particle.MaxEmittersPerKind]...))
	require.NoError(t, err)
	t.Cleanup(s.Release)
	assert.Len(t, s.Emitters(), particle.MaxEmittersPerKind)
	// a second kind has its own budget
	assert.NoError(t, s.(*simulation).reset.AddEmitter(
		particle.NewBarEmitter([3]float32{-1, 0, 0}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}, 1, 2)))
}

func TestStepReportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := profiler.NewMetrics(reg)
	s := newPointSimulation(t, WithMetrics(m), WithSort(true, false, true), WithRunID("run-1"))

	require.NoError(t, s.Step(context.Background(), 1.0/60))
	assert.Equal(t, float64(100), testutil.ToFloat64(m.ActiveParticles))
	assert.Positive(t, testutil.CollectAndCount(m.SortStageSeconds))
}

func TestZeroCapacity(t *testing.T) {
	s, err := NewSimulation(newDevice(t), WithParticlesPerEmitter(10),
		WithEmitters(particle.NewPointEmitter([3]float32{}, 1, 2)))
	require.NoError(t, err)
	t.Cleanup(s.Release)

	require.NoError(t, s.Step(context.Background(), 0.1))
	particles, err := s.Particles()
	require.NoError(t, err)
	assert.Empty(t, particles)
}

func TestStepLogsSortProfileAtDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := newPointSimulation(t, WithSort(true, false, true), WithLogger(zap.New(core)))

	require.NoError(t, s.Step(context.Background(), 1.0/60))
	profiles := logs.FilterMessage("sort profile").All()
	require.Len(t, profiles, 1)
	assert.Equal(t, zapcore.DebugLevel, profiles[0].Level)
	assert.NotEmpty(t, profiles[0].ContextMap()["report"])
	assert.Zero(t, logs.FilterMessage("sort profile report failed").Len())
}

func TestStepWithCollisionsKeepsOrder(t *testing.T) {
	s := newPointSimulation(t, WithCollisions(true, 0.05))
	require.NotNil(t, s.(*simulation).collide)

	for range 3 {
		require.NoError(t, s.Step(context.Background(), 1.0/60))
	}
	assert.Equal(t, uint32(300), s.NumActiveParticles())

	// collisions move particles but never touch keys, so the buffer stays in key order
	particles, err := s.Particles()
	require.NoError(t, err)
	for i := 1; i < len(particles); i++ {
		require.LessOrEqual(t, particles[i-1].SortKey, particles[i].SortKey, "particle %d", i)
	}
}

func TestCollisionsOffByDefault(t *testing.T) {
	s := newPointSimulation(t)
	assert.Nil(t, s.(*simulation).collide)
}

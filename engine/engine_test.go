package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/Carmen-Shannon/oxy-particles/engine/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// stepFunc is a simulation whose Step is a plain function. Other methods are not used by the engine.
type stepFunc struct {
	simulation.Simulation
	step func(ctx context.Context, dt float32) error
}

func (s stepFunc) Step(ctx context.Context, dt float32) error {
	return s.step(ctx, dt)
}

func TestRunStopsAfterFrameLimit(t *testing.T) {
	var steps atomic.Int32
	sim := stepFunc{step: func(context.Context, float32) error {
		steps.Add(1)
		return nil
	}}
	e := NewEngine(WithSimulation(sim), WithTickRate(1000), WithFrames(5))

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(5), e.Frames())
	assert.Equal(t, int32(5), steps.Load())
}

func TestRunReturnsStepError(t *testing.T) {
	boom := errors.New("boom")
	sim := stepFunc{step: func(context.Context, float32) error { return boom }}
	core, logs := observer.New(zap.InfoLevel)
	e := NewEngine(WithSimulation(sim), WithTickRate(1000), WithLogger(zap.New(core)))

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.EqualError(t, err, "engine: frame 0: boom")
	assert.Zero(t, e.Frames())
	assert.Equal(t, 1, logs.FilterMessage("engine stopped").Len())
}

func TestRunRecoversDevicePanic(t *testing.T) {
	sim := stepFunc{step: func(context.Context, float32) error { panic("device lost") }}
	e := NewEngine(WithSimulation(sim), WithTickRate(1000))

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device lost")
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := NewEngine(WithTickRate(1000))
	e.SetTickCallback(func(float32) {
		if e.Frames() >= 2 {
			cancel()
		}
	})

	require.NoError(t, e.Run(ctx))
	assert.GreaterOrEqual(t, e.Frames(), uint64(2))
}

func TestQuitIsIdempotent(t *testing.T) {
	e := NewEngine(WithTickRate(1000))
	e.Quit()
	e.Quit()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after Quit")
	}
}

func TestRunStepsSimulation(t *testing.T) {
	require.NoError(t, shader.InitRegistry())
	c := compute.NewCompute(compute.BackendTypeEmulated, compute.WithWorkers(2))
	t.Cleanup(c.Release)
	sim, err := simulation.NewSimulation(c,
		simulation.WithCapacity(256),
		simulation.WithEmitters(particle.NewPointEmitter([3]float32{0, 0, 0}, 1, 2)),
		simulation.WithParticlesPerEmitter(10),
	)
	require.NoError(t, err)
	t.Cleanup(sim.Release)

	e := NewEngine(WithSimulation(sim), WithTickRate(500), WithFrames(3), WithProfiling(true))
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(3), sim.Frame())
	assert.Equal(t, uint32(30), sim.NumActiveParticles())
	assert.Same(t, sim, e.Simulation())
}

func TestRunTwice(t *testing.T) {
	var steps atomic.Int32
	var failFirst atomic.Bool
	failFirst.Store(true)
	boom := errors.New("boom")
	sim := stepFunc{step: func(context.Context, float32) error {
		if failFirst.CompareAndSwap(true, false) {
			return boom
		}
		steps.Add(1)
		return nil
	}}
	e := NewEngine(WithSimulation(sim), WithTickRate(1000), WithFrames(2))

	// a failed run leaves neither its error nor its quit signal behind
	assert.ErrorIs(t, e.Run(context.Background()), boom)

	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(2), e.Frames())
	require.NoError(t, e.Run(context.Background()))
	assert.Equal(t, uint64(2), e.Frames())
	assert.Equal(t, int32(4), steps.Load())
}

func TestRunRejectsConcurrentRun(t *testing.T) {
	started := make(chan struct{})
	var once atomic.Bool
	e := NewEngine(WithTickRate(1000))
	e.SetTickCallback(func(float32) {
		if once.CompareAndSwap(false, true) {
			close(started)
		}
	})

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	<-started
	assert.ErrorIs(t, e.Run(context.Background()), ErrAlreadyRunning)

	e.Quit()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after Quit")
	}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"github.com/Carmen-Shannon/oxy-particles/engine/simulation"
	"go.uber.org/zap"
)

// engine implements the Engine interface.
// Coordinates the tick and quit goroutines around a simulation.
type engine struct {
	tickRateChannel chan time.Duration // Channel for dynamic tick rate updates

	running atomic.Bool
	wg      sync.WaitGroup

	quitMu      sync.Mutex
	quitChannel chan struct{}
	quitOnce    *sync.Once // Ensures quitChannel is only closed once per run

	simulation simulation.Simulation

	profiler         *profiler.Profiler
	profilingEnabled bool

	engineTickRate time.Duration
	tickCallback   func(deltaTime float32)

	maxFrames uint64
	frames    atomic.Uint64

	errMu sync.Mutex
	err   error

	logger *zap.Logger
}

// ErrAlreadyRunning is returned by Run while another Run is in progress.
var ErrAlreadyRunning = errors.New("engine: already running")

// Engine drives a simulation at a fixed tick rate until a frame limit is reached, the context is
// cancelled, Quit is called, or a step fails.
type Engine interface {
	// Simulation returns the simulation stepped each tick.
	//
	// Returns:
	//   - simulation.Simulation: the simulation, or nil if none was set
	Simulation() simulation.Simulation

	// EnableProfiler enables frame statistics.
	EnableProfiler()

	// DisableProfiler disables frame statistics.
	DisableProfiler()

	// SetTickRate sets the engine tick rate in frames per second.
	//
	// Parameters:
	//   - fps: target frames per second (defaults to 60 if <= 0)
	SetTickRate(fps float64)

	// SetTickCallback registers a function called after each simulation step.
	//
	// Parameters:
	//   - callback: function to call at the configured tick rate, receiving the delta time in seconds
	SetTickCallback(callback func(deltaTime float32))

	// Frames returns the number of ticks completed by the current or last Run.
	Frames() uint64

	// Run starts the tick loop and blocks until it stops. The engine re-arms when Run returns,
	// so it may be run again; the frame count and the recorded error restart with each Run.
	//
	// Parameters:
	//   - ctx: cancelling it stops the loop without an error
	//
	// Returns:
	//   - error: the first step failure or recovered device panic, ErrAlreadyRunning if a Run
	//     is in progress, nil otherwise
	Run(ctx context.Context) error

	// Quit signals all engine goroutines to stop. A Quit before Run stops that Run at once.
	// Safe to call multiple times; subsequent calls are no-ops until the engine re-arms.
	Quit()
}

// NewEngine creates a new Engine instance with the provided options.
//
// Parameters:
//   - options: functional options for engine configuration (simulation, tick rate, etc.)
//
// Returns:
//   - Engine: the newly created engine
func NewEngine(options ...EngineBuilderOption) Engine {
	e := &engine{
		tickRateChannel:  make(chan time.Duration, 1),
		quitChannel:      make(chan struct{}),
		quitOnce:         &sync.Once{},
		wg:               sync.WaitGroup{},
		profilingEnabled: false,
		engineTickRate:   time.Second / 60,
		logger:           zap.NewNop(),
	}

	for _, opt := range options {
		opt(e)
	}
	if e.profiler == nil {
		e.profiler = profiler.NewProfiler(profiler.WithLogger(e.logger))
	}

	return e
}

func (e *engine) Simulation() simulation.Simulation {
	return e.simulation
}

func (e *engine) Frames() uint64 {
	return e.frames.Load()
}

func (e *engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.frames.Store(0)
	quit := e.quitSignal()

	e.logger.Info("engine started", zap.Duration("tick", e.engineTickRate), zap.Uint64("max_frames", e.maxFrames))
	e.handle(ctx, quit)
	e.wg.Wait()

	err := e.failure()
	e.rearm()
	e.logger.Info("engine stopped", zap.Uint64("frames", e.Frames()), zap.Error(err))
	return err
}

// Quit signals all engine goroutines to stop and shuts down the engine.
// Safe to call multiple times; subsequent calls are no-ops due to sync.Once.
func (e *engine) Quit() {
	e.signalQuit()
}

// signalQuit closes the quit channel to signal all goroutines to exit.
// Uses sync.Once to ensure the channel is only closed once.
func (e *engine) signalQuit() {
	e.quitMu.Lock()
	defer e.quitMu.Unlock()
	e.quitOnce.Do(func() {
		close(e.quitChannel)
	})
}

// quitSignal returns the quit channel of the coming run.
func (e *engine) quitSignal() <-chan struct{} {
	e.quitMu.Lock()
	defer e.quitMu.Unlock()
	return e.quitChannel
}

// rearm replaces a closed quit channel and clears the recorded error so the engine can run
// again.
func (e *engine) rearm() {
	e.quitMu.Lock()
	select {
	case <-e.quitChannel:
		e.quitChannel = make(chan struct{})
		e.quitOnce = &sync.Once{}
	default:
	}
	e.quitMu.Unlock()

	e.errMu.Lock()
	e.err = nil
	e.errMu.Unlock()
}

// fail records the first error and stops the engine.
func (e *engine) fail(err error) {
	e.errMu.Lock()
	if e.err == nil {
		e.err = err
	}
	e.errMu.Unlock()
	e.signalQuit()
}

func (e *engine) failure() error {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.err
}

// handle launches the engine and quit goroutines.
// Each goroutine is tracked by the engine's WaitGroup.
func (e *engine) handle(ctx context.Context, quit <-chan struct{}) {
	e.wg.Add(2)
	go e.handleEngine(ctx, quit)
	go e.handleQuit(ctx, quit)
}

// handleEngine runs the fixed-rate engine tick loop in its own goroutine.
// Steps the simulation at the configured tick rate and listens for dynamic rate changes
// via tickRateChannel. Exits when the quit channel is closed.
// Recovers from device panics and turns them into the Run error.
func (e *engine) handleEngine(ctx context.Context, quit <-chan struct{}) {
	defer e.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine goroutine recovered from panic", zap.Any("panic", r))
			e.fail(fmt.Errorf("engine: tick panicked: %v", r))
		}
	}()

	ticker := time.NewTicker(e.engineTickRate)
	defer ticker.Stop()

	lastTick := time.Now()

	for {
		select {
		case <-quit:
			return
		case <-ticker.C:
			now := time.Now()
			dt := float32(now.Sub(lastTick).Seconds())
			lastTick = now

			if e.simulation != nil {
				if err := e.simulation.Step(ctx, dt); err != nil {
					e.fail(fmt.Errorf("engine: frame %d: %w", e.Frames(), err))
					return
				}
			}
			if e.tickCallback != nil {
				e.tickCallback(dt)
			}
			if e.profilingEnabled && e.profiler != nil {
				e.profiler.Tick()
			}

			if frames := e.frames.Add(1); e.maxFrames > 0 && frames >= e.maxFrames {
				e.signalQuit()
				return
			}
		case newRate := <-e.tickRateChannel:
			ticker.Reset(newRate)
			e.engineTickRate = newRate
		}
	}
}

// handleQuit blocks until the quit channel is closed or the context is done, then decrements the WaitGroup.
func (e *engine) handleQuit(ctx context.Context, quit <-chan struct{}) {
	defer e.wg.Done()
	select {
	case <-quit:
	case <-ctx.Done():
		e.signalQuit()
	}
}

// EnableProfiler enables frame statistics.
func (e *engine) EnableProfiler() {
	e.profilingEnabled = true
}

// DisableProfiler disables frame statistics.
func (e *engine) DisableProfiler() {
	e.profilingEnabled = false
}

// SetTickRate sets the engine tick rate in frames per second.
// If the engine is running, the change takes effect immediately.
func (e *engine) SetTickRate(fps float64) {
	if fps <= 0 {
		fps = 60
	}
	newRate := time.Duration(float64(time.Second) / fps)

	if e.running.Load() {
		// Non-blocking send - if channel is full, replace the pending value
		select {
		case e.tickRateChannel <- newRate:
		default:
			select {
			case <-e.tickRateChannel:
			default:
			}
			e.tickRateChannel <- newRate
		}
	} else {
		e.engineTickRate = newRate
	}
}

// SetTickCallback registers the function called after each simulation step.
func (e *engine) SetTickCallback(callback func(deltaTime float32)) {
	e.tickCallback = callback
}

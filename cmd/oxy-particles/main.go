// Command oxy-particles runs the particle simulation headless at a fixed tick rate, sorting the
// particle buffer by Morton key every frame and serving Prometheus metrics while it runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/engine"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/config"
	"github.com/Carmen-Shannon/oxy-particles/engine/logger"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"github.com/Carmen-Shannon/oxy-particles/engine/simulation"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	backend := flag.String("backend", "", "override device.backend (wgpu or emulated)")
	flag.Parse()

	if err := run(*configPath, *backend); err != nil {
		fmt.Fprintln(os.Stderr, "oxy-particles:", err)
		os.Exit(1)
	}
}

func run(configPath, backend string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if backend != "" {
		cfg.Device.Backend = backend
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	runID := uuid.NewString()
	log, err := logger.New(logger.Config{
		Environment: cfg.Log.Environment,
		LogLevel:    cfg.Log.Level,
		ServiceName: "oxy-particles",
		RunID:       runID,
	})
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	if err := shader.InitRegistry(); err != nil {
		return fmt.Errorf("shader registry: %w", err)
	}

	emitters := make([]particle.Emitter, 0, len(cfg.Simulation.Emitters))
	for _, ec := range cfg.Simulation.Emitters {
		e, err := ec.Emitter()
		if err != nil {
			return err
		}
		emitters = append(emitters, e)
	}

	device := compute.NewCompute(cfg.Backend(),
		compute.WithForceFallbackAdapter(cfg.Device.ForceFallbackAdapter),
		compute.WithWorkers(cfg.Device.Workers),
		compute.WithLogger(log),
	)
	defer device.Release()

	metrics := profiler.NewMetrics(prometheus.DefaultRegisterer)
	sim, err := simulation.NewSimulation(device,
		simulation.WithCapacity(cfg.Simulation.Capacity),
		simulation.WithRegion(cfg.Simulation.RegionCenter, cfg.Simulation.RegionRadius),
		simulation.WithEmitters(emitters...),
		simulation.WithParticlesPerEmitter(cfg.Simulation.ParticlesPerEmitter),
		simulation.WithSort(cfg.Sort.Enabled, cfg.Sort.Verify, cfg.Sort.Profile),
		simulation.WithCollisions(cfg.Simulation.Collisions, cfg.Simulation.ParticleRadius),
		simulation.WithRunID(runID),
		simulation.WithMetrics(metrics),
		simulation.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer sim.Release()

	eng := engine.NewEngine(
		engine.WithSimulation(sim),
		engine.WithTickRate(float64(cfg.Simulation.TickRate)),
		engine.WithFrames(uint64(cfg.Simulation.Frames)),
		engine.WithProfiling(true),
		engine.WithProfiler(profiler.NewProfiler(profiler.WithLogger(log), profiler.WithMetrics(metrics))),
		engine.WithLogger(log),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	var server *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("metrics server listening", zap.String("address", cfg.Metrics.Address))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			if server != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}
		}()
		return eng.Run(gctx)
	})

	err = g.Wait()
	log.Info("run finished",
		zap.Uint64("frames", eng.Frames()),
		zap.Uint32("active_particles", sim.NumActiveParticles()),
		zap.Error(err),
	)
	return err
}

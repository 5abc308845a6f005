// Package config loads the YAML run configuration of the particle simulation.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/logger"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"gopkg.in/yaml.v3"
)

// EnvLogLevel overrides log.level when set.
const EnvLogLevel = "OXY_PARTICLES_LOG_LEVEL"

// Config is the root of the configuration document.
type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Simulation SimulationConfig `yaml:"simulation"`
	Sort       SortConfig       `yaml:"sort"`
	Log        LogConfig        `yaml:"log"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// DeviceConfig selects and tunes the compute device.
type DeviceConfig struct {
	// Backend is "wgpu" or "emulated".
	Backend              string `yaml:"backend"`
	ForceFallbackAdapter bool   `yaml:"force_fallback_adapter"`
	// Workers is the emulated backend's worker count; 0 means one per CPU.
	Workers int `yaml:"workers"`
}

// SimulationConfig sizes the particle buffer and drives the fixed-rate loop.
type SimulationConfig struct {
	Capacity uint32 `yaml:"capacity"`
	// TickRate is the number of simulation steps per second.
	TickRate int `yaml:"tick_rate"`
	// Frames stops the loop after this many steps; 0 runs until interrupted.
	Frames              int             `yaml:"frames"`
	RegionCenter        [3]float32      `yaml:"region_center"`
	RegionRadius        float32         `yaml:"region_radius"`
	ParticlesPerEmitter uint32          `yaml:"particles_per_emitter"`
	Emitters            []EmitterConfig `yaml:"emitters"`
	// Collisions resolves contacts between sort neighbours after each sort.
	Collisions bool `yaml:"collisions"`
	// ParticleRadius is the collision radius of particles without one of their own.
	ParticleRadius float32 `yaml:"particle_radius"`
}

// EmitterConfig is one emitter entry. Kind selects which position fields apply.
type EmitterConfig struct {
	Kind        string     `yaml:"kind"`
	Center      [3]float32 `yaml:"center"`
	P1          [3]float32 `yaml:"p1"`
	P2          [3]float32 `yaml:"p2"`
	Direction   [3]float32 `yaml:"direction"`
	MinVelocity float32    `yaml:"min_velocity"`
	MaxVelocity float32    `yaml:"max_velocity"`
}

// SortConfig toggles the per-frame sort and its diagnostics.
type SortConfig struct {
	Enabled bool `yaml:"enabled"`
	Verify  bool `yaml:"verify"`
	Profile bool `yaml:"profile"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Environment string `yaml:"environment"`
	Level       string `yaml:"level"`
}

// MetricsConfig configures the Prometheus endpoint. An empty address disables it.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// Default returns the configuration used for every field a document leaves out.
func Default() Config {
	return Config{
		Device: DeviceConfig{Backend: "wgpu"},
		Simulation: SimulationConfig{
			Capacity:            1 << 16,
			TickRate:            60,
			RegionRadius:        10,
			ParticlesPerEmitter: 256,
			Collisions:          true,
			ParticleRadius:      0.05,
			Emitters: []EmitterConfig{
				{Kind: "point", MinVelocity: 1, MaxVelocity: 3},
			},
		},
		Sort:    SortConfig{Enabled: true},
		Log:     LogConfig{Environment: "development", Level: "info"},
		Metrics: MetricsConfig{Address: ":9090"},
	}
}

// Load reads, parses and validates a configuration file. An empty path yields the defaults.
//
// Parameters:
//   - path: the YAML file path, or "" for defaults only
//
// Returns:
//   - Config: the validated configuration
//   - error: an error if the file cannot be read, parsed or validated
func Load(path string) (Config, error) {
	if path == "" {
		return finish(Default())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults, applies environment overrides and validates.
//
// Parameters:
//   - data: the YAML document
//
// Returns:
//   - Config: the validated configuration
//   - error: an error if the document cannot be parsed or validated
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return finish(cfg)
}

func finish(cfg Config) (Config, error) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		cfg.Log.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
//
// Returns:
//   - error: nil, or the joined field errors
func (c Config) Validate() error {
	var errs []error
	if _, err := compute.ParseBackendType(c.Device.Backend); err != nil {
		errs = append(errs, fmt.Errorf("device.backend: %w", err))
	}
	if c.Device.Workers < 0 {
		errs = append(errs, fmt.Errorf("device.workers: must not be negative, got %d", c.Device.Workers))
	}
	if c.Simulation.TickRate <= 0 {
		errs = append(errs, fmt.Errorf("simulation.tick_rate: must be positive, got %d", c.Simulation.TickRate))
	}
	if c.Simulation.Frames < 0 {
		errs = append(errs, fmt.Errorf("simulation.frames: must not be negative, got %d", c.Simulation.Frames))
	}
	if c.Simulation.RegionRadius <= 0 {
		errs = append(errs, fmt.Errorf("simulation.region_radius: must be positive, got %g", c.Simulation.RegionRadius))
	}
	if c.Simulation.Collisions && c.Simulation.ParticleRadius <= 0 {
		errs = append(errs, fmt.Errorf("simulation.particle_radius: must be positive with collisions on, got %g", c.Simulation.ParticleRadius))
	}

	var perKind [particle.NumEmitterKinds]int
	for i, ec := range c.Simulation.Emitters {
		e, err := ec.Emitter()
		if err != nil {
			errs = append(errs, fmt.Errorf("simulation.emitters[%d]: %w", i, err))
			continue
		}
		perKind[e.Kind]++
		if perKind[e.Kind] == particle.MaxEmittersPerKind+1 {
			errs = append(errs, fmt.Errorf("simulation.emitters: more than %d %s emitters", particle.MaxEmittersPerKind, e.Kind))
		}
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Environment {
	case "development", "production":
	default:
		errs = append(errs, fmt.Errorf("log.environment: want development or production, got %q", c.Log.Environment))
	}
	return errors.Join(errs...)
}

// Emitter converts the entry into a validated particle emitter.
//
// Returns:
//   - particle.Emitter: the emitter
//   - error: an error if the kind is unknown or the velocity range is inverted
func (ec EmitterConfig) Emitter() (particle.Emitter, error) {
	kind, err := particle.ParseEmitterKind(ec.Kind)
	if err != nil {
		return particle.Emitter{}, err
	}
	var e particle.Emitter
	switch kind {
	case particle.EmitterKindPoint:
		e = particle.NewPointEmitter(ec.Center, ec.MinVelocity, ec.MaxVelocity)
	case particle.EmitterKindBar:
		e = particle.NewBarEmitter(ec.P1, ec.P2, ec.Direction, ec.MinVelocity, ec.MaxVelocity)
	}
	if err := e.Validate(); err != nil {
		return particle.Emitter{}, err
	}
	return e, nil
}

// Backend resolves device.backend. Call after Validate.
func (c Config) Backend() compute.BackendType {
	bt, _ := compute.ParseBackendType(c.Device.Backend)
	return bt
}

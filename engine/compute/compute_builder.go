package compute

import "go.uber.org/zap"

// ComputeBuilderOption is a functional option applied to a compute device during construction via NewCompute.
type ComputeBuilderOption func(*compute)

// WithForceFallbackAdapter forces WGPU to use a CPU/software fallback adapter instead of
// hardware GPU acceleration. This requires a software Vulkan ICD (e.g. SwiftShader or lavapipe).
// Ignored by the emulated backend.
//
// Parameters:
//   - force: true to force the software fallback adapter
//
// Returns:
//   - ComputeBuilderOption: a function that applies the option to a compute device
func WithForceFallbackAdapter(force bool) ComputeBuilderOption {
	return func(c *compute) {
		c.forceFallbackAdapter = force
	}
}

// WithWorkers sets the number of worker goroutines the emulated backend runs work groups on.
// Values below 1 select runtime.NumCPU(). Ignored by the WebGPU backend.
//
// Parameters:
//   - n: the worker count
//
// Returns:
//   - ComputeBuilderOption: a function that applies the option to a compute device
func WithWorkers(n int) ComputeBuilderOption {
	return func(c *compute) {
		c.workers = n
	}
}

// WithLogger sets the logger used for device lifecycle messages.
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - ComputeBuilderOption: a function that applies the option to a compute device
func WithLogger(l *zap.Logger) ComputeBuilderOption {
	return func(c *compute) {
		if l != nil {
			c.logger = l
		}
	}
}

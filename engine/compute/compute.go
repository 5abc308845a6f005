// Package compute drives the particle kernels on a device. Callers see three narrow interfaces:
// Dispatcher for recording kernel dispatches, BufferBinder for the shared slot buffers, and
// HostCell for fenced access to single u32 cells. Compute bundles them over a ComputeBackend and
// a pipeline cache keyed by kernel.
package compute

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute/pipeline"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"go.uber.org/zap"
)

var (
	// ErrUnknownKernel is returned for a kernel key that was never registered.
	ErrUnknownKernel = errors.New("unknown kernel")

	// ErrSlotUnbound is returned when a dispatch or buffer access names a slot with no buffer,
	// or a dispatch names a parameter slot that was never uploaded.
	ErrSlotUnbound = errors.New("slot unbound")

	// ErrFrameNotOpen is returned by DispatchKernel and Barrier outside BeginComputeFrame/EndComputeFrame.
	ErrFrameNotOpen = errors.New("no compute frame open")

	// ErrFrameOpen is returned by host-side buffer and cell access while a compute frame is being recorded.
	ErrFrameOpen = errors.New("compute frame still open")
)

// Dispatcher records kernel dispatches. Every dispatch between BeginComputeFrame and
// EndComputeFrame goes into a single submission; Barrier orders everything recorded before it
// ahead of everything recorded after it.
type Dispatcher interface {
	// WorkgroupSize returns the work group size a kernel was compiled with.
	//
	// Parameters:
	//   - key: the kernel key
	//
	// Returns:
	//   - [3]uint32: the work group size as [x, y, z]
	//   - error: ErrUnknownKernel if the kernel is not registered
	WorkgroupSize(key kernels.Key) ([3]uint32, error)

	// UploadParams stores a kernel's uniform block in a parameter slot. The upload takes effect
	// for every dispatch of the next submission, so a slot holds one value per submission.
	//
	// Parameters:
	//   - key: the kernel key
	//   - slot: the parameter slot
	//   - data: the marshaled uniform block
	//
	// Returns:
	//   - error: an error if the kernel is unknown or the upload fails
	UploadParams(key kernels.Key, slot int, data []byte) error

	// BeginComputeFrame opens a frame for recording dispatches.
	//
	// Returns:
	//   - error: an error if the command encoder could not be created
	BeginComputeFrame() error

	// DispatchKernel records one dispatch of a kernel.
	//
	// Parameters:
	//   - key: the kernel key
	//   - workGroupCount: the number of work groups in x, y and z
	//   - paramSlot: the parameter slot bound as the kernel's uniform block
	//
	// Returns:
	//   - error: ErrUnknownKernel, ErrFrameNotOpen, ErrSlotUnbound, or a device error
	DispatchKernel(key kernels.Key, workGroupCount [3]uint32, paramSlot int) error

	// Barrier makes all writes recorded so far visible to everything recorded after it.
	//
	// Returns:
	//   - error: ErrFrameNotOpen outside a frame, or a device error
	Barrier() error

	// EndComputeFrame submits the recorded frame. It does not wait for completion.
	//
	// Returns:
	//   - error: an error if the frame could not be finished or submitted
	EndComputeFrame() error
}

// BufferBinder owns the shared slot buffers every kernel binds at group 0.
type BufferBinder interface {
	// BindBuffer allocates a zeroed buffer of size bytes at a slot, replacing any previous one.
	//
	// Parameters:
	//   - slot: the slot to bind
	//   - size: the buffer size in bytes, a multiple of 4
	//   - label: a debug label
	//
	// Returns:
	//   - error: an error if allocation fails
	BindBuffer(slot kernels.Slot, size uint64, label string) error

	// WriteBuffer uploads data into a slot buffer at a byte offset. The write is ordered before
	// every later submission.
	WriteBuffer(slot kernels.Slot, offset uint64, data []byte) error

	// ReadBuffer waits for the device to go idle and reads back size bytes at a byte offset.
	ReadBuffer(slot kernels.Slot, offset, size uint64) ([]byte, error)

	// ReleaseBuffer frees the buffer bound at a slot, if any.
	ReleaseBuffer(slot kernels.Slot)
}

// HostCell gives the host fenced access to a single u32 cell in a slot buffer.
type HostCell interface {
	// WaitIdle blocks until every submitted frame has completed and returns the new device epoch.
	// Epochs increase by one per completed wait.
	//
	// Returns:
	//   - uint64: the device epoch after the wait
	//   - error: a device error; callers treat it as device loss
	WaitIdle() (uint64, error)

	// StoreCell writes v into the first word of a slot. The store is ordered before every
	// later submission.
	StoreCell(slot kernels.Slot, v uint32) error

	// LoadCell reads the first word of a slot. Callers wait for idle first.
	LoadCell(slot kernels.Slot) (uint32, error)
}

// compute is the implementation of the Compute interface.
type compute struct {
	mu *sync.Mutex

	pipelineCache map[kernels.Key]pipeline.Pipeline

	backendType BackendType
	backend     ComputeBackend

	logger *zap.Logger

	// Pre-creation config collected from builder options
	forceFallbackAdapter bool
	workers              int
}

// Compute is a device: the three narrow interfaces plus kernel registration and teardown.
type Compute interface {
	Dispatcher
	BufferBinder
	HostCell

	// Backend returns the device implementation behind this Compute.
	//
	// Returns:
	//   - BackendType: the backend type
	Backend() BackendType

	// RegisterKernels builds and caches a pipeline for each kernel from the process-wide shader
	// registry. Kernels already registered are skipped.
	//
	// Parameters:
	//   - keys: the kernels to register
	//
	// Returns:
	//   - error: an error if a kernel is missing from the registry or pipeline creation fails
	RegisterKernels(keys ...kernels.Key) error

	// Release frees every pipeline and device resource.
	Release()
}

var _ Compute = &compute{}

// NewCompute creates a Compute on the selected backend. The WebGPU backend panics if no
// adapter or device can be acquired, since nothing can run without one.
//
// Parameters:
//   - backendType: the device implementation to use
//   - options: variadic list of ComputeBuilderOption functions
//
// Returns:
//   - Compute: the new device
func NewCompute(backendType BackendType, options ...ComputeBuilderOption) Compute {
	c := &compute{
		mu:            &sync.Mutex{},
		pipelineCache: make(map[kernels.Key]pipeline.Pipeline),
		backendType:   backendType,
		logger:        zap.NewNop(),
	}
	for _, opt := range options {
		opt(c)
	}

	switch backendType {
	case BackendTypeEmulated:
		c.backend = newEmulatedComputeBackend(c.workers)
	case BackendTypeWGPU:
		fallthrough
	default:
		c.backend = newWGPUComputeBackend(c.forceFallbackAdapter)
	}
	c.logger.Debug("compute device ready", zap.Stringer("backend", backendType))
	return c
}

func (c *compute) Backend() BackendType {
	return c.backendType
}

func (c *compute) RegisterKernels(keys ...kernels.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		if _, exists := c.pipelineCache[key]; exists {
			continue
		}
		s, err := shader.Lookup(key)
		if err != nil {
			return fmt.Errorf("register kernel %s: %w", key, err)
		}
		p := pipeline.NewPipeline(string(key), pipeline.WithComputeShader(s))
		if err := c.backend.RegisterComputePipeline(p); err != nil {
			return fmt.Errorf("register kernel %s: %w", key, err)
		}
		c.pipelineCache[key] = p
		c.logger.Debug("kernel registered", zap.String("kernel", string(key)), zap.Uint32("workgroup_size", s.WorkgroupSize()[0]))
	}
	return nil
}

func (c *compute) lookupPipeline(key kernels.Key) (pipeline.Pipeline, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, exists := c.pipelineCache[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKernel, key)
	}
	return p, nil
}

func (c *compute) WorkgroupSize(key kernels.Key) ([3]uint32, error) {
	p, err := c.lookupPipeline(key)
	if err != nil {
		return [3]uint32{}, err
	}
	return p.Shader().WorkgroupSize(), nil
}

func (c *compute) UploadParams(key kernels.Key, slot int, data []byte) error {
	p, err := c.lookupPipeline(key)
	if err != nil {
		return err
	}
	return c.backend.UploadParams(p, slot, data)
}

func (c *compute) BeginComputeFrame() error {
	return c.backend.BeginComputeFrame()
}

func (c *compute) DispatchKernel(key kernels.Key, workGroupCount [3]uint32, paramSlot int) error {
	p, err := c.lookupPipeline(key)
	if err != nil {
		return err
	}
	return c.backend.DispatchCompute(p, paramSlot, workGroupCount)
}

func (c *compute) Barrier() error {
	return c.backend.Barrier()
}

func (c *compute) EndComputeFrame() error {
	return c.backend.EndComputeFrame()
}

func (c *compute) BindBuffer(slot kernels.Slot, size uint64, label string) error {
	if size%4 != 0 {
		return fmt.Errorf("bind %s: size %d is not a multiple of 4", slot, size)
	}
	if err := c.backend.BindBuffer(slot, size, label); err != nil {
		return fmt.Errorf("bind %s: %w", slot, err)
	}
	c.logger.Debug("buffer bound", zap.Stringer("slot", slot), zap.Uint64("size", size), zap.String("label", label))
	return nil
}

func (c *compute) WriteBuffer(slot kernels.Slot, offset uint64, data []byte) error {
	if err := checkRange(slot, offset, uint64(len(data)), c.backend.BufferSize(slot)); err != nil {
		return err
	}
	return c.backend.WriteBuffer(slot, offset, data)
}

func (c *compute) ReadBuffer(slot kernels.Slot, offset, size uint64) ([]byte, error) {
	if err := checkRange(slot, offset, size, c.backend.BufferSize(slot)); err != nil {
		return nil, err
	}
	return c.backend.ReadBuffer(slot, offset, size)
}

func (c *compute) ReleaseBuffer(slot kernels.Slot) {
	c.backend.ReleaseBuffer(slot)
}

func (c *compute) WaitIdle() (uint64, error) {
	return c.backend.WaitIdle()
}

func (c *compute) StoreCell(slot kernels.Slot, v uint32) error {
	return c.backend.StoreCell(slot, v)
}

func (c *compute) LoadCell(slot kernels.Slot) (uint32, error) {
	return c.backend.LoadCell(slot)
}

func (c *compute) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.pipelineCache {
		p.Release()
		delete(c.pipelineCache, key)
	}
	c.backend.Release()
}

// checkRange validates a host access against a slot's bound size. Offsets and sizes must be
// word aligned on every backend.
func checkRange(slot kernels.Slot, offset, size, bound uint64) error {
	if bound == 0 {
		return fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	if offset%4 != 0 || size%4 != 0 {
		return fmt.Errorf("%s: offset %d and size %d must be multiples of 4", slot, offset, size)
	}
	if offset+size > bound {
		return fmt.Errorf("%s: range [%d, %d) exceeds buffer size %d", slot, offset, offset+size, bound)
	}
	return nil
}

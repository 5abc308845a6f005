package compute

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute/pipeline"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
)

// BackendType identifies the device implementation used by Compute.
type BackendType int

const (
	// BackendTypeWGPU selects the WebGPU compute backend.
	BackendTypeWGPU BackendType = iota

	// BackendTypeEmulated selects the Go backend that runs each kernel's emulation work group
	// by work group on a worker pool.
	BackendTypeEmulated
)

func (t BackendType) String() string {
	switch t {
	case BackendTypeWGPU:
		return "wgpu"
	case BackendTypeEmulated:
		return "emulated"
	default:
		return fmt.Sprintf("BackendType(%d)", int(t))
	}
}

// ParseBackendType resolves a configuration name ("wgpu" or "emulated") to a BackendType.
//
// Parameters:
//   - name: the backend name
//
// Returns:
//   - BackendType: the matching backend
//   - error: an error if the name is not a known backend
func ParseBackendType(name string) (BackendType, error) {
	switch name {
	case "wgpu":
		return BackendTypeWGPU, nil
	case "emulated":
		return BackendTypeEmulated, nil
	default:
		return 0, fmt.Errorf("unknown compute backend %q", name)
	}
}

// ComputeBackend is the device-facing half of Compute. Compute resolves kernel keys to cached
// pipelines and hands those to the backend, which owns every device resource.
type ComputeBackend interface {
	// RegisterComputePipeline creates the device objects for a pipeline's kernel.
	RegisterComputePipeline(p pipeline.Pipeline) error

	// UploadParams stores a kernel's uniform block in one of its parameter slots.
	UploadParams(p pipeline.Pipeline, slot int, data []byte) error

	// DispatchCompute records one dispatch of the pipeline with the given parameter slot bound.
	DispatchCompute(p pipeline.Pipeline, paramSlot int, workGroupCount [3]uint32) error

	BeginComputeFrame() error
	Barrier() error
	EndComputeFrame() error

	BindBuffer(slot kernels.Slot, size uint64, label string) error
	WriteBuffer(slot kernels.Slot, offset uint64, data []byte) error
	ReadBuffer(slot kernels.Slot, offset, size uint64) ([]byte, error)
	ReleaseBuffer(slot kernels.Slot)
	BufferSize(slot kernels.Slot) uint64

	WaitIdle() (uint64, error)
	StoreCell(slot kernels.Slot, v uint32) error
	LoadCell(slot kernels.Slot) (uint32, error)

	// Release frees every device resource the backend holds.
	Release()
}

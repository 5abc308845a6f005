package simulation

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/buffer_set"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/parallel_sort"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
)

// KeyCalculator writes each particle's Morton code into its sort key. Inactive particles get
// particle.UnusedSortKey.
type KeyCalculator interface {
	// Calculate submits the key kernel. It does not wait for the device.
	Calculate() error
}

type keyCalculator struct {
	device parallel_sort.Device
	set    buffer_set.BufferSet
	groups uint32
}

var _ KeyCalculator = &keyCalculator{}

// NewKeyCalculator creates the key calculator. The region never changes, so its parameters are
// uploaded once here.
//
// Parameters:
//   - device: the compute device with calculate_sort_keys registered
//   - set: the particle buffers
//   - center: the region center
//   - radius: the region radius
//
// Returns:
//   - KeyCalculator: the calculator
//   - error: an error if the kernel is not registered or the upload fails
func NewKeyCalculator(device parallel_sort.Device, set buffer_set.BufferSet, center [3]float32, radius float32) (KeyCalculator, error) {
	size, err := device.WorkgroupSize(kernels.KeyCalculateSortKeys)
	if err != nil {
		return nil, err
	}
	regionMin, inverseExtent := particle.RegionBounds(center, radius)
	params := particle.GPUKeyParams{
		RegionMin:     [4]float32{regionMin[0], regionMin[1], regionMin[2], 1},
		InverseExtent: inverseExtent,
		ParticleCount: set.Capacity(),
	}
	if err := device.UploadParams(kernels.KeyCalculateSortKeys, 0, params.Marshal()); err != nil {
		return nil, err
	}
	return &keyCalculator{
		device: device,
		set:    set,
		groups: common.DivCeil(set.Capacity(), size[0]),
	}, nil
}

func (k *keyCalculator) Calculate() error {
	if k.set.Capacity() == 0 {
		return nil
	}
	if err := dispatchOnce(k.device, kernels.KeyCalculateSortKeys, k.groups, 0); err != nil {
		return fmt.Errorf("calculate sort keys: %w", err)
	}
	return nil
}

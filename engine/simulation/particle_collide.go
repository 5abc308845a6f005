package simulation

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/buffer_set"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/parallel_sort"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
)

// ParticleCollide resolves collisions between neighbours of the sorted particle buffer. After a
// Morton sort, particles close in space are mostly close in the buffer, so testing each particle
// against the next one catches most contacts. Two passes, one over the even pairs (0,1), (2,3)...
// and one over the odd pairs (1,2), (3,4)..., let every particle meet both neighbours without two
// invocations writing the same particle.
type ParticleCollide interface {
	// Collide submits both pair passes as one frame. It does not wait for the device.
	Collide() error
}

// parameter slots of the two pair passes
const (
	paramSlotEvenPairs = 0
	paramSlotOddPairs  = 1
)

type particleCollide struct {
	device parallel_sort.Device
	set    buffer_set.BufferSet
	groups uint32
}

var _ ParticleCollide = &particleCollide{}

// NewParticleCollide creates the collision pass. Both offsets are uploaded once here.
//
// Parameters:
//   - device: the compute device with particle_collide registered
//   - set: the particle buffers
//   - radius: the collision radius of particles without one of their own
//
// Returns:
//   - ParticleCollide: the collision pass
//   - error: an error if the kernel is not registered or an upload fails
func NewParticleCollide(device parallel_sort.Device, set buffer_set.BufferSet, radius float32) (ParticleCollide, error) {
	size, err := device.WorkgroupSize(kernels.KeyParticleCollide)
	if err != nil {
		return nil, err
	}
	for slot, offset := range map[int]uint32{paramSlotEvenPairs: 0, paramSlotOddPairs: 1} {
		params := particle.GPUCollideParams{
			IndexOffset:   offset,
			ParticleCount: set.Capacity(),
			DefaultRadius: radius,
		}
		if err := device.UploadParams(kernels.KeyParticleCollide, slot, params.Marshal()); err != nil {
			return nil, err
		}
	}
	pairs := common.DivCeil(set.Capacity(), 2)
	return &particleCollide{
		device: device,
		set:    set,
		groups: common.DivCeil(pairs, size[0]),
	}, nil
}

func (c *particleCollide) Collide() error {
	if c.set.Capacity() < 2 {
		return nil
	}
	if err := c.device.BeginComputeFrame(); err != nil {
		return fmt.Errorf("collide particles: %w", err)
	}
	for _, slot := range []int{paramSlotEvenPairs, paramSlotOddPairs} {
		if err := c.device.DispatchKernel(kernels.KeyParticleCollide, [3]uint32{c.groups, 1, 1}, slot); err != nil {
			_ = c.device.EndComputeFrame()
			return fmt.Errorf("collide particles: %w", err)
		}
		if err := c.device.Barrier(); err != nil {
			_ = c.device.EndComputeFrame()
			return fmt.Errorf("collide particles: %w", err)
		}
	}
	if err := c.device.EndComputeFrame(); err != nil {
		return fmt.Errorf("collide particles: %w", err)
	}
	return nil
}

package simulation

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/atomic_counter"
	"github.com/Carmen-Shannon/oxy-particles/engine/buffer_set"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/parallel_sort"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
)

// ParticleUpdate integrates every active particle and counts the ones still inside the region.
type ParticleUpdate interface {
	// Update advances active particles by dt and deactivates those leaving the region sphere.
	// It waits for the device to count the survivors.
	//
	// Parameters:
	//   - dt: the time step in seconds
	//
	// Returns:
	//   - error: a dispatch failure
	Update(dt float32) error

	// NumActiveParticles returns the count read back by the last Update.
	NumActiveParticles() uint32
}

type particleUpdate struct {
	device  parallel_sort.Device
	set     buffer_set.BufferSet
	counter atomic_counter.AtomicCounter

	center [3]float32
	radius float32
	groups uint32

	numActive uint32
}

var _ ParticleUpdate = &particleUpdate{}

// NewParticleUpdate creates the update controller.
//
// Parameters:
//   - device: the compute device with particle_update registered
//   - set: the particle buffers
//   - counter: the shared atomic counter
//   - center: the region center
//   - radius: the region radius
//
// Returns:
//   - ParticleUpdate: the controller
//   - error: an error if the kernel is not registered
func NewParticleUpdate(device parallel_sort.Device, set buffer_set.BufferSet, counter atomic_counter.AtomicCounter, center [3]float32, radius float32) (ParticleUpdate, error) {
	size, err := device.WorkgroupSize(kernels.KeyParticleUpdate)
	if err != nil {
		return nil, err
	}
	return &particleUpdate{
		device:  device,
		set:     set,
		counter: counter,
		center:  center,
		radius:  radius,
		groups:  common.DivCeil(set.Capacity(), size[0]),
	}, nil
}

func (u *particleUpdate) Update(dt float32) error {
	n := u.set.Capacity()
	if n == 0 {
		u.numActive = 0
		return nil
	}

	u.counter.Reset()
	params := particle.GPUUpdateParams{
		RegionCenter:  [4]float32{u.center[0], u.center[1], u.center[2], 1},
		RegionRadius:  u.radius,
		DeltaTime:     dt,
		ParticleCount: n,
	}
	if err := u.device.UploadParams(kernels.KeyParticleUpdate, 0, params.Marshal()); err != nil {
		return fmt.Errorf("particle update: %w", err)
	}
	if err := dispatchOnce(u.device, kernels.KeyParticleUpdate, u.groups, 0); err != nil {
		return fmt.Errorf("particle update: %w", err)
	}
	u.numActive = u.counter.Read()
	return nil
}

func (u *particleUpdate) NumActiveParticles() uint32 {
	return u.numActive
}

// dispatchOnce submits a frame holding a single dispatch and its barrier.
func dispatchOnce(device parallel_sort.Device, key kernels.Key, groups uint32, paramSlot int) error {
	if err := device.BeginComputeFrame(); err != nil {
		return err
	}
	if err := device.DispatchKernel(key, [3]uint32{groups, 1, 1}, paramSlot); err != nil {
		_ = device.EndComputeFrame()
		return err
	}
	if err := device.Barrier(); err != nil {
		_ = device.EndComputeFrame()
		return err
	}
	return device.EndComputeFrame()
}

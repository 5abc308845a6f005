// Package buffer_set allocates the device buffers the radix sort and the particle kernels share.
package buffer_set

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"go.uber.org/zap"
)

// MaxCapacity keeps the particle and scratch buffers under the 128 MiB storage binding limit
// every WebGPU device guarantees.
const MaxCapacity = 1 << 21

// ErrCapacityExceeded is returned for a capacity above MaxCapacity.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// pairSize is the byte size of one key-index pair.
const pairSize = 8

// bufferSet is the implementation of the BufferSet interface.
type bufferSet struct {
	binder   compute.BufferBinder
	capacity uint32
	sizes    [kernels.NumSlots]uint64
	logger   *zap.Logger
}

// BufferSet is the fixed set of slot buffers for one particle capacity. It owns no logic and is
// immutable after construction; a different capacity needs a new set.
type BufferSet interface {
	// Capacity returns the number of particles N the set was built for.
	Capacity() uint32

	// NumPairs returns the length of the double-buffered pair region, 2N.
	NumPairs() uint32

	// NumGroupSums returns ceil(N / ItemsPerGroup()).
	NumGroupSums() uint32

	// NumPrefixSums returns N rounded up to a multiple of ItemsPerGroup().
	NumPrefixSums() uint32

	// ItemsPerGroup returns the number of prefix slots one scan work group covers.
	ItemsPerGroup() uint32

	// Size returns the allocated byte size of a slot.
	Size(slot kernels.Slot) uint64

	// Release frees every buffer of the set.
	Release()
}

var _ BufferSet = &bufferSet{}

// New allocates every slot buffer for capacity particles. A zero capacity allocates each buffer
// at the size of a single element so every kernel still binds.
//
// Parameters:
//   - binder: the device that owns the buffers
//   - capacity: the particle count N
//   - options: variadic list of BufferSetOption functions
//
// Returns:
//   - BufferSet: the allocated set
//   - error: ErrCapacityExceeded, or the first allocation failure; nothing stays allocated on error
func New(binder compute.BufferBinder, capacity uint32, options ...BufferSetOption) (BufferSet, error) {
	if capacity > MaxCapacity {
		return nil, fmt.Errorf("%w: %d particles, max %d", ErrCapacityExceeded, capacity, MaxCapacity)
	}
	b := &bufferSet{
		binder:   binder,
		capacity: capacity,
		logger:   zap.NewNop(),
	}
	for _, opt := range options {
		opt(b)
	}

	n := max(uint64(capacity), 1)
	b.sizes[kernels.SlotParticles] = n * particle.ParticleSize
	b.sizes[kernels.SlotIntermediate] = 2 * n * pairSize
	b.sizes[kernels.SlotGroupSums] = max(uint64(b.NumGroupSums()), 1) * 4
	b.sizes[kernels.SlotPrefixSums] = max(uint64(b.NumPrefixSums()), kernels.ItemsPerWorkGroup) * 4
	b.sizes[kernels.SlotScratch] = n * particle.ParticleSize
	b.sizes[kernels.SlotCounter] = 4

	for slot := range kernels.Slot(kernels.NumSlots) {
		if err := binder.BindBuffer(slot, b.sizes[slot], "oxy "+slot.String()); err != nil {
			for bound := range slot {
				binder.ReleaseBuffer(bound)
			}
			return nil, fmt.Errorf("allocate %s: %w", slot, err)
		}
	}
	b.logger.Info("buffer set allocated",
		zap.Uint32("capacity", capacity),
		zap.Uint32("group_sums", b.NumGroupSums()),
		zap.Uint32("prefix_sums", b.NumPrefixSums()),
	)
	return b, nil
}

func (b *bufferSet) Capacity() uint32 {
	return b.capacity
}

func (b *bufferSet) NumPairs() uint32 {
	return 2 * b.capacity
}

func (b *bufferSet) NumGroupSums() uint32 {
	return common.DivCeil(b.capacity, kernels.ItemsPerWorkGroup)
}

func (b *bufferSet) NumPrefixSums() uint32 {
	return common.RoundUp(b.capacity, kernels.ItemsPerWorkGroup)
}

func (b *bufferSet) ItemsPerGroup() uint32 {
	return kernels.ItemsPerWorkGroup
}

func (b *bufferSet) Size(slot kernels.Slot) uint64 {
	if slot < 0 || int(slot) >= kernels.NumSlots {
		return 0
	}
	return b.sizes[slot]
}

func (b *bufferSet) Release() {
	for slot := range kernels.Slot(kernels.NumSlots) {
		b.binder.ReleaseBuffer(slot)
	}
}

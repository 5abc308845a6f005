// Package atomic_counter reads GPU-computed counts back to the host through a single u32 cell.
package atomic_counter

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"go.uber.org/zap"
)

// atomicCounter is the implementation of the AtomicCounter interface.
type atomicCounter struct {
	mu *sync.Mutex

	cell compute.HostCell
	slot kernels.Slot

	// epoch is the device epoch observed by the last acquisition.
	epoch uint64

	logger *zap.Logger
}

// AtomicCounter is a persistent u32 cell kernels increment atomically. Every host access first
// waits for all submitted device work, so a Read never observes a partially counted dispatch and
// a Reset never races a dispatch still counting.
//
// A device failure while waiting or accessing the cell is unrecoverable and panics.
type AtomicCounter interface {
	// Reset waits for the device to go idle and stores 0. The store is ordered before every
	// dispatch submitted afterwards.
	Reset()

	// Read waits for the device to go idle and returns the cell's value.
	//
	// Returns:
	//   - uint32: the counter value
	Read() uint32

	// Epoch returns the device epoch observed by the last Reset or Read.
	//
	// Returns:
	//   - uint64: the epoch, 0 before the first access
	Epoch() uint64
}

var _ AtomicCounter = &atomicCounter{}

// New creates a counter over the cell at kernels.SlotCounter.
//
// Parameters:
//   - cell: the device's host cell access
//   - options: variadic list of AtomicCounterOption functions
//
// Returns:
//   - AtomicCounter: the counter
func New(cell compute.HostCell, options ...AtomicCounterOption) AtomicCounter {
	c := &atomicCounter{
		mu:     &sync.Mutex{},
		cell:   cell,
		slot:   kernels.SlotCounter,
		logger: zap.NewNop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// acquire is the only path to the cell. It holds the lock, waits for the device epoch to
// advance past every submitted frame, records it, and runs fn.
func (c *atomicCounter) acquire(op string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	epoch, err := c.cell.WaitIdle()
	if err != nil {
		c.logger.Error("device wait failed", zap.String("op", op), zap.Error(err))
		panic(fmt.Errorf("atomic counter %s: wait for device: %w", op, err))
	}
	c.epoch = epoch
	if err := fn(); err != nil {
		c.logger.Error("cell access failed", zap.String("op", op), zap.Error(err))
		panic(fmt.Errorf("atomic counter %s: %w", op, err))
	}
}

func (c *atomicCounter) Reset() {
	c.acquire("reset", func() error {
		return c.cell.StoreCell(c.slot, 0)
	})
}

func (c *atomicCounter) Read() uint32 {
	var v uint32
	c.acquire("read", func() error {
		var err error
		v, err = c.cell.LoadCell(c.slot)
		return err
	})
	return v
}

func (c *atomicCounter) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

package atomic_counter

import (
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"go.uber.org/zap"
)

// AtomicCounterOption is a functional option applied to an AtomicCounter during construction via New.
type AtomicCounterOption func(*atomicCounter)

// WithSlot places the counter at a different slot than kernels.SlotCounter.
//
// Parameters:
//   - slot: the slot holding the cell
//
// Returns:
//   - AtomicCounterOption: a function that applies the option to a counter
func WithSlot(slot kernels.Slot) AtomicCounterOption {
	return func(c *atomicCounter) {
		c.slot = slot
	}
}

// WithLogger sets the logger device failures are reported to before panicking.
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - AtomicCounterOption: a function that applies the option to a counter
func WithLogger(l *zap.Logger) AtomicCounterOption {
	return func(c *atomicCounter) {
		if l != nil {
			c.logger = l
		}
	}
}

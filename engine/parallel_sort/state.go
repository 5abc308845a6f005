package parallel_sort

import "fmt"

// State is the orchestrator's position in a sort.
type State int32

const (
	StateIdle State = iota
	StateSeeding
	StateExtractingBit
	StateScanningLocal
	StateScanningGlobal
	StateScattering
	StateGathering
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeeding:
		return "seeding"
	case StateExtractingBit:
		return "extract"
	case StateScanningLocal:
		return "scan local"
	case StateScanningGlobal:
		return "scan global"
	case StateScattering:
		return "scatter"
	case StateGathering:
		return "gathering"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Parity names the half of the pair region a bit pass reads from. The pass writes the other
// half, and the parity flips once per pass.
type Parity int32

const (
	ParityFirstHalf Parity = iota
	ParitySecondHalf
)

// Flip returns the opposite half.
func (p Parity) Flip() Parity {
	if p == ParityFirstHalf {
		return ParitySecondHalf
	}
	return ParityFirstHalf
}

// ReadOffset returns the first pair index of the half this parity reads, for n elements.
func (p Parity) ReadOffset(n uint32) uint32 {
	if p == ParityFirstHalf {
		return 0
	}
	return n
}

// WriteOffset returns the first pair index of the half this parity writes, for n elements.
func (p Parity) WriteOffset(n uint32) uint32 {
	return p.Flip().ReadOffset(n)
}

func (p Parity) String() string {
	switch p {
	case ParityFirstHalf:
		return "first half"
	case ParitySecondHalf:
		return "second half"
	default:
		return fmt.Sprintf("Parity(%d)", int32(p))
	}
}

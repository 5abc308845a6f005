// Package kernels holds the compute kernels of the particle system: their WGSL sources, the
// GPU types they share with the host, the stable buffer slot numbering every kernel binds
// against, and Go emulations that execute the same kernels one work group at a time.
package kernels

import (
	_ "embed"
	"fmt"
)

// ItemsPerWorkGroup is the number of prefix slots one scan work group covers. Element kernels
// run with a matching work group size so a single bit-extraction group fills one scan block.
const ItemsPerWorkGroup = 256

// KeyBits is the width of a sort key. The radix sort runs one pass per bit.
const KeyBits = 32

// Key names a compute kernel. It doubles as the shader and pipeline key.
type Key string

const (
	// KeyCopyToIntermediate seeds {key, index} pairs and snapshots particles into scratch.
	KeyCopyToIntermediate Key = "copy_to_intermediate"

	// KeyGetBitForPrefixScan writes one key bit per element into the prefix array.
	KeyGetBitForPrefixScan Key = "get_bit_for_prefix_scan"

	// KeyParallelPrefixScan is the two-tier exclusive scan, selected by ScanParams.CalculateAll.
	KeyParallelPrefixScan Key = "parallel_prefix_scan"

	// KeySortByPrefixSum scatters pairs into the opposite half of the pair buffer.
	KeySortByPrefixSum Key = "sort_by_prefix_sum"

	// KeyCopyFromSorted gathers whole particle records back in sorted order.
	KeyCopyFromSorted Key = "copy_from_sorted"

	// KeyCalculateSortKeys writes each particle's Morton code.
	KeyCalculateSortKeys Key = "calculate_sort_keys"

	// KeyParticleUpdate integrates particles and counts the active ones.
	KeyParticleUpdate Key = "particle_update"

	// KeyParticleResetPoint respawns inactive particles at a point emitter.
	KeyParticleResetPoint Key = "particle_reset_point"

	// KeyParticleResetBar respawns inactive particles along a bar emitter.
	KeyParticleResetBar Key = "particle_reset_bar"

	// KeyParticleCollide resolves collisions between neighbours of the sorted buffer.
	KeyParticleCollide Key = "particle_collide"
)

var (
	//go:embed assets/copy_to_intermediate.wgsl
	copyToIntermediateSource string

	//go:embed assets/get_bit_for_prefix_scan.wgsl
	getBitForPrefixScanSource string

	//go:embed assets/parallel_prefix_scan.wgsl
	parallelPrefixScanSource string

	//go:embed assets/sort_by_prefix_sum.wgsl
	sortByPrefixSumSource string

	//go:embed assets/copy_from_sorted.wgsl
	copyFromSortedSource string

	//go:embed assets/calculate_sort_keys.wgsl
	calculateSortKeysSource string

	//go:embed assets/particle_update.wgsl
	particleUpdateSource string

	//go:embed assets/particle_reset_point.wgsl
	particleResetPointSource string

	//go:embed assets/particle_reset_bar.wgsl
	particleResetBarSource string

	//go:embed assets/particle_collide.wgsl
	particleCollideSource string
)

// sources maps each kernel to its un-processed WGSL source, annotations included.
var sources = map[Key]string{
	KeyCopyToIntermediate:  copyToIntermediateSource,
	KeyGetBitForPrefixScan: getBitForPrefixScanSource,
	KeyParallelPrefixScan:  parallelPrefixScanSource,
	KeySortByPrefixSum:     sortByPrefixSumSource,
	KeyCopyFromSorted:      copyFromSortedSource,
	KeyCalculateSortKeys:   calculateSortKeysSource,
	KeyParticleUpdate:      particleUpdateSource,
	KeyParticleResetPoint:  particleResetPointSource,
	KeyParticleResetBar:    particleResetBarSource,
	KeyParticleCollide:     particleCollideSource,
}

// All returns every kernel key in a fixed order.
//
// Returns:
//   - []Key: the kernel keys
func All() []Key {
	return []Key{
		KeyCopyToIntermediate,
		KeyGetBitForPrefixScan,
		KeyParallelPrefixScan,
		KeySortByPrefixSum,
		KeyCopyFromSorted,
		KeyCalculateSortKeys,
		KeyParticleUpdate,
		KeyParticleResetPoint,
		KeyParticleResetBar,
		KeyParticleCollide,
	}
}

// SortKeys returns the kernels the radix sort dispatches.
//
// Returns:
//   - []Key: the sort kernel keys
func SortKeys() []Key {
	return []Key{
		KeyCopyToIntermediate,
		KeyGetBitForPrefixScan,
		KeyParallelPrefixScan,
		KeySortByPrefixSum,
		KeyCopyFromSorted,
	}
}

// Source returns the WGSL source of a kernel before pre-processing.
//
// Parameters:
//   - key: the kernel key
//
// Returns:
//   - string: the annotated WGSL source
//   - bool: false if the key is not a known kernel
func Source(key Key) (string, bool) {
	src, ok := sources[key]
	return src, ok
}

// Slot is the stable binding index of a shared device buffer. Every kernel declares its
// group 0 bindings with these numbers.
type Slot int

const (
	SlotParticles    Slot = 0
	SlotIntermediate Slot = 1
	SlotGroupSums    Slot = 2
	SlotPrefixSums   Slot = 3
	SlotScratch      Slot = 4
	SlotCounter      Slot = 5
)

// NumSlots is the number of shared buffer slots.
const NumSlots = 6

// slotIdentities holds the provider identity each slot is declared with in WGSL annotations.
var slotIdentities = [NumSlots]string{
	SlotParticles:    "particles",
	SlotIntermediate: "intermediate",
	SlotGroupSums:    "group_sums",
	SlotPrefixSums:   "prefix_sums",
	SlotScratch:      "scratch",
	SlotCounter:      "counter",
}

// Identity returns the provider identity of the slot as used in @oxy:provider annotations.
func (s Slot) Identity() string {
	if s < 0 || int(s) >= NumSlots {
		return ""
	}
	return slotIdentities[s]
}

func (s Slot) String() string {
	if id := s.Identity(); id != "" {
		return id
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

// SlotByIdentity resolves a provider identity to its slot.
//
// Parameters:
//   - identity: the provider identity, e.g. "prefix_sums"
//
// Returns:
//   - Slot: the matching slot
//   - bool: false if the identity names no slot
func SlotByIdentity(identity string) (Slot, bool) {
	for i, id := range slotIdentities {
		if id == identity {
			return Slot(i), true
		}
	}
	return 0, false
}

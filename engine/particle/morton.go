package particle

// mortonAxisMax is the largest quantized coordinate on one axis (10 bits).
const mortonAxisMax = 1023

// RegionBounds returns the minimum corner and inverse edge length of the cube enclosing the
// particle region sphere.
//
// Parameters:
//   - center: the region center
//   - radius: the region radius, must be positive
//
// Returns:
//   - [3]float32: the cube's minimum corner
//   - float32: 1 / (2 * radius)
func RegionBounds(center [3]float32, radius float32) ([3]float32, float32) {
	return [3]float32{center[0] - radius, center[1] - radius, center[2] - radius}, 1 / (2 * radius)
}

// MortonCode computes the 30-bit Z-order key of a position inside the region cube. Each axis is
// normalized, clamped to [0, 1] and quantized to 10 bits before the bits are interleaved with x
// in the most significant slot. This is the host mirror of the calculate_sort_keys kernel.
//
// Parameters:
//   - position: the particle position
//   - regionMin: the region cube's minimum corner
//   - inverseExtent: the reciprocal of the cube edge length
//
// Returns:
//   - uint32: the interleaved key
func MortonCode(position, regionMin [3]float32, inverseExtent float32) uint32 {
	var code uint32
	for axis := range 3 {
		n := (position[axis] - regionMin[axis]) * inverseExtent
		n = min(max(n, 0), 1)
		code |= spreadBits(uint32(n*mortonAxisMax)) << (2 - axis)
	}
	return code
}

// spreadBits inserts two zero bits between each of the low 10 bits of v.
func spreadBits(v uint32) uint32 {
	v &= 0x3ff
	v = (v * 0x00010001) & 0xff0000ff
	v = (v * 0x00000101) & 0x0f00f00f
	v = (v * 0x00000011) & 0xc30c30c3
	v = (v * 0x00000005) & 0x49249249
	return v
}

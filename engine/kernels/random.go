package kernels

// PCGHash is the permuted congruential hash the reset kernels use as their random source.
// It matches pcg_hash in WGSL bit for bit.
//
// Parameters:
//   - input: the value to hash
//
// Returns:
//   - uint32: the hashed value
func PCGHash(input uint32) uint32 {
	state := input*747796405 + 2891336453
	word := ((state >> ((state >> 28) + 4)) ^ state) * 277803737
	return (word >> 22) ^ word
}

// randomFloat advances state and maps it onto [0, 1].
func randomFloat(state *uint32) float32 {
	*state = PCGHash(*state)
	return float32(*state) / 4294967295.0
}

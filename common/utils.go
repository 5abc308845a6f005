package common

// Coalesce returns the first non-zero value from the provided values, or the zero value if all are zero.
//
// Parameters:
//   - values: a variadic list of values to check for non-zero status
//
// Returns:
//   - T: the first non-zero value from the input, or the zero value if all are zero
func Coalesce[T comparable](values ...T) T {
	var zero T
	for _, v := range values {
		if v != zero {
			return v
		}
	}
	return zero
}

// DivCeil returns the number of groups of size d needed to cover n items.
// A zero divisor yields zero.
//
// Parameters:
//   - n: the number of items
//   - d: the group size
//
// Returns:
//   - uint32: ceil(n / d)
func DivCeil(n, d uint32) uint32 {
	if d == 0 {
		return 0
	}
	return (n + d - 1) / d
}

// RoundUp rounds n up to the next multiple of m. A zero multiple returns n unchanged.
//
// Parameters:
//   - n: the value to round
//   - m: the multiple to round to
//
// Returns:
//   - uint32: the smallest multiple of m that is >= n
func RoundUp(n, m uint32) uint32 {
	if m == 0 {
		return n
	}
	return DivCeil(n, m) * m
}

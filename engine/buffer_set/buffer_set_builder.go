package buffer_set

import "go.uber.org/zap"

// BufferSetOption is a functional option applied to a BufferSet during construction via New.
type BufferSetOption func(*bufferSet)

// WithLogger sets the logger allocation is reported to.
//
// Parameters:
//   - l: the logger
//
// Returns:
//   - BufferSetOption: a function that applies the option to a buffer set
func WithLogger(l *zap.Logger) BufferSetOption {
	return func(b *bufferSet) {
		if l != nil {
			b.logger = l
		}
	}
}

package parallel_sort

import (
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"go.uber.org/zap"
)

// ParallelSortOption is a functional option applied to a ParallelSort during construction via New.
type ParallelSortOption func(*parallelSort)

// WithVerify makes every sort read the particles back and check their order afterwards.
//
// Parameters:
//   - verify: true to verify after each sort
//
// Returns:
//   - ParallelSortOption: a function that applies the option to a sort
func WithVerify(verify bool) ParallelSortOption {
	return func(s *parallelSort) {
		s.verify = verify
	}
}

// WithRunID tags sort profiles with a run identifier.
//
// Parameters:
//   - id: the run identifier
//
// Returns:
//   - ParallelSortOption: a function that applies the option to a sort
func WithRunID(id string) ParallelSortOption {
	return func(s *parallelSort) {
		s.runID = id
	}
}

// WithMetrics observes every profiled sort into the stage histogram.
func WithMetrics(m *profiler.Metrics) ParallelSortOption {
	return func(s *parallelSort) {
		s.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ParallelSortOption {
	return func(s *parallelSort) {
		if l != nil {
			s.logger = l
		}
	}
}

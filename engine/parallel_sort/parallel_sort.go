// Package parallel_sort orders the particle buffer by sort key with a 32 pass LSD radix sort
// that runs entirely on the device. Each pass extracts one key bit, scans the bits with a two
// tier exclusive prefix sum, and scatters the key-index pairs into the other half of the pair
// region as a stable partition. A final gather moves whole particle records into sorted order.
package parallel_sort

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/buffer_set"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/Carmen-Shannon/oxy-particles/engine/profiler"
	"go.uber.org/zap"
)

var (
	// ErrNotSorted is returned by Verify when two active particles are out of key order.
	ErrNotSorted = errors.New("particles not sorted")

	// ErrParityMismatch is returned when the bit passes do not leave the pairs in the first half.
	ErrParityMismatch = errors.New("sorted pairs not in first half")
)

// Parameter slots. Bit passes use the bit number as their slot.
const (
	paramSlotSeedGather = 0
	paramSlotScanAll    = 0
	paramSlotScanGroups = 1
)

// Device is what the sort needs from a compute device.
type Device interface {
	compute.Dispatcher
	compute.BufferBinder
	compute.HostCell
}

// parallelSort is the implementation of the ParallelSort interface.
type parallelSort struct {
	mu *sync.Mutex

	device Device
	set    buffer_set.BufferSet

	// work group x size per kernel, resolved once at construction
	workgroupSize map[kernels.Key]uint32

	state  atomic.Int32
	parity atomic.Int32

	verify  bool
	runID   string
	metrics *profiler.Metrics
	logger  *zap.Logger
}

// ParallelSort sorts the particle buffer of a BufferSet in place, ascending by sort key. Equal
// keys keep their original index order.
type ParallelSort interface {
	// Sort records and submits the whole sort as one frame. It does not wait for the device.
	// A zero capacity returns immediately without dispatching.
	//
	// Parameters:
	//   - ctx: checked once before the first dispatch
	//
	// Returns:
	//   - error: the context error, or the first failing stage wrapped with its bit number
	Sort(ctx context.Context) error

	// SortWithProfiling sorts like Sort but submits every stage on its own and waits for the
	// device after it, recording how long each stage took.
	//
	// Parameters:
	//   - ctx: checked once before the first dispatch
	//
	// Returns:
	//   - *profiler.SortProfile: the stage durations
	//   - error: the same errors as Sort, or a verification failure when verification is enabled
	SortWithProfiling(ctx context.Context) (*profiler.SortProfile, error)

	// Verify reads the particle buffer back and checks that active particles with a real key
	// are in ascending key order.
	//
	// Returns:
	//   - error: ErrNotSorted naming the first violation, or a read failure
	Verify() error

	// State returns the current orchestrator state. It is StateIdle between sorts.
	State() State

	// Parity returns the half of the pair region the next pass reads.
	Parity() Parity
}

var _ ParallelSort = &parallelSort{}

// New prepares a sort over a buffer set. Every sort kernel must already be registered on the
// device. The parameters of all passes depend only on the capacity, so they are uploaded here
// once and reused by every sort.
//
// Parameters:
//   - device: the compute device the set was allocated on
//   - set: the buffers to sort
//   - options: variadic list of ParallelSortOption functions
//
// Returns:
//   - ParallelSort: the sort
//   - error: an error if a kernel is not registered or a parameter upload fails
func New(device Device, set buffer_set.BufferSet, options ...ParallelSortOption) (ParallelSort, error) {
	s := &parallelSort{
		mu:            &sync.Mutex{},
		device:        device,
		set:           set,
		workgroupSize: make(map[kernels.Key]uint32),
		logger:        zap.NewNop(),
	}
	for _, opt := range options {
		opt(s)
	}

	for _, key := range kernels.SortKeys() {
		size, err := device.WorkgroupSize(key)
		if err != nil {
			return nil, fmt.Errorf("parallel sort: %w", err)
		}
		s.workgroupSize[key] = size[0]
	}
	if err := s.uploadParams(); err != nil {
		return nil, fmt.Errorf("parallel sort: %w", err)
	}
	return s, nil
}

func (s *parallelSort) uploadParams() error {
	n := s.set.Capacity()

	seed := kernels.GPUSortParams{WriteOffset: ParityFirstHalf.ReadOffset(n), ElementCount: n}
	if err := s.device.UploadParams(kernels.KeyCopyToIntermediate, paramSlotSeedGather, seed.Marshal()); err != nil {
		return err
	}

	parity := ParityFirstHalf
	for bit := range kernels.KeyBits {
		sp := kernels.GPUSortParams{
			BitNumber:    uint32(bit),
			ReadOffset:   parity.ReadOffset(n),
			WriteOffset:  parity.WriteOffset(n),
			ElementCount: n,
		}
		if err := s.device.UploadParams(kernels.KeyGetBitForPrefixScan, bit, sp.Marshal()); err != nil {
			return err
		}
		if err := s.device.UploadParams(kernels.KeySortByPrefixSum, bit, sp.Marshal()); err != nil {
			return err
		}
		parity = parity.Flip()
	}
	if parity != ParityFirstHalf {
		return fmt.Errorf("%w: %d passes end in the %s", ErrParityMismatch, kernels.KeyBits, parity)
	}

	gather := kernels.GPUSortParams{ReadOffset: parity.ReadOffset(n), ElementCount: n}
	if err := s.device.UploadParams(kernels.KeyCopyFromSorted, paramSlotSeedGather, gather.Marshal()); err != nil {
		return err
	}

	all := kernels.GPUScanParams{CalculateAll: 1, ElementCount: s.set.NumPrefixSums(), GroupSumCount: s.set.NumGroupSums()}
	if err := s.device.UploadParams(kernels.KeyParallelPrefixScan, paramSlotScanAll, all.Marshal()); err != nil {
		return err
	}
	groups := kernels.GPUScanParams{CalculateAll: 0, ElementCount: s.set.NumPrefixSums(), GroupSumCount: s.set.NumGroupSums()}
	return s.device.UploadParams(kernels.KeyParallelPrefixScan, paramSlotScanGroups, groups.Marshal())
}

func (s *parallelSort) State() State {
	return State(s.state.Load())
}

func (s *parallelSort) Parity() Parity {
	return Parity(s.parity.Load())
}

func (s *parallelSort) Sort(ctx context.Context) error {
	if err := s.run(ctx, nil); err != nil {
		return err
	}
	if s.verify {
		if _, err := s.device.WaitIdle(); err != nil {
			return fmt.Errorf("parallel sort: %w", err)
		}
		return s.Verify()
	}
	return nil
}

func (s *parallelSort) SortWithProfiling(ctx context.Context) (*profiler.SortProfile, error) {
	sp := profiler.NewSortProfile(s.runID, s.set.Capacity())
	if err := s.run(ctx, sp); err != nil {
		return sp, err
	}
	if s.verify && s.set.Capacity() > 0 {
		start := time.Now()
		err := s.Verify()
		sp.Record(profiler.StageVerification, 0, time.Since(start))
		if err != nil {
			return sp, err
		}
	}
	sp.Observe(s.metrics)
	s.logger.Debug("sort profiled", zap.Uint32("elements", sp.Elements), zap.Duration("total", sp.Total()))
	return sp, nil
}

// run executes the state machine. A non-nil profile splits the sort into one submission per
// stage and waits for each.
func (s *parallelSort) run(ctx context.Context, sp *profiler.SortProfile) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("parallel sort: %w", err)
	}
	n := s.set.Capacity()
	if n == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.state.Store(int32(StateIdle))

	s.parity.Store(int32(ParityFirstHalf))
	if err := s.device.BeginComputeFrame(); err != nil {
		return fmt.Errorf("parallel sort: begin frame: %w", err)
	}
	frameOpen := true
	defer func() {
		if frameOpen {
			_ = s.device.EndComputeFrame()
		}
	}()

	// stage dispatches one kernel followed by a barrier. When profiling, it also submits the
	// frame, waits for it, and opens the next one.
	stage := func(state State, bit int, key kernels.Key, groups uint32, paramSlot int) error {
		s.state.Store(int32(state))
		start := time.Now()
		if err := s.device.DispatchKernel(key, [3]uint32{groups, 1, 1}, paramSlot); err != nil {
			return err
		}
		if err := s.device.Barrier(); err != nil {
			return err
		}
		if sp == nil {
			return nil
		}
		frameOpen = false
		if err := s.device.EndComputeFrame(); err != nil {
			return err
		}
		if _, err := s.device.WaitIdle(); err != nil {
			return err
		}
		sp.Record(profilerStage(state), bit, time.Since(start))
		if err := s.device.BeginComputeFrame(); err != nil {
			return err
		}
		frameOpen = true
		return nil
	}

	elementGroups := func(key kernels.Key) uint32 {
		return common.DivCeil(n, s.workgroupSize[key])
	}

	if err := stage(StateSeeding, 0, kernels.KeyCopyToIntermediate, elementGroups(kernels.KeyCopyToIntermediate), paramSlotSeedGather); err != nil {
		return fmt.Errorf("parallel sort: %s: %w", StateSeeding, err)
	}

	for bit := range kernels.KeyBits {
		passes := []struct {
			state  State
			key    kernels.Key
			groups uint32
			slot   int
		}{
			{StateExtractingBit, kernels.KeyGetBitForPrefixScan, elementGroups(kernels.KeyGetBitForPrefixScan), bit},
			{StateScanningLocal, kernels.KeyParallelPrefixScan, s.set.NumGroupSums(), paramSlotScanAll},
			{StateScanningGlobal, kernels.KeyParallelPrefixScan, 1, paramSlotScanGroups},
			{StateScattering, kernels.KeySortByPrefixSum, elementGroups(kernels.KeySortByPrefixSum), bit},
		}
		for _, p := range passes {
			if err := stage(p.state, bit, p.key, p.groups, p.slot); err != nil {
				return fmt.Errorf("parallel sort: %s bit %d: %w", p.state, bit, err)
			}
		}
		s.parity.Store(int32(s.Parity().Flip()))
	}

	if parity := s.Parity(); parity != ParityFirstHalf {
		return fmt.Errorf("parallel sort: %w: ended in the %s", ErrParityMismatch, parity)
	}

	if err := stage(StateGathering, 0, kernels.KeyCopyFromSorted, elementGroups(kernels.KeyCopyFromSorted), paramSlotSeedGather); err != nil {
		return fmt.Errorf("parallel sort: %s: %w", StateGathering, err)
	}

	frameOpen = false
	if err := s.device.EndComputeFrame(); err != nil {
		return fmt.Errorf("parallel sort: submit: %w", err)
	}
	return nil
}

func profilerStage(state State) profiler.Stage {
	switch state {
	case StateSeeding:
		return profiler.StageSeeding
	case StateExtractingBit:
		return profiler.StageExtract
	case StateScanningLocal:
		return profiler.StageScanLocal
	case StateScanningGlobal:
		return profiler.StageScanGlobal
	case StateScattering:
		return profiler.StageScatter
	default:
		return profiler.StageGathering
	}
}

func (s *parallelSort) Verify() error {
	n := s.set.Capacity()
	if n == 0 {
		return nil
	}
	raw, err := s.device.ReadBuffer(kernels.SlotParticles, 0, uint64(n)*particle.ParticleSize)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	particles, err := particle.UnmarshalParticles(raw)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}

	prev, prevIndex := uint32(0), -1
	for i := range particles {
		p := &particles[i]
		if !p.Active() || p.SortKey == particle.UnusedSortKey {
			continue
		}
		if prevIndex >= 0 && p.SortKey < prev {
			return fmt.Errorf("%w: particle %d key %#x follows particle %d key %#x", ErrNotSorted, i, p.SortKey, prevIndex, prev)
		}
		prev, prevIndex = p.SortKey, i
	}
	return nil
}

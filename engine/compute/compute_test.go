package compute

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmulated(t *testing.T) Compute {
	t.Helper()
	require.NoError(t, shader.InitRegistry())
	c := NewCompute(BackendTypeEmulated, WithWorkers(4))
	t.Cleanup(c.Release)
	require.NoError(t, c.RegisterKernels(kernels.SortKeys()...))
	return c
}

func words(vs ...uint32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func TestParseBackendType(t *testing.T) {
	bt, err := ParseBackendType("emulated")
	require.NoError(t, err)
	assert.Equal(t, BackendTypeEmulated, bt)
	assert.Equal(t, "wgpu", BackendTypeWGPU.String())

	_, err = ParseBackendType("vulkan")
	assert.Error(t, err)
}

func TestRegisterKernelsIsIdempotent(t *testing.T) {
	c := newEmulated(t)
	require.NoError(t, c.RegisterKernels(kernels.SortKeys()...))

	size, err := c.WorkgroupSize(kernels.KeyParallelPrefixScan)
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{kernels.ItemsPerWorkGroup / 2, 1, 1}, size)

	_, err = c.WorkgroupSize(kernels.KeyParticleUpdate)
	assert.ErrorIs(t, err, ErrUnknownKernel)
	assert.ErrorIs(t, c.UploadParams(kernels.KeyParticleUpdate, 0, nil), ErrUnknownKernel)
}

func TestBufferRoundTrip(t *testing.T) {
	c := newEmulated(t)

	_, err := c.ReadBuffer(kernels.SlotPrefixSums, 0, 4)
	assert.ErrorIs(t, err, ErrSlotUnbound)

	require.NoError(t, c.BindBuffer(kernels.SlotPrefixSums, 16, "prefix"))
	zeroed, err := c.ReadBuffer(kernels.SlotPrefixSums, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 16), zeroed)

	require.NoError(t, c.WriteBuffer(kernels.SlotPrefixSums, 4, words(7, 9)))
	got, err := c.ReadBuffer(kernels.SlotPrefixSums, 0, 16)
	require.NoError(t, err)
	assert.Equal(t, words(0, 7, 9, 0), got)

	assert.Error(t, c.WriteBuffer(kernels.SlotPrefixSums, 12, words(1, 2)))
	assert.Error(t, c.WriteBuffer(kernels.SlotPrefixSums, 2, words(1)))
	assert.Error(t, c.BindBuffer(kernels.SlotCounter, 6, "counter"))

	c.ReleaseBuffer(kernels.SlotPrefixSums)
	_, err = c.ReadBuffer(kernels.SlotPrefixSums, 0, 4)
	assert.ErrorIs(t, err, ErrSlotUnbound)
}

func TestFrameRules(t *testing.T) {
	c := newEmulated(t)
	require.NoError(t, c.BindBuffer(kernels.SlotCounter, 4, "counter"))

	assert.ErrorIs(t, c.Barrier(), ErrFrameNotOpen)
	assert.ErrorIs(t, c.DispatchKernel(kernels.KeyGetBitForPrefixScan, [3]uint32{1, 1, 1}, 0), ErrFrameNotOpen)

	require.NoError(t, c.BeginComputeFrame())
	assert.ErrorIs(t, c.StoreCell(kernels.SlotCounter, 1), ErrFrameOpen)
	_, err := c.LoadCell(kernels.SlotCounter)
	assert.ErrorIs(t, err, ErrFrameOpen)
	_, err = c.WaitIdle()
	assert.ErrorIs(t, err, ErrFrameOpen)
	require.NoError(t, c.Barrier())
	require.NoError(t, c.EndComputeFrame())

	require.NoError(t, c.StoreCell(kernels.SlotCounter, 42))
	v, err := c.LoadCell(kernels.SlotCounter)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), v)
}

func TestWaitIdleAdvancesEpoch(t *testing.T) {
	c := newEmulated(t)
	first, err := c.WaitIdle()
	require.NoError(t, err)
	second, err := c.WaitIdle()
	require.NoError(t, err)
	assert.Equal(t, first+1, second)
}

func TestDispatchRequiresBoundSlotsAndParams(t *testing.T) {
	c := newEmulated(t)
	sp := kernels.GPUSortParams{BitNumber: 0, ReadOffset: 0, WriteOffset: 4, ElementCount: 4}

	require.NoError(t, c.BeginComputeFrame())
	err := c.DispatchKernel(kernels.KeyGetBitForPrefixScan, [3]uint32{1, 1, 1}, 0)
	assert.ErrorIs(t, err, ErrSlotUnbound, "params never uploaded")

	require.NoError(t, c.UploadParams(kernels.KeyGetBitForPrefixScan, 0, sp.Marshal()))
	err = c.DispatchKernel(kernels.KeyGetBitForPrefixScan, [3]uint32{1, 1, 1}, 0)
	assert.ErrorIs(t, err, ErrSlotUnbound, "slot buffers never bound")
	require.NoError(t, c.EndComputeFrame())
}

func TestDispatchExtractsBits(t *testing.T) {
	c := newEmulated(t)
	const n = 300
	require.NoError(t, c.BindBuffer(kernels.SlotIntermediate, 2*n*8, "pairs"))
	require.NoError(t, c.BindBuffer(kernels.SlotPrefixSums, 512*4, "prefix"))

	pairs := make([]uint32, 0, 2*n)
	for i := range uint32(n) {
		pairs = append(pairs, i, i)
	}
	require.NoError(t, c.WriteBuffer(kernels.SlotIntermediate, 0, words(pairs...)))

	sp := kernels.GPUSortParams{BitNumber: 1, ReadOffset: 0, WriteOffset: n, ElementCount: n}
	require.NoError(t, c.UploadParams(kernels.KeyGetBitForPrefixScan, 3, sp.Marshal()))
	require.NoError(t, c.BeginComputeFrame())
	require.NoError(t, c.DispatchKernel(kernels.KeyGetBitForPrefixScan, [3]uint32{2, 1, 1}, 3))
	require.NoError(t, c.Barrier())
	require.NoError(t, c.EndComputeFrame())
	_, err := c.WaitIdle()
	require.NoError(t, err)

	raw, err := c.ReadBuffer(kernels.SlotPrefixSums, 0, 512*4)
	require.NoError(t, err)
	for i := range uint32(512) {
		want := uint32(0)
		if i < n {
			want = (i >> 1) & 1
		}
		require.Equal(t, want, binary.LittleEndian.Uint32(raw[4*i:]), "element %d", i)
	}
}

// newWGPU builds the wgpu backend on its own goroutine, skipping when the host has no adapter.
func newWGPU(t *testing.T) Compute {
	t.Helper()
	require.NoError(t, shader.InitRegistry())
	type result struct {
		c   Compute
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("%v", r)}
			}
		}()
		done <- result{c: NewCompute(BackendTypeWGPU, WithForceFallbackAdapter(true))}
	}()
	res := <-done
	if res.err != nil {
		t.Skipf("no wgpu adapter: %v", res.err)
	}
	t.Cleanup(res.c.Release)
	return res.c
}

func TestWGPUBackendFromAnyGoroutine(t *testing.T) {
	c := newWGPU(t)

	errs := make(chan error, 1)
	go func() {
		if err := c.BindBuffer(kernels.SlotCounter, 4, "counter"); err != nil {
			errs <- err
			return
		}
		errs <- c.StoreCell(kernels.SlotCounter, 7)
	}()
	require.NoError(t, <-errs)

	_, err := c.WaitIdle()
	require.NoError(t, err)
	v, err := c.LoadCell(kernels.SlotCounter)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), v)
}

package shader

import (
	"encoding/binary"
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/gogpu/naga"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLifecycle(t *testing.T) {
	TeardownRegistry()
	_, err := Lookup(kernels.KeyParallelPrefixScan)
	assert.ErrorIs(t, err, ErrRegistryClosed)

	require.NoError(t, InitRegistry())
	require.NoError(t, InitRegistry())
	t.Cleanup(TeardownRegistry)

	s, err := Lookup(kernels.KeyParallelPrefixScan)
	require.NoError(t, err)
	assert.Equal(t, [3]uint32{kernels.ItemsPerWorkGroup / 2, 1, 1}, s.WorkgroupSize())

	_, err = Lookup("missing")
	assert.ErrorIs(t, err, ErrUnknownKernel)
}

func TestRegisteredKernelsBindSlots(t *testing.T) {
	require.NoError(t, InitRegistry())
	t.Cleanup(TeardownRegistry)

	for _, key := range kernels.All() {
		s, err := Lookup(key)
		require.NoError(t, err, key)
		assert.Equal(t, "main", s.EntryPoint(), key)
		assert.NotContains(t, s.Source(), "@oxy:", key)

		// every kernel takes its uniform block at group 1 binding 0
		params := s.BindGroupLayoutDescriptor(1).Entries
		require.Len(t, params, 1, key)
		assert.Equal(t, "params", s.BindGroupVarName(1, 0), key)

		bound := SlotBindings(s)
		require.NotEmpty(t, bound, key)
		for binding, slot := range bound {
			assert.Equal(t, int(slot), binding, key)
		}
		assert.Len(t, s.BindGroupLayoutDescriptor(0).Entries, len(bound), key)
	}

	s, err := Lookup(kernels.KeySortByPrefixSum)
	require.NoError(t, err)
	assert.Equal(t, map[int]kernels.Slot{
		int(kernels.SlotIntermediate): kernels.SlotIntermediate,
		int(kernels.SlotGroupSums):    kernels.SlotGroupSums,
		int(kernels.SlotPrefixSums):   kernels.SlotPrefixSums,
	}, SlotBindings(s))
}

func TestValidateSlotsRejectsMisnumberedProvider(t *testing.T) {
	s, err := NewShaderFromSource("bad", `
//@oxy:provider 0 2 prefix_sums
@group(0) @binding(2) var<storage, read_write> prefix_sums: array<u32>;
@compute @workgroup_size(64)
fn main() {}
`)
	require.NoError(t, err)
	assert.Error(t, validateSlots(s))

	s, err = NewShaderFromSource("unprovided", `
@group(0) @binding(3) var<storage, read_write> prefix_sums: array<u32>;
@compute @workgroup_size(64)
fn main() {}
`)
	require.NoError(t, err)
	assert.Error(t, validateSlots(s))
}

func TestNewShaderFromSourceRequiresEntryPoint(t *testing.T) {
	_, err := NewShaderFromSource("helper", "fn helper() {}")
	assert.Error(t, err)
}

func TestKernelsCompileToSPIRV(t *testing.T) {
	require.NoError(t, InitRegistry())
	t.Cleanup(TeardownRegistry)

	for _, key := range kernels.All() {
		t.Run(string(key), func(t *testing.T) {
			s, err := Lookup(key)
			require.NoError(t, err)

			spirv, err := naga.Compile(s.Source())
			if err != nil {
				// the naga front end still lacks parts of WGSL (atomics, arrayLength, workgroup memory)
				t.Skipf("naga cannot lower %s: %v", key, err)
			}
			require.GreaterOrEqual(t, len(spirv), 4)
			assert.Equal(t, uint32(0x07230203), binary.LittleEndian.Uint32(spirv[:4]))
		})
	}
}

package kernels

import (
	"encoding/binary"
	"math"
	"math/rand"
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryKernelHasSourceAndEmulation(t *testing.T) {
	for _, key := range All() {
		src, ok := Source(key)
		assert.True(t, ok, "source for %s", key)
		assert.Contains(t, src, "@compute", "kernel %s", key)

		_, ok = EmulationFor(key)
		assert.True(t, ok, "emulation for %s", key)
	}
	_, ok := Source("missing")
	assert.False(t, ok)
}

func TestSlotIdentity(t *testing.T) {
	for s := range Slot(NumSlots) {
		got, ok := SlotByIdentity(s.Identity())
		require.True(t, ok, "slot %d", s)
		assert.Equal(t, s, got)
	}
	_, ok := SlotByIdentity("textures")
	assert.False(t, ok)
	assert.Equal(t, "Slot(9)", Slot(9).String())
	assert.Equal(t, "prefix_sums", SlotPrefixSums.String())
}

func TestGPUTypeSizes(t *testing.T) {
	assert.Equal(t, 8, (&GPUIntermediateData{}).Size())
	assert.Equal(t, 16, (&GPUSortParams{}).Size())
	assert.Equal(t, 16, (&GPUScanParams{}).Size())

	p := GPUSortParams{BitNumber: 7, ReadOffset: 10, WriteOffset: 0, ElementCount: 10}
	assert.Equal(t, p, UnmarshalSortParams(p.Marshal()))
}

func exclusiveScan(in []uint32) []uint32 {
	out := make([]uint32, len(in))
	var sum uint32
	for i, v := range in {
		out[i] = sum
		sum += v
	}
	return out
}

func TestBlellochScan(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var shared [ItemsPerWorkGroup]uint32
	in := make([]uint32, ItemsPerWorkGroup)
	var want uint32
	for i := range in {
		in[i] = uint32(rng.Intn(2))
		shared[i] = in[i]
		want += in[i]
	}

	total := blellochScan(&shared)
	assert.Equal(t, want, total)
	assert.Equal(t, exclusiveScan(in), shared[:])
}

// runDispatch executes every work group of a one-dimensional dispatch in order.
func runDispatch(t *testing.T, key Key, groups, size uint32, buffers map[Slot][]uint32, params []byte) {
	t.Helper()
	emulate, ok := EmulationFor(key)
	require.True(t, ok)
	for g := range groups {
		emulate(WorkGroup{
			ID:      [3]uint32{g, 0, 0},
			Size:    [3]uint32{size, 1, 1},
			Buffers: buffers,
			Params:  params,
		})
	}
}

func TestTwoTierScanSpansGroups(t *testing.T) {
	// more group sums than one chunk exercises the carried chunk loop
	const n = 3*ItemsPerWorkGroup*ItemsPerWorkGroup/2 + 5
	padded := (n + ItemsPerWorkGroup - 1) / ItemsPerWorkGroup * ItemsPerWorkGroup
	numGroups := uint32(padded / ItemsPerWorkGroup)

	rng := rand.New(rand.NewSource(2))
	bits := make([]uint32, padded)
	for i := range n {
		bits[i] = uint32(rng.Intn(2))
	}
	prefix := append([]uint32(nil), bits...)
	buffers := map[Slot][]uint32{
		SlotPrefixSums: prefix,
		SlotGroupSums:  make([]uint32, numGroups),
	}

	local := GPUScanParams{CalculateAll: 1, ElementCount: uint32(padded), GroupSumCount: numGroups}
	runDispatch(t, KeyParallelPrefixScan, numGroups, ItemsPerWorkGroup/2, buffers, local.Marshal())
	global := GPUScanParams{CalculateAll: 0, ElementCount: uint32(padded), GroupSumCount: numGroups}
	runDispatch(t, KeyParallelPrefixScan, 1, ItemsPerWorkGroup/2, buffers, global.Marshal())

	want := exclusiveScan(bits)
	for i := range n {
		got := prefix[i] + buffers[SlotGroupSums][i/ItemsPerWorkGroup]
		require.Equal(t, want[i], got, "prefix(%d)", i)
	}
}

func TestScatterIsStablePartition(t *testing.T) {
	keys := []uint32{5, 1, 4, 1, 3, 9, 2, 6}
	n := uint32(len(keys))
	pairs := make([]uint32, 4*n)
	for i, k := range keys {
		pairs[2*i] = k
		pairs[2*i+1] = uint32(i)
	}
	buffers := map[Slot][]uint32{
		SlotIntermediate: pairs,
		SlotPrefixSums:   make([]uint32, ItemsPerWorkGroup),
		SlotGroupSums:    make([]uint32, 1),
	}

	sp := GPUSortParams{BitNumber: 0, ReadOffset: 0, WriteOffset: n, ElementCount: n}
	runDispatch(t, KeyGetBitForPrefixScan, 1, ItemsPerWorkGroup, buffers, sp.Marshal())
	scan := GPUScanParams{CalculateAll: 1, ElementCount: ItemsPerWorkGroup, GroupSumCount: 1}
	runDispatch(t, KeyParallelPrefixScan, 1, ItemsPerWorkGroup/2, buffers, scan.Marshal())
	scan.CalculateAll = 0
	runDispatch(t, KeyParallelPrefixScan, 1, ItemsPerWorkGroup/2, buffers, scan.Marshal())
	runDispatch(t, KeySortByPrefixSum, 1, ItemsPerWorkGroup, buffers, sp.Marshal())

	var gotKeys, gotIndices []uint32
	for i := range n {
		gotKeys = append(gotKeys, pairs[2*(n+i)])
		gotIndices = append(gotIndices, pairs[2*(n+i)+1])
	}
	// even keys first in original order, then odd keys in original order
	assert.Equal(t, []uint32{4, 2, 6, 5, 1, 1, 3, 9}, gotKeys)
	assert.Equal(t, []uint32{2, 6, 7, 0, 1, 3, 4, 5}, gotIndices)
}

func particleWordsOf(particles []particle.GPUParticle) []uint32 {
	raw := particle.MarshalParticles(particles)
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return words
}

func TestParticleUpdateCountsActive(t *testing.T) {
	particles := []particle.GPUParticle{
		{Position: [4]float32{0, 0, 0, 1}, Velocity: [4]float32{1, 0, 0, 0}, IsActive: 1},
		{Position: [4]float32{0.9, 0, 0, 1}, Velocity: [4]float32{1, 0, 0, 0}, IsActive: 1},
		{Position: [4]float32{0, 0, 0, 1}, IsActive: 0},
	}
	buffers := map[Slot][]uint32{
		SlotParticles: particleWordsOf(particles),
		SlotCounter:   make([]uint32, 1),
	}
	up := particle.GPUUpdateParams{RegionRadius: 1, DeltaTime: 0.5, ParticleCount: 3}
	runDispatch(t, KeyParticleUpdate, 1, ItemsPerWorkGroup, buffers, up.Marshal())

	assert.Equal(t, uint32(1), buffers[SlotCounter][0])
	assert.Equal(t, uint32(1), buffers[SlotParticles][fieldIsActive])
	assert.Equal(t, uint32(0), buffers[SlotParticles][particleWords+fieldIsActive])
	assert.Equal(t, particle.UnusedSortKey, buffers[SlotParticles][particleWords+fieldSortKey])
}

func TestParticleResetHonorsBudget(t *testing.T) {
	particles := make([]particle.GPUParticle, 10)
	buffers := map[Slot][]uint32{
		SlotParticles: particleWordsOf(particles),
		SlotCounter:   make([]uint32, 1),
	}
	e := particle.NewPointEmitter([3]float32{1, 2, 3}, 0.5, 1)
	rp := e.ResetParams(4, 10, 99)
	runDispatch(t, KeyParticleResetPoint, 1, ItemsPerWorkGroup, buffers, rp.Marshal())

	var active int
	for i := range 10 {
		if buffers[SlotParticles][i*particleWords+fieldIsActive] == 1 {
			active++
		}
	}
	assert.Equal(t, 4, active)
	// every inactive particle draws a ticket, whether or not it respawns
	assert.Equal(t, uint32(10), buffers[SlotCounter][0])
}

func TestRandomFloatRange(t *testing.T) {
	assert.NotEqual(t, PCGHash(0), PCGHash(1))
	state := uint32(12345)
	for range 1000 {
		f := randomFloat(&state)
		require.GreaterOrEqual(t, f, float32(0))
		require.LessOrEqual(t, f, float32(1))
	}
}

func wordFloat(words []uint32, particleIndex, field int) float32 {
	return math.Float32frombits(words[particleIndex*particleWords+field])
}

func TestParticleCollideHeadOn(t *testing.T) {
	particles := []particle.GPUParticle{
		{Position: [4]float32{0, 0, 0, 1}, Velocity: [4]float32{1, 0, 0, 0}, IsActive: 1, Mass: 1, Radius: 0.5},
		{Position: [4]float32{0.8, 0, 0, 1}, Velocity: [4]float32{-1, 0, 0, 0}, IsActive: 1, Mass: 1, Radius: 0.5},
	}
	buffers := map[Slot][]uint32{SlotParticles: particleWordsOf(particles)}
	cp := particle.GPUCollideParams{IndexOffset: 0, ParticleCount: 2, DefaultRadius: 0.1}
	runDispatch(t, KeyParticleCollide, 1, ItemsPerWorkGroup, buffers, cp.Marshal())

	words := buffers[SlotParticles]
	// equal masses swap velocities and split the 0.2 overlap evenly
	assert.InDelta(t, -1, wordFloat(words, 0, fieldVelocity), 1e-5)
	assert.InDelta(t, 1, wordFloat(words, 1, fieldVelocity), 1e-5)
	assert.InDelta(t, -0.1, wordFloat(words, 0, fieldPosition), 1e-5)
	assert.InDelta(t, 0.9, wordFloat(words, 1, fieldPosition), 1e-5)
}

func TestParticleCollideOffsetPairsNeighbours(t *testing.T) {
	// default radius applies to particles without their own
	particles := []particle.GPUParticle{
		{Position: [4]float32{-5, 0, 0, 1}, Velocity: [4]float32{3, 0, 0, 0}, IsActive: 1},
		{Position: [4]float32{0, 0, 0, 1}, Velocity: [4]float32{0, 1, 0, 0}, IsActive: 1},
		{Position: [4]float32{0, 0.5, 0, 1}, Velocity: [4]float32{0, -1, 0, 0}, IsActive: 1},
	}
	buffers := map[Slot][]uint32{SlotParticles: particleWordsOf(particles)}
	before := append([]uint32(nil), buffers[SlotParticles][:particleWords]...)

	cp := particle.GPUCollideParams{IndexOffset: 1, ParticleCount: 3, DefaultRadius: 0.5}
	runDispatch(t, KeyParticleCollide, 1, ItemsPerWorkGroup, buffers, cp.Marshal())

	words := buffers[SlotParticles]
	assert.Equal(t, before, words[:particleWords])
	assert.InDelta(t, -1, wordFloat(words, 1, fieldVelocity+1), 1e-5)
	assert.InDelta(t, 1, wordFloat(words, 2, fieldVelocity+1), 1e-5)
}

func TestParticleCollideSkipsInactiveAndSeparated(t *testing.T) {
	particles := []particle.GPUParticle{
		{Position: [4]float32{0, 0, 0, 1}, Velocity: [4]float32{1, 0, 0, 0}, IsActive: 1},
		{Position: [4]float32{0.1, 0, 0, 1}, Velocity: [4]float32{-1, 0, 0, 0}, IsActive: 0},
		{Position: [4]float32{5, 0, 0, 1}, Velocity: [4]float32{1, 0, 0, 0}, IsActive: 1},
		{Position: [4]float32{9, 0, 0, 1}, Velocity: [4]float32{-1, 0, 0, 0}, IsActive: 1},
	}
	buffers := map[Slot][]uint32{SlotParticles: particleWordsOf(particles)}
	before := append([]uint32(nil), buffers[SlotParticles]...)

	cp := particle.GPUCollideParams{IndexOffset: 0, ParticleCount: 4, DefaultRadius: 0.5}
	runDispatch(t, KeyParticleCollide, 1, ItemsPerWorkGroup, buffers, cp.Marshal())

	assert.Equal(t, before, buffers[SlotParticles])
}

func TestParticleCollideHeavierParticleMovesLess(t *testing.T) {
	particles := []particle.GPUParticle{
		{Position: [4]float32{0, 0, 0, 1}, IsActive: 1, Mass: 3, Radius: 0.5},
		{Position: [4]float32{0.6, 0, 0, 1}, IsActive: 1, Mass: 1, Radius: 0.5},
	}
	buffers := map[Slot][]uint32{SlotParticles: particleWordsOf(particles)}
	cp := particle.GPUCollideParams{IndexOffset: 0, ParticleCount: 2, DefaultRadius: 0.5}
	runDispatch(t, KeyParticleCollide, 1, ItemsPerWorkGroup, buffers, cp.Marshal())

	words := buffers[SlotParticles]
	// overlap 0.4 split by inverse mass, 1/4 and 3/4
	assert.InDelta(t, -0.1, wordFloat(words, 0, fieldPosition), 1e-5)
	assert.InDelta(t, 0.9, wordFloat(words, 1, fieldPosition), 1e-5)
	// at rest, no impulse
	assert.Zero(t, wordFloat(words, 0, fieldVelocity))
	assert.Zero(t, wordFloat(words, 1, fieldVelocity))
}

package particle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGPUStructSizesMatchWGSL(t *testing.T) {
	assert.Equal(t, ParticleSize, (&GPUParticle{}).Size())
	assert.Equal(t, 32, (&GPUUpdateParams{}).Size())
	assert.Equal(t, 80, (&GPUResetParams{}).Size())
	assert.Equal(t, 32, (&GPUKeyParams{}).Size())
	assert.Equal(t, 16, (&GPUCollideParams{}).Size())

	cp := GPUCollideParams{IndexOffset: 1, ParticleCount: 7, DefaultRadius: 0.25}
	assert.Equal(t, cp, UnmarshalCollideParams(cp.Marshal()))

	assert.Len(t, (&GPUParticle{}).Marshal(), ParticleSize)
	assert.Len(t, (&GPUResetParams{}).Marshal(), 80)
}

func TestUnmarshalParticles(t *testing.T) {
	in := []GPUParticle{
		{Position: [4]float32{1, 2, 3, 1}, Velocity: [4]float32{-1, 0, 0.5, 0}, SortKey: 42, IsActive: 1, Mass: 2, Radius: 0.25},
		{SortKey: UnusedSortKey},
	}
	out, err := UnmarshalParticles(MarshalParticles(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = UnmarshalParticles(make([]byte, ParticleSize+1))
	assert.Error(t, err)
}

func TestMortonCode(t *testing.T) {
	regionMin, inv := RegionBounds([3]float32{0, 0, 0}, 1)
	assert.Equal(t, [3]float32{-1, -1, -1}, regionMin)
	assert.InDelta(t, 0.5, inv, 1e-6)

	assert.Equal(t, uint32(0), MortonCode([3]float32{-1, -1, -1}, regionMin, inv))
	assert.Equal(t, uint32(1<<30-1), MortonCode([3]float32{1, 1, 1}, regionMin, inv))

	// positions outside the cube clamp to its faces
	assert.Equal(t, MortonCode([3]float32{1, 1, 1}, regionMin, inv), MortonCode([3]float32{5, 9, 2}, regionMin, inv))

	// x occupies the most significant slot of each triple
	x := MortonCode([3]float32{1, -1, -1}, regionMin, inv)
	y := MortonCode([3]float32{-1, 1, -1}, regionMin, inv)
	z := MortonCode([3]float32{-1, -1, 1}, regionMin, inv)
	assert.Equal(t, x, y<<1)
	assert.Equal(t, y, z<<1)
	assert.Less(t, uint32(0), z)
}

func TestSpreadBits(t *testing.T) {
	assert.Equal(t, uint32(0b1001001), spreadBits(0b111))
	assert.Equal(t, uint32(0x09249249), spreadBits(0x3ff))
	assert.Equal(t, spreadBits(0x3ff), spreadBits(0xffff))
}

func TestEmitter(t *testing.T) {
	kind, err := ParseEmitterKind("bar")
	require.NoError(t, err)
	assert.Equal(t, EmitterKindBar, kind)

	_, err = ParseEmitterKind("ring")
	assert.ErrorIs(t, err, ErrUnknownEmitterKind)

	assert.NoError(t, NewPointEmitter([3]float32{0, 0, 0}, 0.1, 0.5).Validate())
	assert.Error(t, NewPointEmitter([3]float32{0, 0, 0}, 0.5, 0.1).Validate())
	assert.ErrorIs(t, Emitter{Kind: NumEmitterKinds}.Validate(), ErrUnknownEmitterKind)

	bar := NewBarEmitter([3]float32{-1, 0, 0}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0}, 0.2, 0.6)
	p := bar.ResetParams(100, 1000, 7)
	assert.Equal(t, [4]float32{-1, 0, 0, 1}, p.PointA)
	assert.Equal(t, [4]float32{1, 0, 0, 1}, p.PointB)
	assert.Equal(t, [4]float32{0, 1, 0, 0}, p.EmitDir)
	assert.InDelta(t, 0.4, p.DeltaVelocity, 1e-6)
	assert.Equal(t, uint32(100), p.MaxEmitCount)
	assert.Equal(t, p, UnmarshalResetParams(p.Marshal()))
	assert.Equal(t, "bar", bar.Kind.String())
}

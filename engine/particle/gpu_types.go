package particle

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"math"
	"unsafe"
)

// UnusedSortKey marks a particle that takes no part in the ordering. Inactive particles carry it so
// they collect at the end of the sorted buffer.
const UnusedSortKey uint32 = 0xffffffff

// GPUParticleSource is the canonical WGSL definition of the Particle struct.
// Matches GPUParticle layout exactly (48 bytes, std430 aligned).
//
//go:embed assets/particle.wgsl
var GPUParticleSource string

// GPUParticle is the GPU-aligned representation of a single particle record.
// Size: 48 bytes (std430 aligned).
type GPUParticle struct {
	Position [4]float32 // offset 0: xyz position, w = 1
	Velocity [4]float32 // offset 16: xyz velocity, w unused
	SortKey  uint32     // offset 32: Morton code, UnusedSortKey when inactive
	IsActive uint32     // offset 36: 1 when active, 0 otherwise
	Mass     float32    // offset 40
	Radius   float32    // offset 44
}

// ParticleSize is the byte size of one GPUParticle record.
const ParticleSize = 48

// Size returns the size of the GPUParticle struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUParticle) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Active reports whether the particle is flagged active.
func (g *GPUParticle) Active() bool {
	return g.IsActive != 0
}

// Marshal serializes the GPUParticle struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 48-byte buffer ready for GPU upload.
func (g *GPUParticle) Marshal() []byte {
	buf := make([]byte, ParticleSize)
	g.marshalInto(buf)
	return buf
}

func (g *GPUParticle) marshalInto(buf []byte) {
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.Position[i]))
		binary.LittleEndian.PutUint32(buf[16+i*4:], math.Float32bits(g.Velocity[i]))
	}
	binary.LittleEndian.PutUint32(buf[32:36], g.SortKey)
	binary.LittleEndian.PutUint32(buf[36:40], g.IsActive)
	binary.LittleEndian.PutUint32(buf[40:44], math.Float32bits(g.Mass))
	binary.LittleEndian.PutUint32(buf[44:48], math.Float32bits(g.Radius))
}

// Unmarshal decodes a GPUParticle from a 48-byte little-endian record.
//
// Parameters:
//   - buf: the raw record, at least ParticleSize bytes
//
// Returns:
//   - error: an error if the buffer is too short
func (g *GPUParticle) Unmarshal(buf []byte) error {
	if len(buf) < ParticleSize {
		return fmt.Errorf("particle record needs %d bytes, got %d", ParticleSize, len(buf))
	}
	for i := range 4 {
		g.Position[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		g.Velocity[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[16+i*4:]))
	}
	g.SortKey = binary.LittleEndian.Uint32(buf[32:36])
	g.IsActive = binary.LittleEndian.Uint32(buf[36:40])
	g.Mass = math.Float32frombits(binary.LittleEndian.Uint32(buf[40:44]))
	g.Radius = math.Float32frombits(binary.LittleEndian.Uint32(buf[44:48]))
	return nil
}

// MarshalParticles packs a slice of particles into one contiguous upload buffer.
//
// Parameters:
//   - particles: the particles to pack, in buffer order
//
// Returns:
//   - []byte: len(particles) * ParticleSize bytes
func MarshalParticles(particles []GPUParticle) []byte {
	buf := make([]byte, len(particles)*ParticleSize)
	for i := range particles {
		particles[i].marshalInto(buf[i*ParticleSize:])
	}
	return buf
}

// UnmarshalParticles decodes a contiguous particle buffer read back from the device.
// Trailing bytes that do not form a whole record are an error.
//
// Parameters:
//   - buf: the raw buffer contents
//
// Returns:
//   - []GPUParticle: the decoded particles
//   - error: an error if the buffer length is not a multiple of ParticleSize
func UnmarshalParticles(buf []byte) ([]GPUParticle, error) {
	if len(buf)%ParticleSize != 0 {
		return nil, fmt.Errorf("particle buffer length %d is not a multiple of %d", len(buf), ParticleSize)
	}
	out := make([]GPUParticle, len(buf)/ParticleSize)
	for i := range out {
		if err := out[i].Unmarshal(buf[i*ParticleSize:]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GPUUpdateParamsSource is the canonical WGSL definition of the UpdateParams struct.
// Matches GPUUpdateParams layout exactly (32 bytes).
//
//go:embed assets/update_params.wgsl
var GPUUpdateParamsSource string

// GPUUpdateParams is the uniform block for the particle update kernel.
// Size: 32 bytes.
type GPUUpdateParams struct {
	RegionCenter  [4]float32 // offset 0
	RegionRadius  float32    // offset 16
	DeltaTime     float32    // offset 20
	ParticleCount uint32     // offset 24
	_pad0         uint32     // offset 28
}

// Size returns the size of the GPUUpdateParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUUpdateParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUUpdateParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (g *GPUUpdateParams) Marshal() []byte {
	buf := make([]byte, 32)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.RegionCenter[i]))
	}
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.RegionRadius))
	binary.LittleEndian.PutUint32(buf[20:24], math.Float32bits(g.DeltaTime))
	binary.LittleEndian.PutUint32(buf[24:28], g.ParticleCount)
	binary.LittleEndian.PutUint32(buf[28:32], 0) // _pad0
	return buf
}

// GPUResetParamsSource is the canonical WGSL definition of the ResetParams struct.
// Matches GPUResetParams layout exactly (80 bytes).
//
//go:embed assets/reset_params.wgsl
var GPUResetParamsSource string

// GPUResetParams is the uniform block for the point and bar reset kernels. PointA is the
// point emitter center or the first bar end; PointB and EmitDir are only read by the bar kernel.
// Size: 80 bytes.
type GPUResetParams struct {
	PointA        [4]float32 // offset 0
	PointB        [4]float32 // offset 16
	EmitDir       [4]float32 // offset 32
	MinVelocity   float32    // offset 48
	DeltaVelocity float32    // offset 52
	MaxEmitCount  uint32     // offset 56
	ParticleCount uint32     // offset 60
	Seed          uint32     // offset 64
	_pad          [3]uint32  // offset 68
}

// Size returns the size of the GPUResetParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUResetParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUResetParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 80-byte buffer ready for GPU upload.
func (g *GPUResetParams) Marshal() []byte {
	buf := make([]byte, 80)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.PointA[i]))
		binary.LittleEndian.PutUint32(buf[16+i*4:], math.Float32bits(g.PointB[i]))
		binary.LittleEndian.PutUint32(buf[32+i*4:], math.Float32bits(g.EmitDir[i]))
	}
	binary.LittleEndian.PutUint32(buf[48:52], math.Float32bits(g.MinVelocity))
	binary.LittleEndian.PutUint32(buf[52:56], math.Float32bits(g.DeltaVelocity))
	binary.LittleEndian.PutUint32(buf[56:60], g.MaxEmitCount)
	binary.LittleEndian.PutUint32(buf[60:64], g.ParticleCount)
	binary.LittleEndian.PutUint32(buf[64:68], g.Seed)
	// 68..80 padding stays zero
	return buf
}

// GPUKeyParamsSource is the canonical WGSL definition of the KeyParams struct.
// Matches GPUKeyParams layout exactly (32 bytes).
//
//go:embed assets/key_params.wgsl
var GPUKeyParamsSource string

// GPUKeyParams is the uniform block for the sort key kernel. The particle region cube starts at
// RegionMin and InverseExtent maps one edge length onto [0, 1].
// Size: 32 bytes.
type GPUKeyParams struct {
	RegionMin     [4]float32 // offset 0
	InverseExtent float32    // offset 16
	ParticleCount uint32     // offset 20
	_pad          [2]uint32  // offset 24
}

// Size returns the size of the GPUKeyParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUKeyParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUKeyParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (g *GPUKeyParams) Marshal() []byte {
	buf := make([]byte, 32)
	for i := range 4 {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(g.RegionMin[i]))
	}
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(g.InverseExtent))
	binary.LittleEndian.PutUint32(buf[20:24], g.ParticleCount)
	return buf
}

// GPUCollideParamsSource is the canonical WGSL definition of the CollideParams struct.
// Matches GPUCollideParams layout exactly (16 bytes).
//
//go:embed assets/collide_params.wgsl
var GPUCollideParamsSource string

// GPUCollideParams is the uniform block for the collision kernel. Invocation i tests the pair
// (2i+IndexOffset, 2i+IndexOffset+1) of the sorted buffer. Particles with no radius of their own
// collide with DefaultRadius.
// Size: 16 bytes.
type GPUCollideParams struct {
	IndexOffset   uint32  // offset 0: 0 or 1
	ParticleCount uint32  // offset 4
	DefaultRadius float32 // offset 8
	_pad0         uint32  // offset 12
}

// Size returns the size of the GPUCollideParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUCollideParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUCollideParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload.
func (g *GPUCollideParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.IndexOffset)
	binary.LittleEndian.PutUint32(buf[4:8], g.ParticleCount)
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(g.DefaultRadius))
	binary.LittleEndian.PutUint32(buf[12:16], 0) // _pad0
	return buf
}

// UnmarshalUpdateParams decodes an UpdateParams uniform block.
func UnmarshalUpdateParams(buf []byte) GPUUpdateParams {
	var g GPUUpdateParams
	for i := range 4 {
		g.RegionCenter[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	g.RegionRadius = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
	g.DeltaTime = math.Float32frombits(binary.LittleEndian.Uint32(buf[20:24]))
	g.ParticleCount = binary.LittleEndian.Uint32(buf[24:28])
	return g
}

// UnmarshalResetParams decodes a ResetParams uniform block.
func UnmarshalResetParams(buf []byte) GPUResetParams {
	var g GPUResetParams
	for i := range 4 {
		g.PointA[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
		g.PointB[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[16+i*4:]))
		g.EmitDir[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[32+i*4:]))
	}
	g.MinVelocity = math.Float32frombits(binary.LittleEndian.Uint32(buf[48:52]))
	g.DeltaVelocity = math.Float32frombits(binary.LittleEndian.Uint32(buf[52:56]))
	g.MaxEmitCount = binary.LittleEndian.Uint32(buf[56:60])
	g.ParticleCount = binary.LittleEndian.Uint32(buf[60:64])
	g.Seed = binary.LittleEndian.Uint32(buf[64:68])
	return g
}

// UnmarshalKeyParams decodes a KeyParams uniform block.
func UnmarshalKeyParams(buf []byte) GPUKeyParams {
	var g GPUKeyParams
	for i := range 4 {
		g.RegionMin[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	g.InverseExtent = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20]))
	g.ParticleCount = binary.LittleEndian.Uint32(buf[20:24])
	return g
}

// UnmarshalCollideParams decodes a CollideParams uniform block.
func UnmarshalCollideParams(buf []byte) GPUCollideParams {
	return GPUCollideParams{
		IndexOffset:   binary.LittleEndian.Uint32(buf[0:4]),
		ParticleCount: binary.LittleEndian.Uint32(buf[4:8]),
		DefaultRadius: math.Float32frombits(binary.LittleEndian.Uint32(buf[8:12])),
	}
}

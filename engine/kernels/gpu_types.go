package kernels

import (
	_ "embed"
	"encoding/binary"
	"unsafe"
)

// SortConstantsSource declares ITEMS_PER_WORK_GROUP and UNUSED_SORT_KEY for WGSL.
//
//go:embed assets/sort_constants.wgsl
var SortConstantsSource string

// RandomSource declares the pcg_hash and random_float helpers for WGSL.
//
//go:embed assets/random.wgsl
var RandomSource string

// GPUIntermediateDataSource is the canonical WGSL definition of the IntermediateData struct.
// Matches GPUIntermediateData layout exactly (8 bytes).
//
//go:embed assets/intermediate_data.wgsl
var GPUIntermediateDataSource string

// GPUIntermediateData is one key-index pair of the double-buffered sort region.
// Size: 8 bytes.
type GPUIntermediateData struct {
	Key           uint32 // offset 0
	OriginalIndex uint32 // offset 4
}

// Size returns the size of the GPUIntermediateData struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUIntermediateData) Size() int {
	return int(unsafe.Sizeof(*g))
}

// GPUSortParamsSource is the canonical WGSL definition of the SortParams struct.
// Matches GPUSortParams layout exactly (16 bytes).
//
//go:embed assets/sort_params.wgsl
var GPUSortParamsSource string

// GPUSortParams is the uniform block shared by the seed, bit-extraction, scatter and gather
// kernels. Offsets are counted in pairs, not bytes.
// Size: 16 bytes.
type GPUSortParams struct {
	BitNumber    uint32 // offset 0
	ReadOffset   uint32 // offset 4
	WriteOffset  uint32 // offset 8
	ElementCount uint32 // offset 12
}

// Size returns the size of the GPUSortParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUSortParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUSortParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload.
func (g *GPUSortParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.BitNumber)
	binary.LittleEndian.PutUint32(buf[4:8], g.ReadOffset)
	binary.LittleEndian.PutUint32(buf[8:12], g.WriteOffset)
	binary.LittleEndian.PutUint32(buf[12:16], g.ElementCount)
	return buf
}

// UnmarshalSortParams decodes a SortParams uniform block.
func UnmarshalSortParams(buf []byte) GPUSortParams {
	return GPUSortParams{
		BitNumber:    binary.LittleEndian.Uint32(buf[0:4]),
		ReadOffset:   binary.LittleEndian.Uint32(buf[4:8]),
		WriteOffset:  binary.LittleEndian.Uint32(buf[8:12]),
		ElementCount: binary.LittleEndian.Uint32(buf[12:16]),
	}
}

// GPUScanParamsSource is the canonical WGSL definition of the ScanParams struct.
// Matches GPUScanParams layout exactly (16 bytes).
//
//go:embed assets/scan_params.wgsl
var GPUScanParamsSource string

// GPUScanParams is the uniform block of the prefix scan kernel. CalculateAll selects between
// the per-group scan of the prefix array (1) and the single-group scan of the group sums (0).
// Size: 16 bytes.
type GPUScanParams struct {
	CalculateAll  uint32 // offset 0
	ElementCount  uint32 // offset 4: prefix slots, padded to ItemsPerWorkGroup
	GroupSumCount uint32 // offset 8
	_pad0         uint32 // offset 12
}

// Size returns the size of the GPUScanParams struct in bytes.
//
// Returns:
//   - int: The size of the struct in bytes.
func (g *GPUScanParams) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUScanParams struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 16-byte buffer ready for GPU upload.
func (g *GPUScanParams) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.CalculateAll)
	binary.LittleEndian.PutUint32(buf[4:8], g.ElementCount)
	binary.LittleEndian.PutUint32(buf[8:12], g.GroupSumCount)
	binary.LittleEndian.PutUint32(buf[12:16], 0) // _pad0
	return buf
}

// UnmarshalScanParams decodes a ScanParams uniform block.
func UnmarshalScanParams(buf []byte) GPUScanParams {
	return GPUScanParams{
		CalculateAll:  binary.LittleEndian.Uint32(buf[0:4]),
		ElementCount:  binary.LittleEndian.Uint32(buf[4:8]),
		GroupSumCount: binary.LittleEndian.Uint32(buf[8:12]),
	}
}

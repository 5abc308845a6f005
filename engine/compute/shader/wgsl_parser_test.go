package shader

import (
	"testing"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const parserFixture = `
struct Pair {
    key: u32,
    original_index: u32,
}

struct Block {
    center: vec4<f32>,
    radius: f32,
    count: u32,
}

/* a /* nested */ block comment @group(9) @binding(9) var<uniform> hidden: Block; */
@group(0) @binding(1) var<storage, read_write> pairs: array<Pair>;
@group(0) @binding(5) var<storage, read_write> counter: atomic<u32>;
@group(0) @binding(3) var<storage, read> sums: array<u32>;
@group(1) @binding(0) var<uniform> params: Block;

@compute @workgroup_size(128)
fn scan_main(@builtin(global_invocation_id) gid: vec3<u32>) {
}
`

func TestParseBindGroupLayouts(t *testing.T) {
	layouts, names := parseBindGroupLayouts(parserFixture, wgpu.ShaderStageCompute)
	require.Len(t, layouts, 2)
	assert.NotContains(t, layouts, 9)

	g0 := layouts[0].Entries
	require.Len(t, g0, 3)
	assert.Equal(t, uint32(1), g0[0].Binding)
	assert.Equal(t, uint32(3), g0[1].Binding)
	assert.Equal(t, uint32(5), g0[2].Binding)

	assert.Equal(t, wgpu.BufferBindingTypeStorage, g0[0].Buffer.Type)
	assert.Equal(t, uint64(8), g0[0].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.BufferBindingTypeReadOnlyStorage, g0[1].Buffer.Type)
	assert.Equal(t, uint64(4), g0[1].Buffer.MinBindingSize)
	assert.Equal(t, uint64(4), g0[2].Buffer.MinBindingSize)
	assert.Equal(t, wgpu.ShaderStageCompute, g0[2].Visibility)

	g1 := layouts[1].Entries
	require.Len(t, g1, 1)
	assert.Equal(t, wgpu.BufferBindingTypeUniform, g1[0].Buffer.Type)
	// vec4 then two scalars rounds up to the 16 byte struct alignment
	assert.Equal(t, uint64(32), g1[0].Buffer.MinBindingSize)

	assert.Equal(t, "pairs", names[0][1])
	assert.Equal(t, "params", names[1][0])
}

func TestParseWorkgroupSizeAndEntryPoint(t *testing.T) {
	assert.Equal(t, [3]uint32{128, 1, 1}, parseWorkgroupSize(parserFixture))
	assert.Equal(t, [3]uint32{8, 4, 2}, parseWorkgroupSize("@compute @workgroup_size(8, 4, 2) fn main() {}"))
	assert.Equal(t, [3]uint32{1, 1, 1}, parseWorkgroupSize("fn helper() {}"))

	assert.Equal(t, "scan_main", parseEntryPoint(parserFixture))
	assert.Equal(t, "", parseEntryPoint("// @compute fn commented() {}"))
}

func TestResolveTypeLayout(t *testing.T) {
	known := map[string]wgslTypeLayout{"Pair": {8, 4}}
	tests := []struct {
		typeName string
		want     wgslTypeLayout
		ok       bool
	}{
		{"u32", wgslTypeLayout{4, 4}, true},
		{"vec3<f32>", wgslTypeLayout{12, 16}, true},
		{"array<Pair>", wgslTypeLayout{8, 4}, true},
		{"array<vec3<f32>, 4>", wgslTypeLayout{64, 16}, true},
		{"array<Unknown>", wgslTypeLayout{}, false},
		{"texture_2d<f32>", wgslTypeLayout{}, false},
	}
	for _, tt := range tests {
		got, ok := resolveTypeLayout(tt.typeName, known)
		assert.Equal(t, tt.ok, ok, tt.typeName)
		assert.Equal(t, tt.want, got, tt.typeName)
	}
}

func TestSplitAtTopLevelCommas(t *testing.T) {
	assert.Equal(t, []string{"a: u32", " b: array<f32, 4>", ""}, splitAtTopLevelCommas("a: u32, b: array<f32, 4>,"))
}

package shader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessExpandsAnnotations(t *testing.T) {
	src := strings.Join([]string{
		"//@oxy:include intermediate_data",
		"//@oxy:include sort_params",
		"//@oxy:provider 0 1 intermediate",
		"//@oxy:group 0 1 storage_read_write intermediate array<intermediate_data>",
		"//@oxy:group 1 0 storage_uniform params sort_params",
	}, "\n")

	pp := NewPreProcessor()
	out, err := pp.Process(src)
	require.NoError(t, err)

	assert.Contains(t, out, "struct IntermediateData")
	assert.Contains(t, out, "struct SortParams")
	assert.Contains(t, out, "@group(0) @binding(1) var<storage, read_write> intermediate: array<IntermediateData>;")
	assert.Contains(t, out, "@group(1) @binding(0) var<uniform> params: SortParams;")
	assert.NotContains(t, out, "@oxy:")

	decls := pp.Declarations()
	require.Len(t, decls, 3)
	assert.Equal(t, AnnotationTypeProvider, decls[0].Type)
	assert.Equal(t, AnnotationTypeBindingGroup, decls[1].Type)
	assert.Equal(t, AnnotationTypeBindingGroup, decls[2].Type)
}

func TestProcessIncludesOnce(t *testing.T) {
	out, err := NewPreProcessor().Process("//@oxy:include particle\n//@oxy:include particle")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "struct Particle"))
}

func TestProcessResetsDeclarations(t *testing.T) {
	pp := NewPreProcessor()
	_, err := pp.Process("//@oxy:provider 0 5 counter")
	require.NoError(t, err)
	require.Len(t, pp.Declarations(), 1)

	_, err = pp.Process("fn main() {}")
	require.NoError(t, err)
	assert.Empty(t, pp.Declarations())
}

func TestProcessReportsLine(t *testing.T) {
	_, err := NewPreProcessor().Process("fn a() {}\n//@oxy:include nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

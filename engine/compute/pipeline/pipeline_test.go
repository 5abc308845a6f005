package pipeline

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPipeline(t *testing.T) {
	require.NoError(t, shader.InitRegistry())
	t.Cleanup(shader.TeardownRegistry)

	s, err := shader.Lookup(kernels.KeySortByPrefixSum)
	require.NoError(t, err)

	p := NewPipeline(string(kernels.KeySortByPrefixSum), WithComputeShader(s))
	assert.Equal(t, "sort_by_prefix_sum", p.PipelineKey())
	assert.Same(t, s, p.Shader())
	assert.Nil(t, p.Pipeline())
	assert.Nil(t, p.BindGroupLayout(0))

	// releasing an unregistered pipeline is a no-op
	p.Release()
	assert.Nil(t, p.Pipeline())
}

package pipeline

import (
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// pipeline is the implementation of the Pipeline interface.
// It holds the compute pipeline object, the kernel it was built from, and the bind group
// layouts created from that kernel's layout descriptors.
type pipeline struct {
	// pipelineKey is the unique identifier for this pipeline, used for caching and lookups
	pipelineKey string

	// computeShader is required before the pipeline can be initialized
	computeShader shader.Shader

	// computePipeline is nil until the backend registers the pipeline
	computePipeline *wgpu.ComputePipeline

	// bindGroupLayouts holds the layout created for each declared group, keyed by group index
	bindGroupLayouts map[int]*wgpu.BindGroupLayout
}

// Pipeline defines the interface for a compute pipeline built from a single kernel. It owns the
// GPU pipeline object and the bind group layouts that bind groups for the kernel are created against.
type Pipeline interface {
	// PipelineKey returns the unique key associated with this pipeline, used for caching and lookups.
	//
	// Returns:
	//   - string: the unique key for this pipeline
	PipelineKey() string

	// Shader returns the kernel this pipeline was built from.
	//
	// Returns:
	//   - shader.Shader: the compute shader, or nil if not set
	Shader() shader.Shader

	// Pipeline returns the underlying compute pipeline object.
	//
	// Returns:
	//   - *wgpu.ComputePipeline: the pipeline, or nil before registration
	Pipeline() *wgpu.ComputePipeline

	// BindGroupLayout returns the layout created for a bind group index.
	//
	// Parameters:
	//   - group: the bind group index
	//
	// Returns:
	//   - *wgpu.BindGroupLayout: the layout, or nil if the kernel declares no such group
	BindGroupLayout(group int) *wgpu.BindGroupLayout

	// SetComputePipeline sets the compute pipeline
	//
	// Parameters:
	//   - p: the WebGPU compute pipeline to set
	SetComputePipeline(p *wgpu.ComputePipeline)

	// SetBindGroupLayout stores the layout created for a bind group index.
	//
	// Parameters:
	//   - group: the bind group index
	//   - l: the created layout
	SetBindGroupLayout(group int, l *wgpu.BindGroupLayout)

	// Release releases the compute pipeline and every bind group layout.
	Release()
}

var _ Pipeline = &pipeline{}

// NewPipeline is the entry point to create a new compute Pipeline.
//
// Parameters:
//   - pipelineKey: the unique key for this pipeline
//   - opts: a variadic list of PipelineBuilderOption functions to configure the pipeline
//
// Returns:
//   - Pipeline: a new Pipeline instance with the specified configuration
func NewPipeline(pipelineKey string, opts ...PipelineBuilderOption) Pipeline {
	p := &pipeline{
		pipelineKey:      pipelineKey,
		bindGroupLayouts: make(map[int]*wgpu.BindGroupLayout),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *pipeline) PipelineKey() string {
	return p.pipelineKey
}

func (p *pipeline) Shader() shader.Shader {
	return p.computeShader
}

func (p *pipeline) Pipeline() *wgpu.ComputePipeline {
	return p.computePipeline
}

func (p *pipeline) BindGroupLayout(group int) *wgpu.BindGroupLayout {
	return p.bindGroupLayouts[group]
}

func (p *pipeline) SetComputePipeline(cp *wgpu.ComputePipeline) {
	p.computePipeline = cp
}

func (p *pipeline) SetBindGroupLayout(group int, l *wgpu.BindGroupLayout) {
	p.bindGroupLayouts[group] = l
}

func (p *pipeline) Release() {
	if p.computePipeline != nil {
		p.computePipeline.Release()
		p.computePipeline = nil
	}
	for g, l := range p.bindGroupLayouts {
		if l != nil {
			l.Release()
		}
		delete(p.bindGroupLayouts, g)
	}
}

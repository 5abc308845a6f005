package compute

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-particles/engine/compute/bind_group_provider"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/pipeline"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/cogentcore/webgpu/wgpu"
)

// slotGroup and paramGroup are the bind group indices every kernel declares.
const (
	slotGroup  = 0
	paramGroup = 1
)

// wgpuComputeBackendImpl records dispatches into a single command encoder per frame. Slot
// buffers are owned here and shared into one group 0 provider per kernel; each uploaded
// parameter slot gets its own group 1 provider with an owned uniform buffer.
type wgpuComputeBackendImpl struct {
	mu *sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	buffers map[kernels.Slot]*wgpu.Buffer
	sizes   map[kernels.Slot]uint64

	pipelines      map[kernels.Key]pipeline.Pipeline
	slotProviders  map[kernels.Key]bind_group_provider.BindGroupProvider
	paramProviders map[paramKey]bind_group_provider.BindGroupProvider

	// cellStaging is a 4 byte map-read buffer reused by LoadCell.
	cellStaging *wgpu.Buffer

	encoder *wgpu.CommandEncoder
	pass    *wgpu.ComputePassEncoder

	epoch uint64
}

var _ ComputeBackend = &wgpuComputeBackendImpl{}

// newWGPUComputeBackend creates a headless device. Every call into the device goes through mu,
// and headless compute has no surface bound to a thread, so the backend may be used from any
// goroutine.
func newWGPUComputeBackend(forceFallbackAdapter bool) ComputeBackend {
	b := &wgpuComputeBackendImpl{
		mu:             &sync.Mutex{},
		instance:       wgpu.CreateInstance(nil),
		buffers:        make(map[kernels.Slot]*wgpu.Buffer),
		sizes:          make(map[kernels.Slot]uint64),
		pipelines:      make(map[kernels.Key]pipeline.Pipeline),
		slotProviders:  make(map[kernels.Key]bind_group_provider.BindGroupProvider),
		paramProviders: make(map[paramKey]bind_group_provider.BindGroupProvider),
	}

	a, err := b.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
	})
	if err != nil {
		panic(err)
	}
	b.adapter = a

	// Default limits give 8 storage buffers per stage, enough for the six slots.
	d, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Compute Device",
		RequiredLimits: &wgpu.RequiredLimits{
			Limits: wgpu.DefaultLimits(),
		},
	})
	if err != nil {
		panic(err)
	}
	b.device = d
	b.queue = d.GetQueue()

	b.cellStaging, err = d.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "Cell Staging Buffer",
		Size:  4,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		panic(err)
	}
	return b
}

func (b *wgpuComputeBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	computeShader := p.Shader()
	if computeShader == nil {
		return errors.New("compute shader must be set to create a compute pipeline")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label: computeShader.Key(),
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{
			Code: computeShader.Source(),
		},
	})
	if err != nil {
		return err
	}
	defer s.Release()

	descriptors := computeShader.BindGroupLayoutDescriptors()
	maxGroup := -1
	for g := range descriptors {
		if g > maxGroup {
			maxGroup = g
		}
	}
	bindGroupLayouts := make([]*wgpu.BindGroupLayout, maxGroup+1)
	for g, desc := range descriptors {
		bgl, bglErr := b.device.CreateBindGroupLayout(&desc)
		if bglErr != nil {
			return fmt.Errorf("failed to create bind group layout for group %d: %w", g, bglErr)
		}
		bindGroupLayouts[g] = bgl
		p.SetBindGroupLayout(g, bgl)
	}

	layout, err := b.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            p.PipelineKey(),
		BindGroupLayouts: bindGroupLayouts,
	})
	if err != nil {
		return err
	}
	defer layout.Release()

	created, err := b.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  p.PipelineKey() + " Compute Pipeline",
		Layout: layout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     s,
			EntryPoint: computeShader.EntryPoint(),
		},
	})
	if err != nil {
		return err
	}
	p.SetComputePipeline(created)
	b.pipelines[kernels.Key(p.PipelineKey())] = p

	return nil
}

func (b *wgpuComputeBackendImpl) UploadParams(p pipeline.Pipeline, slot int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := paramKey{kernels.Key(p.PipelineKey()), slot}
	provider, ok := b.paramProviders[key]
	if !ok {
		provider = bind_group_provider.NewBindGroupProvider(fmt.Sprintf("%s/params/%d", key.kernel, slot))
		desc := p.Shader().BindGroupLayoutDescriptor(paramGroup)
		if err := b.initBindGroup(provider, p.BindGroupLayout(paramGroup), desc, uint64(len(data))); err != nil {
			provider.Release()
			return err
		}
		b.paramProviders[key] = provider
	}
	return b.writeBuffers([]bind_group_provider.BufferWrite{{
		Provider: provider,
		Binding:  0,
		Offset:   0,
		Data:     data,
	}})
}

// initBindGroup creates every missing buffer a layout descriptor names and then the bind
// group itself. Buffers already set on the provider, owned or shared, are bound as they are.
func (b *wgpuComputeBackendImpl) initBindGroup(provider bind_group_provider.BindGroupProvider, layout *wgpu.BindGroupLayout, descriptor wgpu.BindGroupLayoutDescriptor, minSize uint64) error {
	if layout == nil || len(descriptor.Entries) == 0 {
		return fmt.Errorf("%s: kernel declares no such bind group", provider.Label())
	}

	bindGroupEntries := make([]wgpu.BindGroupEntry, len(descriptor.Entries))
	for i, entry := range descriptor.Entries {
		binding := int(entry.Binding)
		buf := provider.Buffer(binding)
		if buf == nil {
			var usage wgpu.BufferUsage
			switch entry.Buffer.Type {
			case wgpu.BufferBindingTypeUniform:
				usage = wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst
			default:
				usage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst
			}
			bufSize := max(entry.Buffer.MinBindingSize, minSize)
			var err error
			buf, err = b.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: provider.Label() + " Buffer",
				Size:  bufSize,
				Usage: usage,
			})
			if err != nil {
				return err
			}
			provider.SetBuffer(binding, buf)
		}
		bindGroupEntries[i] = wgpu.BindGroupEntry{
			Binding: entry.Binding,
			Buffer:  buf,
			Offset:  0,
			Size:    wgpu.WholeSize,
		}
	}

	bindGroup, err := b.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   provider.Label() + " Bind Group",
		Layout:  layout,
		Entries: bindGroupEntries,
	})
	if err != nil {
		return err
	}
	provider.SetBindGroup(bindGroup)
	return nil
}

// writeBuffers writes all staged buffer writes to the GPU queue.
func (b *wgpuComputeBackendImpl) writeBuffers(writes []bind_group_provider.BufferWrite) error {
	for _, w := range writes {
		buf := w.Provider.Buffer(w.Binding)
		if buf == nil {
			continue
		}
		if err := b.queue.WriteBuffer(buf, w.Offset, w.Data); err != nil {
			return fmt.Errorf("%s binding %d: %w", w.Provider.Label(), w.Binding, err)
		}
	}
	return nil
}

// slotProvider returns the kernel's group 0 provider, rebuilding its bind group if a slot
// buffer was rebound since the last dispatch.
func (b *wgpuComputeBackendImpl) slotProvider(p pipeline.Pipeline) (bind_group_provider.BindGroupProvider, error) {
	key := kernels.Key(p.PipelineKey())
	provider, ok := b.slotProviders[key]
	if ok && provider.BindGroup() != nil {
		return provider, nil
	}

	bindings := shader.SlotBindings(p.Shader())
	shared := make(map[int]*wgpu.Buffer, len(bindings))
	for binding, slot := range bindings {
		buf, bound := b.buffers[slot]
		if !bound {
			return nil, fmt.Errorf("%w: %s binds %s", ErrSlotUnbound, key, slot)
		}
		shared[binding] = buf
	}
	if !ok {
		provider = bind_group_provider.NewBindGroupProvider(string(key) + "/slots")
		b.slotProviders[key] = provider
	}
	for binding, buf := range shared {
		provider.SetSharedBuffer(binding, buf)
	}
	desc := p.Shader().BindGroupLayoutDescriptor(slotGroup)
	if err := b.initBindGroup(provider, p.BindGroupLayout(slotGroup), desc, 0); err != nil {
		return nil, err
	}
	return provider, nil
}

func (b *wgpuComputeBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return ErrFrameOpen
	}
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	b.encoder = encoder
	return nil
}

func (b *wgpuComputeBackendImpl) DispatchCompute(p pipeline.Pipeline, paramSlot int, workGroupCount [3]uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder == nil {
		return ErrFrameNotOpen
	}
	key := kernels.Key(p.PipelineKey())
	if p.Pipeline() == nil {
		return fmt.Errorf("%w: %s", ErrUnknownKernel, key)
	}
	slots, err := b.slotProvider(p)
	if err != nil {
		return err
	}
	params, ok := b.paramProviders[paramKey{key, paramSlot}]
	if !ok {
		return fmt.Errorf("%w: %s parameter slot %d never uploaded", ErrSlotUnbound, key, paramSlot)
	}

	if b.pass == nil {
		b.pass = b.encoder.BeginComputePass(nil)
	}
	b.pass.SetPipeline(p.Pipeline())
	b.pass.SetBindGroup(slotGroup, slots.BindGroup(), nil)
	b.pass.SetBindGroup(paramGroup, params.BindGroup(), nil)
	b.pass.DispatchWorkgroups(workGroupCount[0], workGroupCount[1], workGroupCount[2])
	return nil
}

// endPass closes the open compute pass. Pass boundaries order storage writes between dispatches.
func (b *wgpuComputeBackendImpl) endPass() error {
	if b.pass == nil {
		return nil
	}
	err := b.pass.End()
	b.pass.Release()
	b.pass = nil
	return err
}

func (b *wgpuComputeBackendImpl) Barrier() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder == nil {
		return ErrFrameNotOpen
	}
	return b.endPass()
}

func (b *wgpuComputeBackendImpl) EndComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder == nil {
		return nil
	}
	defer func() {
		b.encoder.Release()
		b.encoder = nil
	}()
	if err := b.endPass(); err != nil {
		return err
	}

	commandBuffer, err := b.encoder.Finish(nil)
	if err != nil {
		return err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()
	return nil
}

func (b *wgpuComputeBackendImpl) BindBuffer(slot kernels.Slot, size uint64, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return ErrFrameOpen
	}
	buf, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return err
	}
	if err := b.queue.WriteBuffer(buf, 0, make([]byte, size)); err != nil {
		buf.Release()
		return err
	}

	if old, ok := b.buffers[slot]; ok {
		old.Release()
	}
	b.buffers[slot] = buf
	b.sizes[slot] = size
	b.invalidate()
	return nil
}

// invalidate drops every group 0 bind group so the next dispatch rebinds current slot buffers.
func (b *wgpuComputeBackendImpl) invalidate() {
	for _, provider := range b.slotProviders {
		provider.SetBindGroup(nil)
	}
}

func (b *wgpuComputeBackendImpl) WriteBuffer(slot kernels.Slot, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return ErrFrameOpen
	}
	buf, ok := b.buffers[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	return b.queue.WriteBuffer(buf, offset, data)
}

func (b *wgpuComputeBackendImpl) ReadBuffer(slot kernels.Slot, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return nil, ErrFrameOpen
	}
	buf, ok := b.buffers[slot]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	staging, err := b.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: slot.String() + " Staging Buffer",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	defer staging.Release()
	return b.readback(buf, offset, size, staging)
}

// readback copies a range into a map-read staging buffer, waits for the copy, and returns a
// host copy of the bytes. Queue order places the copy after every earlier submission.
func (b *wgpuComputeBackendImpl) readback(src *wgpu.Buffer, offset, size uint64, staging *wgpu.Buffer) ([]byte, error) {
	encoder, err := b.device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	defer encoder.Release()
	if err := encoder.CopyBufferToBuffer(src, offset, staging, 0, size); err != nil {
		return nil, err
	}
	commandBuffer, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	b.queue.Submit(commandBuffer)
	commandBuffer.Release()

	done := false
	var status wgpu.BufferMapAsyncStatus
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(s wgpu.BufferMapAsyncStatus) {
		status = s
		done = true
	})
	if err != nil {
		return nil, err
	}
	for !done {
		b.device.Poll(true, nil)
	}
	b.epoch++
	if status != wgpu.BufferMapAsyncStatusSuccess {
		return nil, fmt.Errorf("map staging buffer: status %d", status)
	}

	out := make([]byte, size)
	copy(out, staging.GetMappedRange(0, uint(size)))
	if err := staging.Unmap(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *wgpuComputeBackendImpl) ReleaseBuffer(slot kernels.Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if buf, ok := b.buffers[slot]; ok {
		buf.Release()
		delete(b.buffers, slot)
		delete(b.sizes, slot)
		b.invalidate()
	}
}

func (b *wgpuComputeBackendImpl) BufferSize(slot kernels.Slot) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sizes[slot]
}

func (b *wgpuComputeBackendImpl) WaitIdle() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return b.epoch, ErrFrameOpen
	}
	b.device.Poll(true, nil)
	b.epoch++
	return b.epoch, nil
}

func (b *wgpuComputeBackendImpl) StoreCell(slot kernels.Slot, v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return ErrFrameOpen
	}
	buf, ok := b.buffers[slot]
	if !ok {
		return fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	return b.queue.WriteBuffer(buf, 0, binary.LittleEndian.AppendUint32(nil, v))
}

func (b *wgpuComputeBackendImpl) LoadCell(slot kernels.Slot) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.encoder != nil {
		return 0, ErrFrameOpen
	}
	buf, ok := b.buffers[slot]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	raw, err := b.readback(buf, 0, 4, b.cellStaging)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(raw), nil
}

func (b *wgpuComputeBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pass != nil {
		b.pass.Release()
		b.pass = nil
	}
	if b.encoder != nil {
		b.encoder.Release()
		b.encoder = nil
	}
	for key, provider := range b.paramProviders {
		provider.Release()
		delete(b.paramProviders, key)
	}
	for key, provider := range b.slotProviders {
		provider.Release()
		delete(b.slotProviders, key)
	}
	for slot, buf := range b.buffers {
		buf.Release()
		delete(b.buffers, slot)
		delete(b.sizes, slot)
	}
	clear(b.pipelines)
	if b.cellStaging != nil {
		b.cellStaging.Release()
		b.cellStaging = nil
	}
	if b.queue != nil {
		b.queue.Release()
	}
	if b.device != nil {
		b.device.Release()
	}
	if b.adapter != nil {
		b.adapter.Release()
	}
	if b.instance != nil {
		b.instance.Release()
	}
}

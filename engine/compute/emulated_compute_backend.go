package compute

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/pipeline"
	"github.com/Carmen-Shannon/oxy-particles/engine/compute/shader"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
)

// paramKey addresses one parameter slot of one kernel.
type paramKey struct {
	kernel kernels.Key
	slot   int
}

// emulatedComputeBackendImpl runs kernels through their Go emulations. Each dispatch fans its
// work groups out over a worker pool and returns once all of them finished, so every dispatch
// is already complete when the next one is recorded.
type emulatedComputeBackendImpl struct {
	mu   *sync.Mutex
	pool worker.DynamicWorkerPool

	buffers    map[kernels.Slot][]uint32
	params     map[paramKey][]byte
	emulations map[kernels.Key]kernels.Emulation

	frameOpen bool
	epoch     uint64
}

var _ ComputeBackend = &emulatedComputeBackendImpl{}

func newEmulatedComputeBackend(workers int) ComputeBackend {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	return &emulatedComputeBackendImpl{
		mu:         &sync.Mutex{},
		pool:       worker.NewDynamicWorkerPool(workers, 256, 1*time.Second),
		buffers:    make(map[kernels.Slot][]uint32),
		params:     make(map[paramKey][]byte),
		emulations: make(map[kernels.Key]kernels.Emulation),
	}
}

func (b *emulatedComputeBackendImpl) RegisterComputePipeline(p pipeline.Pipeline) error {
	if p.Shader() == nil {
		return fmt.Errorf("compute shader must be set to create a compute pipeline")
	}
	key := kernels.Key(p.PipelineKey())
	e, ok := kernels.EmulationFor(key)
	if !ok {
		return fmt.Errorf("%w: no emulation for %s", ErrUnknownKernel, key)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emulations[key] = e
	return nil
}

func (b *emulatedComputeBackendImpl) UploadParams(p pipeline.Pipeline, slot int, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.params[paramKey{kernels.Key(p.PipelineKey()), slot}] = append([]byte(nil), data...)
	return nil
}

func (b *emulatedComputeBackendImpl) BeginComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameOpen = true
	return nil
}

func (b *emulatedComputeBackendImpl) DispatchCompute(p pipeline.Pipeline, paramSlot int, workGroupCount [3]uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.frameOpen {
		return ErrFrameNotOpen
	}
	key := kernels.Key(p.PipelineKey())
	emulate, ok := b.emulations[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownKernel, key)
	}
	params, ok := b.params[paramKey{key, paramSlot}]
	if !ok {
		return fmt.Errorf("%w: %s parameter slot %d never uploaded", ErrSlotUnbound, key, paramSlot)
	}
	bound := make(map[kernels.Slot][]uint32)
	for _, slot := range shader.SlotBindings(p.Shader()) {
		buf, ok := b.buffers[slot]
		if !ok {
			return fmt.Errorf("%w: %s binds %s", ErrSlotUnbound, key, slot)
		}
		bound[slot] = buf
	}

	size := p.Shader().WorkgroupSize()
	var (
		wg       sync.WaitGroup
		failMu   sync.Mutex
		firstErr error
	)
	taskID := 0
	for z := range workGroupCount[2] {
		for y := range workGroupCount[1] {
			for x := range workGroupCount[0] {
				wg.Add(1)
				group := kernels.WorkGroup{
					ID:      [3]uint32{x, y, z},
					Size:    size,
					Buffers: bound,
					Params:  params,
				}
				b.pool.SubmitTask(worker.Task{
					ID: taskID,
					Do: func() (_ any, err error) {
						defer wg.Done()
						defer func() {
							if r := recover(); r != nil {
								err = fmt.Errorf("%s work group %v: %v", key, group.ID, r)
								failMu.Lock()
								if firstErr == nil {
									firstErr = err
								}
								failMu.Unlock()
							}
						}()
						emulate(group)
						return nil, nil
					},
				})
				taskID++
			}
		}
	}
	wg.Wait()
	return firstErr
}

func (b *emulatedComputeBackendImpl) Barrier() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.frameOpen {
		return ErrFrameNotOpen
	}
	return nil
}

func (b *emulatedComputeBackendImpl) EndComputeFrame() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameOpen = false
	return nil
}

func (b *emulatedComputeBackendImpl) BindBuffer(slot kernels.Slot, size uint64, label string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameOpen {
		return ErrFrameOpen
	}
	b.buffers[slot] = make([]uint32, size/4)
	return nil
}

func (b *emulatedComputeBackendImpl) WriteBuffer(slot kernels.Slot, offset uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameOpen {
		return ErrFrameOpen
	}
	words := b.buffers[slot][offset/4:]
	for i := range len(data) / 4 {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	return nil
}

func (b *emulatedComputeBackendImpl) ReadBuffer(slot kernels.Slot, offset, size uint64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameOpen {
		return nil, ErrFrameOpen
	}
	words := b.buffers[slot][offset/4 : (offset+size)/4]
	out := make([]byte, size)
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out, nil
}

func (b *emulatedComputeBackendImpl) ReleaseBuffer(slot kernels.Slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buffers, slot)
}

func (b *emulatedComputeBackendImpl) BufferSize(slot kernels.Slot) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return uint64(len(b.buffers[slot])) * 4
}

func (b *emulatedComputeBackendImpl) WaitIdle() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameOpen {
		return b.epoch, ErrFrameOpen
	}
	b.epoch++
	return b.epoch, nil
}

func (b *emulatedComputeBackendImpl) StoreCell(slot kernels.Slot, v uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameOpen {
		return ErrFrameOpen
	}
	buf := b.buffers[slot]
	if len(buf) == 0 {
		return fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	buf[0] = v
	return nil
}

func (b *emulatedComputeBackendImpl) LoadCell(slot kernels.Slot) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frameOpen {
		return 0, ErrFrameOpen
	}
	buf := b.buffers[slot]
	if len(buf) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrSlotUnbound, slot)
	}
	return buf[0], nil
}

func (b *emulatedComputeBackendImpl) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pool.Stop()
	clear(b.buffers)
	clear(b.params)
	clear(b.emulations)
}

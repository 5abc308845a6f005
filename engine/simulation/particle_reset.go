package simulation

import (
	"errors"
	"fmt"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/engine/atomic_counter"
	"github.com/Carmen-Shannon/oxy-particles/engine/buffer_set"
	"github.com/Carmen-Shannon/oxy-particles/engine/kernels"
	"github.com/Carmen-Shannon/oxy-particles/engine/parallel_sort"
	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
)

// ErrTooManyEmitters is returned by AddEmitter once a kind holds particle.MaxEmittersPerKind emitters.
var ErrTooManyEmitters = errors.New("too many emitters")

// resetKernels maps each emitter kind to the kernel that respawns its particles.
var resetKernels = [particle.NumEmitterKinds]kernels.Key{
	particle.EmitterKindPoint: kernels.KeyParticleResetPoint,
	particle.EmitterKindBar:   kernels.KeyParticleResetBar,
}

// ParticleReset respawns inactive particles at its emitters.
type ParticleReset interface {
	// AddEmitter registers an emitter.
	//
	// Parameters:
	//   - e: the emitter
	//
	// Returns:
	//   - error: ErrTooManyEmitters, or a validation error for the emitter
	AddEmitter(e particle.Emitter) error

	// Emitters returns every registered emitter, grouped by kind.
	Emitters() []particle.Emitter

	// ResetParticles lets each emitter respawn up to perEmitter inactive particles. Emitters run
	// one after another, each on a freshly reset counter.
	//
	// Parameters:
	//   - perEmitter: the respawn budget of one emitter
	//   - frame: the frame number, mixed into the random seed
	//
	// Returns:
	//   - uint32: how many particles were respawned in total
	//   - error: a dispatch failure
	ResetParticles(perEmitter uint32, frame uint64) (uint32, error)
}

type particleReset struct {
	device  parallel_sort.Device
	set     buffer_set.BufferSet
	counter atomic_counter.AtomicCounter

	emitters [particle.NumEmitterKinds][]particle.Emitter
	groups   [particle.NumEmitterKinds]uint32
}

var _ ParticleReset = &particleReset{}

// NewParticleReset creates the reset controller.
//
// Parameters:
//   - device: the compute device with both reset kernels registered
//   - set: the particle buffers
//   - counter: the shared atomic counter
//
// Returns:
//   - ParticleReset: the controller
//   - error: an error if a reset kernel is not registered
func NewParticleReset(device parallel_sort.Device, set buffer_set.BufferSet, counter atomic_counter.AtomicCounter) (ParticleReset, error) {
	r := &particleReset{device: device, set: set, counter: counter}
	for kind, key := range resetKernels {
		size, err := device.WorkgroupSize(key)
		if err != nil {
			return nil, err
		}
		r.groups[kind] = common.DivCeil(set.Capacity(), size[0])
	}
	return r, nil
}

func (r *particleReset) AddEmitter(e particle.Emitter) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if len(r.emitters[e.Kind]) >= particle.MaxEmittersPerKind {
		return fmt.Errorf("%w: already %d %s emitters", ErrTooManyEmitters, particle.MaxEmittersPerKind, e.Kind)
	}
	r.emitters[e.Kind] = append(r.emitters[e.Kind], e)
	return nil
}

func (r *particleReset) Emitters() []particle.Emitter {
	var out []particle.Emitter
	for _, list := range r.emitters {
		out = append(out, list...)
	}
	return out
}

func (r *particleReset) ResetParticles(perEmitter uint32, frame uint64) (uint32, error) {
	n := r.set.Capacity()
	if n == 0 || perEmitter == 0 {
		return 0, nil
	}

	var spawned uint32
	frameSeed := kernels.PCGHash(uint32(frame) ^ kernels.PCGHash(uint32(frame>>32)))
	for kind, list := range r.emitters {
		key := resetKernels[kind]
		for i, e := range list {
			r.counter.Reset()
			seed := kernels.PCGHash(frameSeed ^ uint32(kind*particle.MaxEmittersPerKind+i))
			params := e.ResetParams(perEmitter, n, seed)
			// one parameter slot per emitter, so no slot is written twice before its frame runs
			if err := r.device.UploadParams(key, i, params.Marshal()); err != nil {
				return spawned, fmt.Errorf("particle reset %s emitter %d: %w", e.Kind, i, err)
			}
			if err := dispatchOnce(r.device, key, r.groups[kind], i); err != nil {
				return spawned, fmt.Errorf("particle reset %s emitter %d: %w", e.Kind, i, err)
			}
			// every inactive particle draws one ticket, the first perEmitter of them respawn
			spawned += min(r.counter.Read(), perEmitter)
		}
	}
	return spawned, nil
}

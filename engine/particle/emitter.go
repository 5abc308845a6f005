package particle

import (
	"errors"
	"fmt"
)

// ErrUnknownEmitterKind is returned for an Emitter whose Kind is not one of the declared kinds.
var ErrUnknownEmitterKind = errors.New("unknown emitter kind")

// MaxEmittersPerKind is how many emitters of one kind a reset controller accepts.
const MaxEmittersPerKind = 4

// EmitterKind tags which variant an Emitter holds. Each kind has a dedicated reset kernel.
type EmitterKind int

const (
	// EmitterKindPoint spawns particles at a single point with a random direction.
	EmitterKindPoint EmitterKind = iota

	// EmitterKindBar spawns particles along a segment, moving along a fixed emit direction.
	EmitterKindBar

	// NumEmitterKinds is the number of emitter variants.
	NumEmitterKinds
)

func (k EmitterKind) String() string {
	switch k {
	case EmitterKindPoint:
		return "point"
	case EmitterKindBar:
		return "bar"
	default:
		return fmt.Sprintf("EmitterKind(%d)", int(k))
	}
}

// ParseEmitterKind maps a configuration name onto an EmitterKind.
//
// Parameters:
//   - name: "point" or "bar"
//
// Returns:
//   - EmitterKind: the parsed kind
//   - error: ErrUnknownEmitterKind for any other name
func ParseEmitterKind(name string) (EmitterKind, error) {
	switch name {
	case "point":
		return EmitterKindPoint, nil
	case "bar":
		return EmitterKindBar, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownEmitterKind, name)
	}
}

// Emitter describes where and how fast respawned particles start. It is a tagged variant: Kind
// selects which of the position fields are meaningful.
type Emitter struct {
	Kind EmitterKind

	// Center is the spawn point of a point emitter.
	Center [3]float32

	// P1 and P2 are the ends of a bar emitter.
	P1, P2 [3]float32

	// EmitDirection is the travel direction of particles spawned by a bar emitter.
	EmitDirection [3]float32

	MinVelocity float32
	MaxVelocity float32
}

// NewPointEmitter creates a point emitter.
//
// Parameters:
//   - center: the spawn point
//   - minVelocity: the slowest spawn speed
//   - maxVelocity: the fastest spawn speed
//
// Returns:
//   - Emitter: the point emitter
func NewPointEmitter(center [3]float32, minVelocity, maxVelocity float32) Emitter {
	return Emitter{
		Kind:        EmitterKindPoint,
		Center:      center,
		MinVelocity: minVelocity,
		MaxVelocity: maxVelocity,
	}
}

// NewBarEmitter creates a bar emitter.
//
// Parameters:
//   - p1: the first end of the bar
//   - p2: the second end of the bar
//   - emitDirection: the direction spawned particles travel in
//   - minVelocity: the slowest spawn speed
//   - maxVelocity: the fastest spawn speed
//
// Returns:
//   - Emitter: the bar emitter
func NewBarEmitter(p1, p2, emitDirection [3]float32, minVelocity, maxVelocity float32) Emitter {
	return Emitter{
		Kind:          EmitterKindBar,
		P1:            p1,
		P2:            p2,
		EmitDirection: emitDirection,
		MinVelocity:   minVelocity,
		MaxVelocity:   maxVelocity,
	}
}

// Validate checks the kind and the velocity range.
//
// Returns:
//   - error: ErrUnknownEmitterKind for an unknown kind, or an error for an inverted velocity range
func (e Emitter) Validate() error {
	if e.Kind < 0 || e.Kind >= NumEmitterKinds {
		return fmt.Errorf("%w: %d", ErrUnknownEmitterKind, int(e.Kind))
	}
	if e.MaxVelocity < e.MinVelocity {
		return fmt.Errorf("%s emitter: max velocity %g is below min velocity %g", e.Kind, e.MaxVelocity, e.MinVelocity)
	}
	return nil
}

// ResetParams builds the uniform block the reset kernel for this emitter's kind consumes.
//
// Parameters:
//   - maxEmitCount: how many inactive particles this emitter may respawn in one dispatch
//   - particleCount: the particle buffer capacity
//   - seed: the random seed for this dispatch
//
// Returns:
//   - GPUResetParams: the populated parameters
func (e Emitter) ResetParams(maxEmitCount, particleCount, seed uint32) GPUResetParams {
	p := GPUResetParams{
		MinVelocity:   e.MinVelocity,
		DeltaVelocity: e.MaxVelocity - e.MinVelocity,
		MaxEmitCount:  maxEmitCount,
		ParticleCount: particleCount,
		Seed:          seed,
	}
	switch e.Kind {
	case EmitterKindPoint:
		p.PointA = [4]float32{e.Center[0], e.Center[1], e.Center[2], 1}
	case EmitterKindBar:
		p.PointA = [4]float32{e.P1[0], e.P1[1], e.P1[2], 1}
		p.PointB = [4]float32{e.P2[0], e.P2[1], e.P2[2], 1}
		p.EmitDir = [4]float32{e.EmitDirection[0], e.EmitDirection[1], e.EmitDirection[2], 0}
	}
	return p
}

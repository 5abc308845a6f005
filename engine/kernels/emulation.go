package kernels

import (
	"math"
	"sync/atomic"

	"github.com/Carmen-Shannon/oxy-particles/engine/particle"
)

// particleWords is the number of 32-bit words in one particle record.
const particleWords = particle.ParticleSize / 4

// word offsets of the particle record fields
const (
	fieldPosition = 0
	fieldVelocity = 4
	fieldSortKey  = 8
	fieldIsActive = 9
	fieldMass     = 10
	fieldRadius   = 11
)

// WorkGroup is one work group of an emulated dispatch. Buffers are the device buffers viewed as
// little-endian words, shared by every work group of the dispatch; Params is the uniform block
// bound at group 1.
type WorkGroup struct {
	ID      [3]uint32
	Size    [3]uint32
	Buffers map[Slot][]uint32
	Params  []byte
}

// Emulation executes every invocation of one work group of a kernel. Work groups of the same
// dispatch may run concurrently, so an emulation only writes the elements its own invocations
// own, or goes through sync/atomic for shared counters.
type Emulation func(wg WorkGroup)

var emulations = map[Key]Emulation{
	KeyCopyToIntermediate:  emulateCopyToIntermediate,
	KeyGetBitForPrefixScan: emulateGetBitForPrefixScan,
	KeyParallelPrefixScan:  emulateParallelPrefixScan,
	KeySortByPrefixSum:     emulateSortByPrefixSum,
	KeyCopyFromSorted:      emulateCopyFromSorted,
	KeyCalculateSortKeys:   emulateCalculateSortKeys,
	KeyParticleUpdate:      emulateParticleUpdate,
	KeyParticleResetPoint:  emulateParticleResetPoint,
	KeyParticleResetBar:    emulateParticleResetBar,
	KeyParticleCollide:     emulateParticleCollide,
}

// EmulationFor returns the Go emulation of a kernel.
//
// Parameters:
//   - key: the kernel key
//
// Returns:
//   - Emulation: the emulation
//   - bool: false if the key is not a known kernel
func EmulationFor(key Key) (Emulation, bool) {
	e, ok := emulations[key]
	return e, ok
}

// globalIDs returns the global x invocation ids covered by the work group.
func (wg WorkGroup) globalIDs() (first, end uint32) {
	first = wg.ID[0] * wg.Size[0]
	return first, first + wg.Size[0]
}

func emulateCopyToIntermediate(wg WorkGroup) {
	p := UnmarshalSortParams(wg.Params)
	particles := wg.Buffers[SlotParticles]
	pairs := wg.Buffers[SlotIntermediate]
	scratch := wg.Buffers[SlotScratch]

	first, end := wg.globalIDs()
	for i := first; i < end && i < p.ElementCount; i++ {
		src := particles[i*particleWords : (i+1)*particleWords]
		pairs[2*(p.WriteOffset+i)] = src[fieldSortKey]
		pairs[2*(p.WriteOffset+i)+1] = i
		copy(scratch[i*particleWords:(i+1)*particleWords], src)
	}
}

func emulateGetBitForPrefixScan(wg WorkGroup) {
	p := UnmarshalSortParams(wg.Params)
	pairs := wg.Buffers[SlotIntermediate]
	prefix := wg.Buffers[SlotPrefixSums]

	first, end := wg.globalIDs()
	for i := first; i < end && int(i) < len(prefix); i++ {
		if i < p.ElementCount {
			prefix[i] = (pairs[2*(p.ReadOffset+i)] >> p.BitNumber) & 1
		} else {
			prefix[i] = 0
		}
	}
}

func emulateParallelPrefixScan(wg WorkGroup) {
	p := UnmarshalScanParams(wg.Params)
	prefix := wg.Buffers[SlotPrefixSums]
	groupSums := wg.Buffers[SlotGroupSums]

	load := func(index uint32) uint32 {
		if p.CalculateAll == 1 {
			if index < p.ElementCount && int(index) < len(prefix) {
				return prefix[index]
			}
			return 0
		}
		if index < p.GroupSumCount && int(index) < len(groupSums) {
			return groupSums[index]
		}
		return 0
	}
	store := func(index, value uint32) {
		if p.CalculateAll == 1 {
			if index < p.ElementCount && int(index) < len(prefix) {
				prefix[index] = value
			}
			return
		}
		if index < p.GroupSumCount && int(index) < len(groupSums) {
			groupSums[index] = value
		}
	}

	var shared [ItemsPerWorkGroup]uint32
	scanChunk := func(base, carry uint32) uint32 {
		for j := range uint32(ItemsPerWorkGroup) {
			shared[j] = load(base + j)
		}
		total := blellochScan(&shared)
		for j := range uint32(ItemsPerWorkGroup) {
			store(base+j, shared[j]+carry)
		}
		return total
	}

	if p.CalculateAll == 1 {
		total := scanChunk(wg.ID[0]*ItemsPerWorkGroup, 0)
		if int(wg.ID[0]) < len(groupSums) {
			groupSums[wg.ID[0]] = total
		}
		return
	}

	var carry uint32
	chunks := (p.GroupSumCount + ItemsPerWorkGroup - 1) / ItemsPerWorkGroup
	for c := range chunks {
		carry += scanChunk(c*ItemsPerWorkGroup, carry)
	}
}

// blellochScan replaces shared with its exclusive prefix sum using the up-sweep / down-sweep
// tree the scan kernel runs in workgroup memory, and returns the sum of all items. Each inner
// loop is one barrier-separated level; its iterations touch disjoint slots.
func blellochScan(shared *[ItemsPerWorkGroup]uint32) uint32 {
	offset := uint32(1)
	for d := uint32(ItemsPerWorkGroup >> 1); d > 0; d >>= 1 {
		for local := range d {
			ai := offset*(2*local+1) - 1
			bi := offset*(2*local+2) - 1
			shared[bi] += shared[ai]
		}
		offset <<= 1
	}

	total := shared[ItemsPerWorkGroup-1]
	shared[ItemsPerWorkGroup-1] = 0

	for d := uint32(1); d < ItemsPerWorkGroup; d <<= 1 {
		offset >>= 1
		for local := range d {
			ai := offset*(2*local+1) - 1
			bi := offset*(2*local+2) - 1
			t := shared[ai]
			shared[ai] = shared[bi]
			shared[bi] += t
		}
	}
	return total
}

func emulateSortByPrefixSum(wg WorkGroup) {
	p := UnmarshalSortParams(wg.Params)
	n := p.ElementCount
	if n == 0 {
		return
	}
	pairs := wg.Buffers[SlotIntermediate]
	prefix := wg.Buffers[SlotPrefixSums]
	groupSums := wg.Buffers[SlotGroupSums]

	globalPrefix := func(i uint32) uint32 {
		return prefix[i] + groupSums[i/ItemsPerWorkGroup]
	}
	last := n - 1
	lastBit := (pairs[2*(p.ReadOffset+last)] >> p.BitNumber) & 1
	totalZeros := n - (globalPrefix(last) + lastBit)

	first, end := wg.globalIDs()
	for i := first; i < end && i < n; i++ {
		key := pairs[2*(p.ReadOffset+i)]
		index := pairs[2*(p.ReadOffset+i)+1]
		pre := globalPrefix(i)
		dest := i - pre
		if (key>>p.BitNumber)&1 == 1 {
			dest = totalZeros + pre
		}
		pairs[2*(p.WriteOffset+dest)] = key
		pairs[2*(p.WriteOffset+dest)+1] = index
	}
}

func emulateCopyFromSorted(wg WorkGroup) {
	p := UnmarshalSortParams(wg.Params)
	particles := wg.Buffers[SlotParticles]
	pairs := wg.Buffers[SlotIntermediate]
	scratch := wg.Buffers[SlotScratch]

	first, end := wg.globalIDs()
	for i := first; i < end && i < p.ElementCount; i++ {
		src := pairs[2*(p.ReadOffset+i)+1]
		copy(particles[i*particleWords:(i+1)*particleWords], scratch[src*particleWords:(src+1)*particleWords])
	}
}

func emulateCalculateSortKeys(wg WorkGroup) {
	p := particle.UnmarshalKeyParams(wg.Params)
	particles := wg.Buffers[SlotParticles]
	regionMin := [3]float32{p.RegionMin[0], p.RegionMin[1], p.RegionMin[2]}

	first, end := wg.globalIDs()
	for i := first; i < end && i < p.ParticleCount; i++ {
		rec := particles[i*particleWords : (i+1)*particleWords]
		if rec[fieldIsActive] == 0 {
			rec[fieldSortKey] = particle.UnusedSortKey
			continue
		}
		rec[fieldSortKey] = particle.MortonCode(readVec3(rec[fieldPosition:]), regionMin, p.InverseExtent)
	}
}

func emulateParticleUpdate(wg WorkGroup) {
	p := particle.UnmarshalUpdateParams(wg.Params)
	particles := wg.Buffers[SlotParticles]
	counter := wg.Buffers[SlotCounter]

	first, end := wg.globalIDs()
	for i := first; i < end && i < p.ParticleCount; i++ {
		rec := particles[i*particleWords : (i+1)*particleWords]
		if rec[fieldIsActive] == 0 {
			continue
		}
		pos := readVec3(rec[fieldPosition:])
		vel := readVec3(rec[fieldVelocity:])
		var distSq float32
		for axis := range 3 {
			pos[axis] += vel[axis] * p.DeltaTime
			d := pos[axis] - p.RegionCenter[axis]
			distSq += d * d
		}
		writeVec4(rec[fieldPosition:], pos, 1)
		if distSq > p.RegionRadius*p.RegionRadius {
			rec[fieldIsActive] = 0
			rec[fieldSortKey] = particle.UnusedSortKey
			continue
		}
		atomic.AddUint32(&counter[0], 1)
	}
}

// claimResetTicket reports whether inactive particle i may respawn under the emitter budget.
func claimResetTicket(counter []uint32, maxEmitCount uint32) bool {
	return atomic.AddUint32(&counter[0], 1)-1 < maxEmitCount
}

func emulateParticleResetPoint(wg WorkGroup) {
	p := particle.UnmarshalResetParams(wg.Params)
	particles := wg.Buffers[SlotParticles]
	counter := wg.Buffers[SlotCounter]

	first, end := wg.globalIDs()
	for i := first; i < end && i < p.ParticleCount; i++ {
		rec := particles[i*particleWords : (i+1)*particleWords]
		if rec[fieldIsActive] != 0 || !claimResetTicket(counter, p.MaxEmitCount) {
			continue
		}
		state := p.Seed ^ PCGHash(i)
		z := 2*randomFloat(&state) - 1
		phi := 2 * math.Pi * float64(randomFloat(&state))
		ring := float32(math.Sqrt(float64(max(0, 1-z*z))))
		speed := p.MinVelocity + p.DeltaVelocity*randomFloat(&state)
		dir := [3]float32{ring * float32(math.Cos(phi)), ring * float32(math.Sin(phi)), z}

		respawn(rec, [3]float32{p.PointA[0], p.PointA[1], p.PointA[2]}, dir, speed)
	}
}

func emulateParticleResetBar(wg WorkGroup) {
	p := particle.UnmarshalResetParams(wg.Params)
	particles := wg.Buffers[SlotParticles]
	counter := wg.Buffers[SlotCounter]
	dir := normalize([3]float32{p.EmitDir[0], p.EmitDir[1], p.EmitDir[2]})

	first, end := wg.globalIDs()
	for i := first; i < end && i < p.ParticleCount; i++ {
		rec := particles[i*particleWords : (i+1)*particleWords]
		if rec[fieldIsActive] != 0 || !claimResetTicket(counter, p.MaxEmitCount) {
			continue
		}
		state := p.Seed ^ PCGHash(i)
		t := randomFloat(&state)
		speed := p.MinVelocity + p.DeltaVelocity*randomFloat(&state)
		var pos [3]float32
		for axis := range 3 {
			pos[axis] = p.PointA[axis] + (p.PointB[axis]-p.PointA[axis])*t
		}

		respawn(rec, pos, dir, speed)
	}
}

func emulateParticleCollide(wg WorkGroup) {
	p := particle.UnmarshalCollideParams(wg.Params)
	particles := wg.Buffers[SlotParticles]

	first, end := wg.globalIDs()
	for i := first; i < end; i++ {
		a := 2*i + p.IndexOffset
		b := a + 1
		if b >= p.ParticleCount {
			break
		}
		recA := particles[a*particleWords : (a+1)*particleWords]
		recB := particles[b*particleWords : (b+1)*particleWords]
		if recA[fieldIsActive] == 0 || recB[fieldIsActive] == 0 {
			continue
		}
		collidePair(recA, recB, p.DefaultRadius)
	}
}

// collidePair separates two overlapping spheres along their centre line and, when they are
// closing, exchanges momentum with an elastic impulse.
func collidePair(recA, recB []uint32, defaultRadius float32) {
	posA, posB := readVec3(recA[fieldPosition:]), readVec3(recB[fieldPosition:])
	var delta [3]float32
	var distSq float32
	for axis := range 3 {
		delta[axis] = posB[axis] - posA[axis]
		distSq += delta[axis] * delta[axis]
	}
	minDist := radiusOf(recA, defaultRadius) + radiusOf(recB, defaultRadius)
	if distSq >= minDist*minDist || distSq == 0 {
		return
	}

	dist := float32(math.Sqrt(float64(distSq)))
	invA, invB := inverseMassOf(recA), inverseMassOf(recB)
	invSum := invA + invB
	overlap := minDist - dist
	velA, velB := readVec3(recA[fieldVelocity:]), readVec3(recB[fieldVelocity:])

	var n [3]float32
	var closing float32
	for axis := range 3 {
		n[axis] = delta[axis] / dist
		posA[axis] -= n[axis] * (overlap * invA / invSum)
		posB[axis] += n[axis] * (overlap * invB / invSum)
		closing += (velB[axis] - velA[axis]) * n[axis]
	}
	if closing < 0 {
		j := -2 * closing / invSum
		for axis := range 3 {
			velA[axis] -= n[axis] * (j * invA)
			velB[axis] += n[axis] * (j * invB)
		}
	}

	writeVec4(recA[fieldPosition:], posA, 1)
	writeVec4(recB[fieldPosition:], posB, 1)
	writeVec4(recA[fieldVelocity:], velA, 0)
	writeVec4(recB[fieldVelocity:], velB, 0)
}

func radiusOf(rec []uint32, defaultRadius float32) float32 {
	if r := math.Float32frombits(rec[fieldRadius]); r > 0 {
		return r
	}
	return defaultRadius
}

func inverseMassOf(rec []uint32) float32 {
	if m := math.Float32frombits(rec[fieldMass]); m > 0 {
		return 1 / m
	}
	return 1
}

func respawn(rec []uint32, pos, dir [3]float32, speed float32) {
	writeVec4(rec[fieldPosition:], pos, 1)
	writeVec4(rec[fieldVelocity:], [3]float32{dir[0] * speed, dir[1] * speed, dir[2] * speed}, 0)
	rec[fieldSortKey] = 0
	rec[fieldIsActive] = 1
}

func readVec3(words []uint32) [3]float32 {
	return [3]float32{
		math.Float32frombits(words[0]),
		math.Float32frombits(words[1]),
		math.Float32frombits(words[2]),
	}
}

func writeVec4(words []uint32, v [3]float32, w float32) {
	words[0] = math.Float32bits(v[0])
	words[1] = math.Float32bits(v[1])
	words[2] = math.Float32bits(v[2])
	words[3] = math.Float32bits(w)
}

func normalize(v [3]float32) [3]float32 {
	l := float32(math.Sqrt(float64(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])))
	if l == 0 {
		return v
	}
	return [3]float32{v[0] / l, v[1] / l, v[2] / l}
}

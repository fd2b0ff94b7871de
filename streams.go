package mixedboot

import (
	"math/bits"
	"math/rand"
	"sync"
)

// --- Random-number stream management below ---
//
// Each replicate needs randomness for its simulated response. Two strategies:
// sources that can jump ahead deterministically get one private stream per
// replicate, precomputed up front; anything else falls back to a single
// shared stream behind a mutex. Either way, rerunning with the same base
// source and replicate count reproduces the same per-replicate draws
// (for the shared stream, under sequential execution).

// JumpSource is a draw source that supports deterministic jump-ahead.
// Jump(delta) advances the source as if delta spacing units of output had
// been consumed; Clone returns an independent source at the same state.
type JumpSource interface {
	rand.Source64
	Clone() JumpSource
	Jump(delta uint64)
}

// lockedSource guards one shared stream. The lock is held only across the
// draw phase of a replicate (the simulate call), never across the refit.
type lockedSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// drawSpacing computes the jump distance between consecutive replicate
// streams: half the per-replicate draw bound, rounded up. One replicate
// draws at most one value per random effect plus one per observation; the
// exact count is not known in advance (rejection sampling consumes a
// variable number of raw draws), which is why Jump units are coarse blocks
// rather than single draws.
func drawSpacing(m MixedModel) uint64 {
	total := m.NumObs()
	for _, c := range m.RandomDrawCounts() {
		total += c
	}
	return uint64((total + 1) / 2)
}

// jumpedStreams precomputes n independent streams: stream i is the base
// source cloned and jumped forward by i*spacing units. Stream 0 coincides
// with the base source's current state.
func jumpedStreams(base JumpSource, n int, spacing uint64) []*rand.Rand {
	streams := make([]*rand.Rand, n)
	for i := range streams {
		s := base.Clone()
		s.Jump(uint64(i) * spacing)
		streams[i] = rand.New(s)
	}
	return streams
}

// --- PCG source ---
//
// A permuted-congruential generator (PCG-XSH-RR, 64-bit state, 32-bit
// output) wrapped as a rand.Source64. Its linear-congruential state update
// admits O(log n) skip-ahead, which is what makes the jumped-stream pool
// possible. One Jump unit advances the state by 2^32 steps, so any
// realistic per-replicate draw count fits inside a single unit with room
// to spare.

const pcgMult = 6364136223846793005

// PCG is a jump-ahead capable draw source. The zero value is not useful;
// construct with NewPCG.
type PCG struct {
	state uint64
	inc   uint64
}

// NewPCG returns a PCG initialized from a seed and a stream-selector
// constant. Distinct seq values yield unrelated sequences for the same seed.
func NewPCG(seed, seq uint64) *PCG {
	p := &PCG{inc: seq<<1 | 1}
	p.state = p.state*pcgMult + p.inc
	p.state += seed
	p.state = p.state*pcgMult + p.inc
	return p
}

// next32 advances the state one step and returns the permuted output.
func (p *PCG) next32() uint32 {
	old := p.state
	p.state = old*pcgMult + p.inc
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := int(old >> 59)
	return bits.RotateLeft32(xorshifted, -rot)
}

// Uint64 returns a uniformly distributed 64-bit value (two state steps).
func (p *PCG) Uint64() uint64 {
	hi := uint64(p.next32())
	lo := uint64(p.next32())
	return hi<<32 | lo
}

// Int63 implements rand.Source.
func (p *PCG) Int63() int64 {
	return int64(p.Uint64() >> 1)
}

// Seed implements rand.Source by reinitializing the state; the stream
// selector is preserved.
func (p *PCG) Seed(seed int64) {
	np := NewPCG(uint64(seed), p.inc>>1)
	p.state = np.state
}

// Clone returns an independent copy at the same state.
func (p *PCG) Clone() JumpSource {
	cp := *p
	return &cp
}

// Jump advances the generator by delta blocks of 2^32 states. The skip
// distance only matters modulo the generator period 2^64, so the shift may
// wrap without affecting correctness.
func (p *PCG) Jump(delta uint64) {
	p.advance(delta << 32)
}

// advance skips the state forward by delta steps in O(log delta), using the
// standard square-and-multiply recurrence for congruential generators.
func (p *PCG) advance(delta uint64) {
	accMult := uint64(1)
	accPlus := uint64(0)
	curMult := uint64(pcgMult)
	curPlus := p.inc
	for delta > 0 {
		if delta&1 != 0 {
			accMult *= curMult
			accPlus = accPlus*curMult + curPlus
		}
		curPlus = (curMult + 1) * curPlus
		curMult *= curMult
		delta >>= 1
	}
	p.state = accMult*p.state + accPlus
}

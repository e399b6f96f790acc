package objpool

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// cacheLinePad mirrors the teacher's hand-rolled CacheLineSize constant
// (internal/cache/cache_engine_v3.go: "CacheLineSize = 64"), generalized to
// the portable padding type the rest of the ecosystem reaches for instead of
// hardcoding an architecture's line size.
type cacheLinePad = cpu.CacheLinePad

const cacheLineBytes = uintptr(unsafe.Sizeof(cpu.CacheLinePad{}))

// refAndAgeBytes is the per-entry footprint counted against one cache line:
// one epoch tag (uint32) plus one pointer-sized reference slot.
const refAndAgeBytes = 4 + unsafe.Sizeof(uintptr(0))

// minSlotCapacity is the smallest power-of-two slot size that lets at least
// one cache line's worth of (age, ref) pairs live in the ring without
// immediately wrapping on a single core (spec §4.2, invariant: "size ≥
// L1_cache_line_bytes / (4 + sizeof(ref)) rounded up to a power of two").
func minSlotCapacity() uint32 {
	want := uint32((cacheLineBytes + refAndAgeBytes - 1) / refAndAgeBytes)
	return nextPowerOfTwo(want)
}

func nextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}

// slotCapacity implements the §4.2 sizing rule: split `requested` across
// `numCores` slots (balanced, asym == 0), or divide it by `asym` so that
// `asym` slots jointly hold the full set (asym == 1 means "any single core can hold all objects" — the
// performance mode that lets push skip the bounded CAS loop entirely), then
// round up to the minimum cache-line-friendly power of two and keep doubling
// until the slots can jointly hold `requested` objects.
func slotCapacity(requested uint32, numCores int, asym int) uint32 {
	var nents uint32
	switch {
	case asym == 0:
		nents = requested / uint32(numCores)
	default:
		nents = requested / uint32(asym)
	}

	nents = nextPowerOfTwo(nents)
	if min := minSlotCapacity(); nents < min {
		nents = min
	}

	for nents*uint32(numCores) < requested {
		nents *= 2
	}
	return nents
}

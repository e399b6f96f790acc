package objpool

import (
	"strconv"
	"sync/atomic"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
)

// slot is a per-core, fixed-capacity MPMC ring (spec §4.1). ages[i] equals
// the absolute ring index last written to ents[i]; a position is ready for
// pop only when ages[i&mask] == the expected absolute index, which is what
// makes two pushes to the same physical slot position distinguishable even
// though they may carry the same (or a stale) reference — the ABA-freedom
// argument in spec §4.1.
type slot struct {
	head atomic.Uint32
	_    cacheLinePad
	tail atomic.Uint32
	_    cacheLinePad

	size uint32
	mask uint32

	ages []atomic.Uint32
	ents []unsafe.Pointer

	// index is this slot's position in the pool's slot table; used only
	// for metrics labeling and diagnostics, never for addressing.
	index int
	m     *metrics
	// occGauge is resolved once at slot creation: WithLabelValues does a
	// map lookup (and possibly allocates) on a cache miss, which push/pop
	// must never do, so we pay that cost exactly once up front instead.
	occGauge prometheus.Gauge

	// embeddedLo/embeddedHi bound the backing storage for objects the
	// pool allocated and embedded in this slot (population path 1,
	// spec §4.3). A drained reference in [embeddedLo, embeddedHi) is
	// classified "embedded" at teardown.
	embeddedLo, embeddedHi uintptr
}

// newSlot allocates a slot with the given capacity (must be a power of two).
func newSlot(capacity uint32, index int, m *metrics) *slot {
	s := &slot{
		size:  capacity,
		mask:  capacity - 1,
		ages:  make([]atomic.Uint32, capacity),
		ents:  make([]unsafe.Pointer, capacity),
		index: index,
		m:     m,
	}
	// head and tail start at `size`, not zero, so the first epoch tag a
	// push ever writes (size) differs from the zero value every ages[]
	// entry starts with — spec §3 invariant 4 / §4.1's "first slot
	// position" edge case. Without this a pop could observe
	// ages[0] == 0 and wrongly treat an un-pushed position as ready.
	s.head.Store(capacity)
	s.tail.Store(capacity)
	if m != nil {
		s.occGauge = m.occupancy.WithLabelValues(strconv.Itoa(index))
	}
	return s
}

func (s *slot) observeOccupancy() {
	if s.occGauge == nil {
		return
	}
	occ := int64(s.tail.Load()) - int64(s.head.Load())
	s.occGauge.Set(float64(occ))
}

// addSlot is the unconditional push primitive, used when the pool's total
// working set is guaranteed to fit (requested <= per-slot capacity): the
// caller has already established there is room, so a single
// fetch-and-increment ticket is enough (spec §4.1, "Push (unconditional)").
func (s *slot) addSlot(ref unsafe.Pointer) {
	t := s.tail.Add(1) - 1 // ticket: the pre-increment value of tail
	i := t & s.mask
	s.ents[i] = ref    // plain store: race-free because `t` is unique
	s.ages[i].Store(t) // release: publishes ents[i] to any acquire-load pop
	s.observeOccupancy()
}

// addSlotIfRoom is used by AddScattered during the quiescent init phase: it
// checks for room and writes with the unconditional primitive rather than a
// CAS loop, because nothing else can be touching this pool yet (spec §4.3:
// "add_scattered during init does not race with pops or pushes and uses
// the unconditional primitive").
func (s *slot) addSlotIfRoom(ref unsafe.Pointer) bool {
	h := s.head.Load()
	t := s.tail.Load()
	if t-h >= s.size {
		return false
	}
	s.addSlot(ref)
	return true
}

// tryAddSlot is the bounded push primitive, used when the slot may already
// be full (spec §4.1, "Push (bounded)"). It retries the CAS loop until
// either it reserves a tail position or observes the slot full.
func (s *slot) tryAddSlot(ref unsafe.Pointer) bool {
	for {
		h := s.head.Load()
		t := s.tail.Load()
		if t-h >= s.size {
			return false
		}
		if s.tail.CompareAndSwap(t, t+1) {
			i := t & s.mask
			s.ents[i] = ref
			s.ages[i].Store(t)
			s.observeOccupancy()
			return true
		}
		if s.m != nil {
			s.m.boundedRetries.Inc()
		}
	}
}

// tryGetSlot is the pop primitive (spec §4.1, "Pop"). It returns ok == false
// either because the slot is empty, or because it abandoned a position
// whose push had reserved a tail ticket but not yet published its age tag —
// the abandon branch is what keeps a preempted pusher from ever stalling a
// pop on another core (spec §4.6, the NMI-safety argument).
func (s *slot) tryGetSlot() (unsafe.Pointer, bool) {
	h := s.head.Load()
	for h != s.tail.Load() {
		i := h & s.mask
		if s.ages[i].Load() == h {
			ref := s.ents[i]
			if s.head.CompareAndSwap(h, h+1) {
				s.observeOccupancy()
				return ref, true
			}
			// Another pop won the race for this position; reload head
			// and keep trying from wherever it landed.
			h = s.head.Load()
			continue
		}

		newHead := s.head.Load()
		if newHead == h {
			// head hasn't moved since we last checked: the entry at i
			// is a push reservation in flight, not a stale read. Abandon
			// this slot rather than spin on someone else's ticket.
			if s.m != nil {
				s.m.abandonedPops.Inc()
			}
			return nil, false
		}
		h = newHead
	}
	return nil, false
}

// isEmbedded reports whether ref's storage lives inside this slot's own
// embedded-object backing buffer (population path 1, spec §4.3/§4.4).
func (s *slot) isEmbedded(ref unsafe.Pointer) bool {
	if s.embeddedLo == 0 {
		return false
	}
	addr := uintptr(ref)
	return addr >= s.embeddedLo && addr < s.embeddedHi
}

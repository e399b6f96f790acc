// Package objpool implements a scalable, lock-free, multi-producer/
// multi-consumer object pool. It pre-allocates a fixed set of opaque
// objects, distributes them across per-core ring-array slots, and supports
// extremely frequent Push (release) and Pop (acquire) calls from arbitrary
// goroutines — including ones that must never block or allocate — with
// bounded, deadlock-free, ABA-free behavior.
//
// The pool does not preserve FIFO or LIFO order, does not guarantee
// fairness across callers, does not grow or shrink after New, does not
// free individual objects before Fini, and does not preserve identity
// between a Pop and the Push that will eventually return that reference:
// an object pushed by one caller may be popped by any other.
package objpool

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agilira/objpool/internal/tracing"
)

const wordSize = unsafe.Sizeof(uintptr(0))

// AllocFlags records the allocation context New was called from, mirroring
// the original's alloc_flags parameter: whether the caller may sleep during
// init (permitting the "large/paged" placement, spec §4.2) or must stay
// non-blocking throughout (the "small/atomic" placement).
type AllocFlags struct {
	MaySleep bool
}

// ReleaseFunc is the teardown callback Fini invokes once per drained
// reference, and once more for the bulk buffer if one was populated (spec
// §6's release callback contract). isExternal is true when the reference
// was not allocated by the pool itself (it arrived via Populate or
// AddScattered); isElement is true for individual objects and false for the
// single call reporting the bulk buffer.
type ReleaseFunc func(userCtx any, ref unsafe.Pointer, isExternal, isElement bool)

// Config configures a new Pool (spec §6, the init operation).
type Config struct {
	// Name labels this pool's Prometheus metrics; defaults to "default".
	Name string
	// Count is the number of objects the pool is sized for.
	Count int
	// ObjectSize is the size in bytes of each pool-embedded object. Zero
	// skips embedding: objects are expected to arrive via Populate or
	// AddScattered instead.
	ObjectSize int
	// Asym selects the balance mode: 0 splits Count evenly across cores;
	// 1 sizes every slot to hold the entire Count by itself (the
	// performance mode, spec §4.2); N > 1 divides Count by N.
	Asym int
	// NumCores overrides the slot count; zero means runtime.GOMAXPROCS(0).
	NumCores int
	// AllocFlags records whether New may block/sleep while allocating.
	AllocFlags AllocFlags
	// Registerer receives this pool's metrics; nil disables registration
	// without disabling the metrics calls themselves.
	Registerer prometheus.Registerer
}

// Pool is the object pool head (spec §3, "Pool head").
type Pool struct {
	objsz           uint32
	requested       uint32
	perSlotCapacity uint32
	numCores        int
	boundedPush     bool
	usedLargeAlloc  bool

	slots           []*slot
	embeddedStorage [][]byte

	userBuf             []byte
	userBufLo, userBufHi uintptr
	hasUserBuf          bool

	scatterCursor atomic.Uint32

	m      *metrics
	tracer trace.Tracer

	closed atomic.Bool
}

// New initializes a pool per Config (spec §4.2, §4.3's embedded path,
// §4.6's failure semantics). It returns ErrUnsupported if the core count
// overflows a 16-bit field, and ErrOutOfMemory if allocation fails partway
// through — in which case any slots already allocated are released before
// New returns.
func New(cfg Config) (pool *Pool, err error) {
	numCores := cfg.NumCores
	if numCores <= 0 {
		numCores = runtime.GOMAXPROCS(0)
	}
	if numCores > 1<<16 {
		return nil, fmt.Errorf("objpool: %d cores overflows the core field: %w", numCores, ErrUnsupported)
	}

	requested := uint32(cfg.Count)
	perSlot := slotCapacity(requested, numCores, cfg.Asym)

	name := cfg.Name
	if name == "" {
		name = "default"
	}
	m := newMetrics(cfg.Registerer, name)
	tracer := tracing.GetTracer("pool")

	ctx, span := tracing.StartSpan(context.Background(), tracer, "objpool.Init",
		attribute.Int("objpool.requested", int(requested)),
		attribute.Int("objpool.cores", numCores),
		attribute.Int("objpool.per_slot_capacity", int(perSlot)),
	)
	defer span.End()

	p := &Pool{
		objsz:           uint32(cfg.ObjectSize),
		requested:       requested,
		perSlotCapacity: perSlot,
		numCores:        numCores,
		boundedPush:     requested > perSlot,
		m:               m,
		tracer:          tracer,
	}
	p.usedLargeAlloc = cfg.AllocFlags.MaySleep && pageAligned(perSlot, cfg.ObjectSize)

	defer func() {
		if r := recover(); r != nil {
			p.releaseSlots()
			err = fmt.Errorf("objpool: allocating slots: %v: %w", r, ErrOutOfMemory)
			tracing.RecordError(ctx, err)
			pool = nil
		}
	}()

	p.slots = make([]*slot, numCores)
	for c := 0; c < numCores; c++ {
		p.slots[c] = newSlot(perSlot, c, m)
	}

	if cfg.ObjectSize > 0 {
		p.embeddedStorage = make([][]byte, numCores)
		p.populateEmbedded()
	}

	log.Printf("✓ objpool %q initialized: %d objects across %d cores (%d per slot, bounded=%v)",
		name, requested, numCores, perSlot, p.boundedPush)
	return p, nil
}

// pageAligned reports whether objsz*perSlot objects fill at least one page
// — the original's trigger for switching from the "small/atomic" slot
// allocator to the "large/paged" one (spec §4.2, Placement).
func pageAligned(perSlot uint32, objsz int) bool {
	if objsz <= 0 {
		return false
	}
	return int64(perSlot)*int64(objsz) >= int64(os.Getpagesize())
}

// populateEmbedded carves requested objects out of per-slot backing buffers
// and scatters them round-robin (object k to slot k mod numCores, spec
// §4.2 "Scatter on initialization" / §4.3 population path 1). It runs
// during New, before the pool is visible to any other goroutine, so it
// uses the unconditional push primitive directly.
func (p *Pool) populateEmbedded() {
	counts := make([]uint32, p.numCores)
	for k := uint32(0); k < p.requested; k++ {
		counts[k%uint32(p.numCores)]++
	}

	for c := 0; c < p.numCores; c++ {
		n := counts[c]
		if n == 0 {
			continue
		}
		buf := make([]byte, uint64(n)*uint64(p.objsz))
		p.embeddedStorage[c] = buf

		base := uintptr(unsafe.Pointer(&buf[0]))
		p.slots[c].embeddedLo = base
		p.slots[c].embeddedHi = base + uintptr(n)*uintptr(p.objsz)

		for j := uint32(0); j < n; j++ {
			ref := unsafe.Pointer(&buf[j*p.objsz])
			p.slots[c].addSlot(ref)
		}
	}
}

// releaseSlots drops every slot and embedded buffer reference, letting the
// garbage collector reclaim them. Used both by New's partial-failure path
// and by Fini.
func (p *Pool) releaseSlots() {
	p.slots = nil
	p.embeddedStorage = nil
	p.userBuf = nil
}

// Populate carves objects out of a contiguous, word-aligned caller buffer
// at stride boundaries and scatters them round-robin (spec §4.3 population
// path 2). initCB, if non-nil, is called once per carved reference before
// Populate returns. Populate may be called at most once per pool.
func (p *Pool) Populate(buf []byte, stride int, initCB func(ref unsafe.Pointer)) error {
	if p.hasUserBuf {
		return fmt.Errorf("objpool: buffer already populated: %w", ErrInvalidArgument)
	}
	if stride <= 0 || uintptr(stride)%wordSize != 0 {
		return fmt.Errorf("objpool: stride %d is not a positive multiple of the word size: %w", stride, ErrInvalidArgument)
	}
	if len(buf) < stride {
		return fmt.Errorf("objpool: buffer of %d bytes is shorter than stride %d: %w", len(buf), stride, ErrInvalidArgument)
	}
	base := uintptr(unsafe.Pointer(&buf[0]))
	if base%wordSize != 0 {
		return fmt.Errorf("objpool: buffer is not word-aligned: %w", ErrInvalidArgument)
	}

	count := len(buf) / stride
	if count == 0 {
		return fmt.Errorf("objpool: no object fit in a %d-byte buffer with stride %d: %w", len(buf), stride, ErrNotFound)
	}

	_, span := tracing.StartSpan(context.Background(), p.tracer, "objpool.Populate",
		attribute.Int("objpool.count", count), attribute.Int("objpool.stride", stride))
	defer span.End()

	for k := 0; k < count; k++ {
		ref := unsafe.Pointer(&buf[k*stride])
		c := k % p.numCores
		p.slots[c].addSlot(ref)
		if initCB != nil {
			initCB(ref)
		}
	}

	p.userBuf = buf
	p.userBufLo = base
	p.userBufHi = base + uintptr(len(buf))
	p.hasUserBuf = true
	return nil
}

// AddScattered inserts a single externally heap-allocated reference (spec
// §4.3 population path 3). Like Populate, it must be called before the
// pool goes live: it does not race with concurrent Push/Pop.
func (p *Pool) AddScattered(ref unsafe.Pointer) error {
	for i := 0; i < p.numCores; i++ {
		c := int(p.scatterCursor.Add(1)-1) % p.numCores
		if p.slots[c].addSlotIfRoom(ref) {
			return nil
		}
	}
	return fmt.Errorf("objpool: %w", ErrInvalidArgument)
}

// Push returns ref to the pool. It never blocks on a kernel wait and never
// allocates; under the sizing New computes (total slot capacity >=
// requested) it cannot fail, so it reports no error (spec §4.6).
func (p *Pool) Push(ref unsafe.Pointer) {
	c := currentCore(p.numCores)
	if !p.boundedPush {
		// Every slot is guaranteed room for the whole working set; the
		// unconditional primitive always accepts on the first attempt
		// at steady state (spec §4.2, Push policy selection).
		p.slots[c].addSlot(ref)
		return
	}
	for {
		for i := 0; i < p.numCores; i++ {
			idx := (c + i) % p.numCores
			if p.slots[idx].tryAddSlot(ref) {
				return
			}
		}
		runtime.Gosched()
	}
}

// Pop acquires a reference from the pool, or returns ok == false if no slot
// yielded one during one full pass: each slot was either observed empty or
// abandoned because a push to it was still in flight (spec §4.1, §4.6 —
// emptiness is not an error).
func (p *Pool) Pop() (ref unsafe.Pointer, ok bool) {
	c := currentCore(p.numCores)
	for i := 0; i < p.numCores; i++ {
		idx := (c + i) % p.numCores
		if ref, ok := p.slots[idx].tryGetSlot(); ok {
			return ref, true
		}
	}
	return nil, false
}

// classify reports whether ref came from outside the pool's own storage
// (spec §4.4's address-range classification at teardown): true for anything
// that arrived via Populate or AddScattered, false only for objects the pool
// itself embedded and carved out of its own backing buffers.
func (p *Pool) classify(idx int, ref unsafe.Pointer) (isExternal bool) {
	return !p.slots[idx].isEmbedded(ref)
}

// Fini drains every slot, classifies and surfaces each reference to
// release, then surfaces the bulk buffer (if one was populated) once more
// with isElement == false, and finally releases pool storage (spec §4.4).
// Fini never fails and is safe to call more than once: the second and
// later calls are no-ops.
func (p *Pool) Fini(ctx context.Context, userCtx any, release ReleaseFunc) error {
	if p.closed.Swap(true) {
		return nil
	}

	_, span := tracing.StartSpan(ctx, p.tracer, "objpool.Fini")
	defer span.End()

	if release != nil {
		for idx, s := range p.slots {
			for {
				ref, ok := s.tryGetSlot()
				if !ok {
					break
				}
				release(userCtx, ref, p.classify(idx, ref), true)
			}
		}
		if p.hasUserBuf && len(p.userBuf) > 0 {
			release(userCtx, unsafe.Pointer(&p.userBuf[0]), true, false)
		}
	}

	log.Printf("✓ objpool drained and released (large_alloc=%v)", p.usedLargeAlloc)
	p.releaseSlots()
	return nil
}

// PerSlotCapacity reports the capacity New computed for each slot — useful
// for tests asserting spec §8's boundary behaviors (B1, B2).
func (p *Pool) PerSlotCapacity() uint32 { return p.perSlotCapacity }

// NumCores reports the number of per-core slots the pool was built with.
func (p *Pool) NumCores() int { return p.numCores }

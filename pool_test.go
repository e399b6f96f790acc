package objpool

import (
	"context"
	"testing"
	"unsafe"
)

// scenario 1 (spec §8): scatter-and-drain.
func TestScatterAndDrain(t *testing.T) {
	p, err := New(Config{Count: 16, ObjectSize: 32, NumCores: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i, s := range p.slots {
		if occ := s.tail.Load() - s.head.Load(); occ != 4 {
			t.Errorf("slot %d occupancy = %d, want 4", i, occ)
		}
	}

	seen := make(map[unsafe.Pointer]bool, 16)
	for i := 0; i < 16; i++ {
		ref, ok := p.Pop()
		if !ok {
			t.Fatalf("pop %d: expected a reference, got empty", i)
		}
		if seen[ref] {
			t.Fatalf("pop %d: duplicate reference %p", i, ref)
		}
		seen[ref] = true
	}

	if _, ok := p.Pop(); ok {
		t.Fatal("17th pop: expected empty, got a reference")
	}
}

// scenario 2 (spec §8): bulk populate.
func TestBulkPopulate(t *testing.T) {
	p, err := New(Config{Count: 0, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	buf := make([]byte, 1024)
	if err := p.Populate(buf, 64, nil); err != nil {
		t.Fatalf("Populate: %v", err)
	}

	wantPerSlot := uint32(8)
	for i, s := range p.slots {
		if occ := s.tail.Load() - s.head.Load(); occ != wantPerSlot {
			t.Errorf("slot %d occupancy = %d, want %d", i, occ, wantPerSlot)
		}
	}

	var elements, buffers int
	err = p.Fini(context.Background(), nil, func(_ any, _ unsafe.Pointer, isExternal, isElement bool) {
		if !isExternal {
			t.Error("populated reference reported as non-external")
		}
		if isElement {
			elements++
		} else {
			buffers++
		}
	})
	if err != nil {
		t.Fatalf("Fini: %v", err)
	}
	if elements != 16 {
		t.Errorf("element callbacks = %d, want 16", elements)
	}
	if buffers != 1 {
		t.Errorf("buffer callbacks = %d, want 1", buffers)
	}
}

// scenario 3 (spec §8): add-scattered.
func TestAddScattered(t *testing.T) {
	p, err := New(Config{Count: 0, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	objs := make([][]byte, 5)
	for i := range objs {
		objs[i] = make([]byte, 16)
		if err := p.AddScattered(unsafe.Pointer(&objs[i][0])); err != nil {
			t.Fatalf("AddScattered %d: %v", i, err)
		}
	}

	if occ := p.slots[0].tail.Load() - p.slots[0].head.Load(); occ != 3 {
		t.Errorf("slot 0 occupancy = %d, want 3", occ)
	}
	if occ := p.slots[1].tail.Load() - p.slots[1].head.Load(); occ != 2 {
		t.Errorf("slot 1 occupancy = %d, want 2", occ)
	}

	for i := 0; i < 5; i++ {
		if _, ok := p.Pop(); !ok {
			t.Fatalf("pop %d: expected a reference", i)
		}
	}
	if _, ok := p.Pop(); ok {
		t.Fatal("6th pop: expected empty")
	}
}

// scenario 3, teardown half: fini invoked directly after add-scattered
// (no intervening pops) surfaces every inserted reference exactly once,
// flagged external.
func TestAddScatteredFiniCallbackCount(t *testing.T) {
	p, err := New(Config{Count: 0, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	objs := make([][]byte, 5)
	for i := range objs {
		objs[i] = make([]byte, 16)
		if err := p.AddScattered(unsafe.Pointer(&objs[i][0])); err != nil {
			t.Fatalf("AddScattered %d: %v", i, err)
		}
	}

	var externalElements int
	err = p.Fini(context.Background(), nil, func(_ any, _ unsafe.Pointer, isExternal, isElement bool) {
		if !isExternal {
			t.Error("add-scattered reference reported as non-external")
		}
		if isElement {
			externalElements++
		}
	})
	if err != nil {
		t.Fatalf("Fini: %v", err)
	}
	if externalElements != 5 {
		t.Errorf("external element callbacks = %d, want 5", externalElements)
	}
}

// B1 (spec §8): undersized count still yields the minimum slot capacity.
func TestMinimumSlotCapacityFloor(t *testing.T) {
	p, err := New(Config{Count: 1, NumCores: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	min := minSlotCapacity()
	if p.PerSlotCapacity() != min {
		t.Errorf("PerSlotCapacity() = %d, want minimum %d", p.PerSlotCapacity(), min)
	}
}

// B2 (spec §8): asym == 1 lets any single core hold the whole count.
func TestAsymSingleCoreCapacity(t *testing.T) {
	p, err := New(Config{Count: 100, Asym: 1, NumCores: 8})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.PerSlotCapacity() < 100 {
		t.Errorf("PerSlotCapacity() = %d, want >= 100", p.PerSlotCapacity())
	}
}

// B3 (spec §8): pop on a freshly initialized, empty pool returns empty.
func TestPopOnEmptyPool(t *testing.T) {
	p, err := New(Config{Count: 0, NumCores: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := p.Pop(); ok {
		t.Fatal("expected empty pop on a freshly initialized pool")
	}
}

// B4 (spec §8): Populate rejects a non-word-multiple stride and an
// oversized stride that leaves no room for a single object.
func TestPopulateRejectsBadStride(t *testing.T) {
	p, err := New(Config{Count: 0, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	buf := make([]byte, 64)
	if err := p.Populate(buf, 3, nil); err == nil {
		t.Error("expected an error for a non-word-multiple stride")
	}
	if err := p.Populate(buf, 128, nil); err == nil {
		t.Error("expected an error when stride exceeds buffer length")
	}
}

// scenario 5 (spec §8): full-slot push exercises the bounded CAS-loop
// primitive, which must retry onto a neighboring slot rather than fail.
func TestBoundedPushRetriesAcrossSlots(t *testing.T) {
	p, err := New(Config{Count: 16, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !p.boundedPush {
		t.Fatal("expected boundedPush for count=16, numCores=2 (per-slot capacity < count)")
	}

	// Fill slot 0 to capacity by hand, then push one more object; it must
	// land in slot 1 instead of blocking forever.
	capacity := p.perSlotCapacity
	for i := uint32(0); i < capacity; i++ {
		if !p.slots[0].tryAddSlot(unsafe.Pointer(&i)) {
			t.Fatalf("failed to fill slot 0 at position %d", i)
		}
	}

	before := p.slots[1].tail.Load() - p.slots[1].head.Load()
	extra := 42
	p.Push(unsafe.Pointer(&extra)) // slot 0 is full, so whichever core Push starts on, it ends in slot 1
	after := p.slots[1].tail.Load() - p.slots[1].head.Load()
	if after != before+1 {
		t.Fatalf("slot 1 occupancy = %d, want %d", after, before+1)
	}
}

// P4 (spec §8): Fini invokes the callback N+1 times with a bulk buffer, N
// times otherwise.
func TestFiniCallbackCount(t *testing.T) {
	p, err := New(Config{Count: 8, ObjectSize: 16, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls int
	err = p.Fini(context.Background(), nil, func(_ any, _ unsafe.Pointer, _, _ bool) {
		calls++
	})
	if err != nil {
		t.Fatalf("Fini: %v", err)
	}
	if calls != 8 {
		t.Errorf("callback invocations = %d, want 8 (no bulk buffer)", calls)
	}
}

// Fini must be idempotent: a second call is a no-op, never a panic or a
// second round of callbacks.
func TestFiniIsIdempotent(t *testing.T) {
	p, err := New(Config{Count: 4, ObjectSize: 16, NumCores: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var calls int
	cb := func(_ any, _ unsafe.Pointer, _, _ bool) { calls++ }
	if err := p.Fini(context.Background(), nil, cb); err != nil {
		t.Fatalf("first Fini: %v", err)
	}
	if err := p.Fini(context.Background(), nil, cb); err != nil {
		t.Fatalf("second Fini: %v", err)
	}
	if calls != 4 {
		t.Errorf("callback invocations across both Fini calls = %d, want 4", calls)
	}
}

func TestUnsupportedCoreCount(t *testing.T) {
	_, err := New(Config{Count: 1, NumCores: 1 << 17})
	if err == nil {
		t.Fatal("expected ErrUnsupported for a core count above 1<<16")
	}
}

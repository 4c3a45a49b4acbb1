package task

import "testing"

func TestTidAllocatorSkipsZeroAndIncrements(t *testing.T) {
	a := NewTidAllocator()
	t1, ok := a.Allocate()
	if !ok || t1 != 1 {
		t.Fatalf("got tid %d ok=%v, want 1/true", t1, ok)
	}
	t2, ok := a.Allocate()
	if !ok || t2 != 2 {
		t.Fatalf("got tid %d ok=%v, want 2/true", t2, ok)
	}
}

func TestTidAllocatorReusesDeallocatedBeforeGrowing(t *testing.T) {
	a := NewTidAllocator()
	t1, _ := a.Allocate()
	a.Allocate()
	a.Deallocate(t1)

	got, ok := a.Allocate()
	if !ok || got != t1 {
		t.Fatalf("got tid %d ok=%v, want reused %d/true", got, ok, t1)
	}
}

func TestTidAllocatorLiveTracksCheckout(t *testing.T) {
	a := NewTidAllocator()
	tid, _ := a.Allocate()
	if !a.Live(tid) {
		t.Fatal("expected freshly allocated tid to be live")
	}
	a.Deallocate(tid)
	if a.Live(tid) {
		t.Fatal("expected deallocated tid to no longer be live")
	}
}

func TestTidAllocatorDeallocateUncheckedIsNoop(t *testing.T) {
	a := NewTidAllocator()
	a.Deallocate(42)
	got, ok := a.Allocate()
	if !ok || got != 1 {
		t.Fatalf("got tid %d ok=%v, want 1/true (deallocate of unchecked tid must not seed the free list)", got, ok)
	}
}

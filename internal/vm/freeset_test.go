package vm

import (
	"testing"

	"h2o/internal/paging"
)

func TestFirstFitWithinWindow(t *testing.T) {
	f := NewFreeSet(paging.Range{Start: 0x1000, End: 0x10000})
	r, ok := f.FirstFit(0x2000, 0x1000)
	if !ok {
		t.Fatal("expected fit")
	}
	if r.Start != 0x1000 || r.End != 0x3000 {
		t.Fatalf("got %+v", r)
	}
}

func TestTakeThenFirstFitSkipsTaken(t *testing.T) {
	f := NewFreeSet(paging.Range{Start: 0, End: 0x4000})
	f.Take(paging.Range{Start: 0, End: 0x2000})
	r, ok := f.FirstFit(0x1000, 0x1000)
	if !ok {
		t.Fatal("expected fit")
	}
	if r.Start != 0x2000 {
		t.Fatalf("got %+v, want start 0x2000", r)
	}
}

func TestGiveCoalescesBothSides(t *testing.T) {
	f := NewFreeSet(paging.Range{Start: 0, End: 0x5000})
	f.Take(paging.Range{Start: 0x1000, End: 0x2000})
	f.Take(paging.Range{Start: 0x3000, End: 0x4000})
	if len(f.ranges) != 3 {
		t.Fatalf("got %d ranges, want 3", len(f.ranges))
	}
	f.Give(paging.Range{Start: 0x1000, End: 0x2000})
	f.Give(paging.Range{Start: 0x3000, End: 0x4000})
	if len(f.ranges) != 1 {
		t.Fatalf("got %d ranges after full coalesce, want 1", len(f.ranges))
	}
	if f.ranges[0] != (paging.Range{Start: 0, End: 0x5000}) {
		t.Fatalf("got %+v", f.ranges[0])
	}
}

func TestContains(t *testing.T) {
	f := NewFreeSet(paging.Range{Start: 0, End: 0x4000})
	f.Take(paging.Range{Start: 0, End: 0x1000})
	if f.Contains(paging.Range{Start: 0, End: 0x1000}) {
		t.Fatal("expected taken range to not be contained in free set")
	}
	if !f.Contains(paging.Range{Start: 0x1000, End: 0x2000}) {
		t.Fatal("expected remaining range to be free")
	}
}

func TestFirstFitExhausted(t *testing.T) {
	f := NewFreeSet(paging.Range{Start: 0, End: 0x1000})
	f.Take(paging.Range{Start: 0, End: 0x1000})
	if _, ok := f.FirstFit(0x1000, 0x1000); ok {
		t.Fatal("expected no fit in an empty set")
	}
}

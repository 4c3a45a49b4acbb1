package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash(16)
	if _, ok := ht.Get(1); ok {
		t.Fatal("expected miss on empty table")
	}
	if _, inserted := ht.Set(1, "one"); !inserted {
		t.Fatal("expected insert")
	}
	if v, ok := ht.Get(1); !ok || v != "one" {
		t.Fatalf("got %v, %v", v, ok)
	}
	if _, inserted := ht.Set(1, "one-again"); inserted {
		t.Fatal("expected duplicate key to be rejected")
	}
	ht.Del(1)
	if _, ok := ht.Get(1); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestSizeAndElems(t *testing.T) {
	ht := MkHash(8)
	for i := 0; i < 20; i++ {
		ht.Set(i, i*i)
	}
	if ht.Size() != 20 {
		t.Fatalf("got size %d", ht.Size())
	}
	seen := make(map[int]bool)
	for _, p := range ht.Elems() {
		seen[p.Key.(int)] = true
	}
	if len(seen) != 20 {
		t.Fatalf("got %d distinct elems", len(seen))
	}
}

func TestIterStopsEarly(t *testing.T) {
	ht := MkHash(4)
	ht.Set(1, "a")
	ht.Set(2, "b")
	ht.Set(3, "c")

	visited := 0
	ht.Iter(func(k, v interface{}) bool {
		visited++
		return true
	})
	if visited != 1 {
		t.Fatalf("expected iteration to stop after first true, got %d", visited)
	}
}

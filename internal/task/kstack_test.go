package task

import (
	"testing"

	"h2o/internal/defs"
	"h2o/internal/mem"
)

func freshPhysmem(t *testing.T, pages uint64) {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	mem.Phys_init([]defs.MemMapEntry{
		{PhysStart: 0, PageCount: pages, Kind: defs.Free},
	})
}

func TestNewKstackAllocatesBackingPages(t *testing.T) {
	freshPhysmem(t, 64)
	ks, err := NewKstack(0)
	if err != 0 {
		t.Fatalf("NewKstack: %v", err)
	}
	if len(ks.Pages) != KstackPages-1 {
		t.Fatalf("got %d pages, want %d", len(ks.Pages), KstackPages-1)
	}
	for _, p := range ks.Pages {
		if mem.Physmem.Refcnt(p) != 0 {
			t.Fatalf("expected fresh stack page to carry no extra refcount")
		}
	}
}

func TestFreeKstackReturnsPagesToTheFreeList(t *testing.T) {
	freshPhysmem(t, KstackPages) // just enough for one stack, none to spare
	ks, err := NewKstack(0)
	if err != 0 {
		t.Fatalf("NewKstack: %v", err)
	}
	FreeKstack(0, ks)

	if _, _, ok := mem.Physmem.Refpg_new(0); !ok {
		t.Fatal("expected freed kernel stack pages to be reusable")
	}
}

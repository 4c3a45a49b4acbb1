package vm

import (
	"testing"

	"h2o/internal/defs"
	"h2o/internal/mem"
	"h2o/internal/paging"
)

func freshPhysmem(t *testing.T, pages uint64) {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	mem.Phys_init([]defs.MemMapEntry{
		{PhysStart: 0, PageCount: pages, Kind: defs.Free},
	})
}

var testWindow = paging.Range{Start: 0x10000000, End: 0x20000000}

func TestAllocByLayoutMapsAndZeroes(t *testing.T) {
	freshPhysmem(t, 4096)
	as, err := New(0, UserSpace, testWindow)
	if err != 0 {
		t.Fatalf("New: %v", err)
	}
	rng, err := as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x2000, Align: 0x1000}, nil, FlagWrite|FlagUser)
	if err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	if rng.Pages() != 2 {
		t.Fatalf("got %d pages, want 2", rng.Pages())
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	buf, derr := as.Userdmap8_inner(0, int(rng.Start), false)
	if derr != 0 {
		t.Fatalf("Userdmap8_inner: %v", derr)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatal("expected freshly allocated page to be zeroed")
		}
	}
}

func TestAllocByVirtRejectsOutsideWindow(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	_, err := as.Alloc(0, AllocRequest{Kind: ByVirt, Range: paging.Range{Start: 0, End: 0x1000}}, nil, FlagUser)
	if err != defs.BADRANGE {
		t.Fatalf("got %v, want BADRANGE", err)
	}
}

func TestAllocExplicitPhysNotOwned(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	mmio := mem.PAddr(0x800000)
	rng, err := as.Alloc(0, AllocRequest{Kind: ByVirt, Range: paging.Range{Start: testWindow.Start, End: testWindow.Start + 0x1000}}, &mmio, FlagWrite)
	if err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	if derr := as.Dealloc(0, rng, true); derr != 0 {
		t.Fatalf("Dealloc: %v", derr)
	}
}

func TestDeallocRequiresExactRange(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	rng, _ := as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x2000, Align: 0x1000}, nil, FlagUser)
	partial := paging.Range{Start: rng.Start, End: rng.Start + 0x1000}
	if err := as.Dealloc(0, partial, true); err != defs.BADRANGE {
		t.Fatalf("got %v, want BADRANGE", err)
	}
	if err := as.Dealloc(0, rng, true); err != 0 {
		t.Fatalf("Dealloc: %v", err)
	}
	// the range must be free again afterward
	rng2, err := as.Alloc(0, AllocRequest{Kind: ByVirt, Range: rng}, nil, FlagUser)
	if err != 0 || rng2 != rng {
		t.Fatalf("expected re-allocation to succeed at the same range, got %v / %+v", err, rng2)
	}
}

func TestModifyReprotects(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	rng, _ := as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x1000, Align: 0x1000}, nil, FlagWrite|FlagUser)
	if err := as.Modify(0, rng, FlagUser); err != 0 {
		t.Fatalf("Modify: %v", err)
	}
	as.Lock_pmap()
	pte, ok := paging.Lookup(0, as.Root, rng.Start)
	as.Unlock_pmap()
	if !ok {
		t.Fatal("expected mapping present")
	}
	if pte&mem.PTE_W != 0 {
		t.Fatal("expected write bit cleared after Modify")
	}
}

func TestInitStackAndGrow(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	rng, err := as.InitStack(0, 0x1000)
	if err != 0 {
		t.Fatalf("InitStack: %v", err)
	}
	if rng.End != testWindow.End {
		t.Fatalf("expected stack to sit at the top of the window, got %+v", rng)
	}
	fault := rng.Start - 0x500
	if err := as.GrowStack(0, fault); err != 0 {
		t.Fatalf("GrowStack: %v", err)
	}
	if as.stack.Bottom >= rng.Start {
		t.Fatal("expected stack to have grown downward")
	}
	as.ClearStack(0)
	if as.stack.Top != 0 {
		t.Fatal("expected stack cleared")
	}
}

func TestGrowStackBeyondReservedWindowFails(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	as.InitStack(0, 0x1000)
	tooFar := testWindow.End - uintptr(MaxStackPages+1)*uintptr(mem.PGSIZE)
	if err := as.GrowStack(0, tooFar); err != defs.BADRANGE {
		t.Fatalf("got %v, want BADRANGE", err)
	}
}

func TestDuplicateKernelSpaceShares(t *testing.T) {
	freshPhysmem(t, 4096)
	kernel, _ := New(0, KernelSpace, paging.Range{Start: 0xffff800000000000, End: 0xffff800000100000})
	kernel.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x1000, Align: 0x1000}, nil, FlagWrite)

	dup, err := kernel.Duplicate(0, KernelSpace)
	if err != 0 {
		t.Fatalf("Duplicate: %v", err)
	}
	if len(dup.recs) != len(kernel.recs) {
		t.Fatal("expected duplicate to share the record map")
	}
	for i := range kernel.Root {
		if dup.Root[i] != kernel.Root[i] {
			t.Fatalf("expected duplicate's root to match at slot %d", i)
		}
	}
}

func TestDuplicateUserSpaceStartsFresh(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x1000, Align: 0x1000}, nil, FlagUser)

	dup, err := as.Duplicate(0, UserSpace)
	if err != 0 {
		t.Fatalf("Duplicate: %v", err)
	}
	if len(dup.recs) != 0 {
		t.Fatal("expected fresh user-space duplicate to have no records")
	}
}

func TestUserReadWriteRoundtrip(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	rng, _ := as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x1000, Align: 0x1000}, nil, FlagWrite|FlagUser)

	if err := as.Userwriten(0, int(rng.Start), 4, 0xdeadbeef&0x7fffffff); err != 0 {
		t.Fatalf("Userwriten: %v", err)
	}
	v, err := as.Userreadn(0, int(rng.Start), 4)
	if err != 0 {
		t.Fatalf("Userreadn: %v", err)
	}
	if v != 0xdeadbeef&0x7fffffff {
		t.Fatalf("got %x", v)
	}
}

func TestK2userAndUser2k(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	rng, _ := as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x1000, Align: 0x1000}, nil, FlagWrite|FlagUser)

	src := []uint8{1, 2, 3, 4, 5}
	if err := as.K2user(0, src, int(rng.Start)); err != 0 {
		t.Fatalf("K2user: %v", err)
	}
	dst := make([]uint8, len(src))
	if err := as.User2k(0, dst, int(rng.Start)); err != 0 {
		t.Fatalf("User2k: %v", err)
	}
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("got %v want %v", dst, src)
		}
	}
}

func TestDestroyFreesRecords(t *testing.T) {
	freshPhysmem(t, 4096)
	as, _ := New(0, UserSpace, testWindow)
	as.Alloc(0, AllocRequest{Kind: ByLayout, Size: 0x1000, Align: 0x1000}, nil, FlagUser)
	as.InitStack(0, 0x1000)
	as.Destroy(0)
	if as.recs != nil {
		t.Fatal("expected records cleared after Destroy")
	}
}

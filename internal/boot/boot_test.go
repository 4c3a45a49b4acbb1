package boot

import (
	"testing"
	"time"

	"h2o/internal/apic"
	"h2o/internal/defs"
	"h2o/internal/mem"
	"h2o/internal/paging"
	"h2o/internal/sched"
	"h2o/internal/task"
	"h2o/internal/ustr"
)

func testMmap(pages uint64) []defs.MemMapEntry {
	return []defs.MemMapEntry{
		{PhysStart: 0, PageCount: pages, Kind: defs.Free},
	}
}

func TestBootBringsUpOneLapicPerCPU(t *testing.T) {
	k, err := Boot(KernelArgs{}, testMmap(4096), 4, true, true,
		paging.Range{Start: 0x1000_0000, End: 0x2000_0000})
	if err != 0 {
		t.Fatalf("Boot: %v", err)
	}
	if len(k.Lapics) != 4 {
		t.Fatalf("got %d Lapics, want 4", len(k.Lapics))
	}
	if sched.Count() != 4 {
		t.Fatalf("got %d scheduler CPUs, want 4", sched.Count())
	}
	for i, l := range k.Lapics {
		if int(l.ID()) != i {
			t.Fatalf("lapic %d has ID %d", i, l.ID())
		}
	}
}

func TestBootRejectsZeroCPUs(t *testing.T) {
	if _, err := Boot(KernelArgs{}, testMmap(64), 0, true, true, paging.Range{}); err != defs.EINVAL {
		t.Fatalf("got %v, want EINVAL", err)
	}
}

func TestBootBuildsResourceTreesSpanningTheMemoryMap(t *testing.T) {
	k, err := Boot(KernelArgs{}, testMmap(16), 1, false, false,
		paging.Range{Start: 0x1000_0000, End: 0x1100_0000})
	if err != 0 {
		t.Fatalf("Boot: %v", err)
	}
	if k.MemRoot.Kind() != defs.ResMem {
		t.Fatalf("got MemRoot kind %v, want ResMem", k.MemRoot.Kind())
	}
	wantEnd := uint64(16) * uint64(mem.PGSIZE)
	if got := k.MemRoot.Range().End; got != wantEnd {
		t.Fatalf("got MemRoot range end %d, want %d", got, wantEnd)
	}
	if k.PIORoot.Kind() != defs.ResPIO {
		t.Fatalf("got PIORoot kind %v, want ResPIO", k.PIORoot.Kind())
	}
}

func TestBootMigrateBroadcasterDrainsOnPush(t *testing.T) {
	k, err := Boot(KernelArgs{}, testMmap(4096), 2, true, true,
		paging.Range{Start: 0x1000_0000, End: 0x2000_0000})
	if err != 0 {
		t.Fatalf("Boot: %v", err)
	}
	if len(k.Lapics) != 2 {
		t.Fatalf("got %d Lapics, want 2", len(k.Lapics))
	}

	ti := task.Mk(1, ustr.MkUstr(), defs.Kernel, defs.PrioDefault, 0)
	ti.Affinity = defs.CpuMaskOf(1)

	cpu0 := sched.CPUByID(0)
	cpu0.Push(ti)

	time.Sleep(5 * time.Millisecond)

	if got := sched.CPUByID(1).RunQueueLen(); got != 1 {
		t.Fatalf("got CPU 1 run queue length %d, want 1 after cross-CPU push", got)
	}
	if got := cpu0.RunQueueLen(); got != 0 {
		t.Fatalf("got CPU 0 run queue length %d, want 0", got)
	}
}

func TestBootShootdownBroadcasterDoesNotPanic(t *testing.T) {
	k, err := Boot(KernelArgs{}, testMmap(4096), 2, true, true,
		paging.Range{Start: 0x1000_0000, End: 0x2000_0000})
	if err != 0 {
		t.Fatalf("Boot: %v", err)
	}
	if k.Kernel == nil {
		t.Fatal("expected a non-nil kernel address space")
	}
	k.Lapics[0].SendIPI(apic.ICR{Vector: shootdownVector, Delivery: apic.Fixed, Dest: 0})
}

package boot

import (
	"h2o/internal/apic"
	"h2o/internal/clock"
	"h2o/internal/defs"
	"h2o/internal/klog"
	"h2o/internal/mem"
	"h2o/internal/paging"
	"h2o/internal/res"
	"h2o/internal/sched"
	"h2o/internal/syscall"
	"h2o/internal/task"
	"h2o/internal/vm"
)

// Kernel is every piece of shared state that exists once the boot sequence
// below has run: the per-CPU Local APICs, the kernel's own address space,
// the tid/task registries internal/syscall dispatches against, the boot
// log, the calibrated clock, and the roots of the MMIO and PIO resource
// trees tasks sub-allocate from via res_alloc.
type Kernel struct {
	Lapics []*apic.Lapic
	Kernel *vm.AddrSpace
	Tids   *task.TidAllocator
	Tasks  *task.Table
	Log    *klog.Logger
	Clock  clock.ClockChip

	MemRoot *res.Resource
	PIORoot *res.Resource
}

// migrateVector and shootdownVector are the synthetic interrupt vectors
// the boot sequence programs every Local APIC's ICR write with. There is
// no IDT or interrupt-dispatch loop in this build to route a vector back
// to CPU.DrainMigrations or a TLB invalidation, so Boot's broadcaster
// callbacks below call straight through instead — the vector numbers are
// recorded in the (simulated) ICR purely so a Lapic's register state looks
// the way a real boot's would.
const (
	migrateVector   uint8 = 0xf0
	shootdownVector uint8 = 0xf1
)

// Boot runs H2O's entire cold-boot sequence: ingest the firmware memory
// map, calibrate the clock, bring up one Local APIC per logical CPU, stand
// up the kernel's own address space and resource trees, and wire every
// cross-package broadcaster callback sched/vm/syscall need before a task
// can run (original_source/h2o/kernel/src/kmain.rs's kmain, reordered only
// where Go's explicit-parameter convention replaces a thread-local global).
//
// kargs is recorded for callers that want the loader's handoff (tinit,
// bootfs) but isn't consumed by Boot itself — nothing downstream of this
// package has a loader, task image, or filesystem to hand it to yet.
func Boot(kargs KernelArgs, mmap []defs.MemMapEntry, ncpu int, invariantTSC, hpetPresent bool, kernelWindow paging.Range) (*Kernel, defs.Err_t) {
	_ = kargs
	if ncpu < 1 {
		return nil, defs.EINVAL
	}

	mem.Phys_init(mmap)

	clk := clock.System(invariantTSC, hpetPresent)

	sched.Init(ncpu)

	lapics := make([]*apic.Lapic, ncpu)
	for i := 0; i < ncpu; i++ {
		l := apic.New(apic.X2, uint32(i))
		l.Enable(0xff)
		lapics[i] = l
	}

	sched.SetMigrateBroadcaster(func(destCPU int) {
		if destCPU < 0 || destCPU >= len(lapics) {
			return
		}
		lapics[destCPU].SendIPI(apic.ICR{Vector: migrateVector, Delivery: apic.Fixed, Dest: uint32(destCPU)})
		if c := sched.CPUByID(destCPU); c != nil {
			c.DrainMigrations()
		}
	})

	vm.SetShootdownBroadcaster(func(p_root mem.PAddr, rng paging.Range) {
		for _, l := range lapics {
			l.SendIPI(apic.ICR{Vector: shootdownVector, Delivery: apic.Fixed, Dest: l.ID()})
		}
	})

	kspace, err := vm.New(0, vm.KernelSpace, kernelWindow)
	if err != 0 {
		return nil, err
	}

	tids := task.NewTidAllocator()
	tasks := task.NewTable()
	logger := klog.NewLogger(64*1024, klog.Info)

	syscall.Init(tids, tasks, logger, clk)

	var highest uint64
	for _, e := range mmap {
		end := uint64(e.PhysStart) + e.PageCount*uint64(mem.PGSIZE)
		if end > highest {
			highest = end
		}
	}

	k := &Kernel{
		Lapics:  lapics,
		Kernel:  kspace,
		Tids:    tids,
		Tasks:   tasks,
		Log:     logger,
		Clock:   clk,
		MemRoot: res.NewRoot(defs.ResMem, res.Range{Start: 0, End: highest}),
		PIORoot: res.NewRoot(defs.ResPIO, res.Range{Start: 0, End: 1 << 16}),
	}

	logger.Log(klog.Info, "boot: %d CPU(s), %d bytes of physical memory, TSC invariant=%v HPET=%v",
		ncpu, highest, invariantTSC, hpetPresent)

	return k, 0
}

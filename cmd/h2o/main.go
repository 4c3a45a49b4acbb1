// Command h2o is the kernel's entry point: it stands in for the real
// kernel image a UEFI loader would jump into (original_source/h2o/kernel/
// src/kmain.rs's kmain), driving boot, CPU bring-up, and the scheduler's
// timer-tick loop as an ordinary Go process instead of a freestanding
// image.
//
// There is no bootloader handing this process a real memory map or a
// bundled init task, so main constructs a synthetic memory map sized by
// -mem and, in place of tinit, creates one idle kernel task per CPU, so the
// scheduler has something to run while it ticks.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"h2o/internal/boot"
	"h2o/internal/defs"
	"h2o/internal/klog"
	"h2o/internal/mem"
	"h2o/internal/paging"
	"h2o/internal/sched"
	"h2o/internal/task"
	"h2o/internal/ustr"
)

func main() {
	ncpu := flag.Int("ncpu", 1, "number of logical CPUs to bring up")
	memMB := flag.Int("mem", 256, "megabytes of simulated physical memory")
	invariantTSC := flag.Bool("invariant-tsc", true, "assume an invariant TSC is present")
	hpetPresent := flag.Bool("hpet", true, "assume an HPET is present")
	runFor := flag.Duration("run", 0, "halt after this long (0 runs forever)")
	flag.Parse()

	fmt.Println("H2O")
	fmt.Printf("  %d CPU(s), %d MB of physical memory\n", *ncpu, *memMB)

	pages := uint64(*memMB) * (1024 * 1024 / uint64(mem.PGSIZE))
	mmap := []defs.MemMapEntry{
		{PhysStart: 0, PageCount: pages, Kind: defs.Free},
	}
	kernelWindow := paging.Range{Start: 0xFFFF_8000_0000_0000, End: 0xFFFF_A000_0000_0000}

	k, err := boot.Boot(boot.KernelArgs{}, mmap, *ncpu, *invariantTSC, *hpetPresent, kernelWindow)
	if err != 0 {
		fmt.Fprintf(os.Stderr, "boot failed: %v\n", err)
		os.Exit(1)
	}
	k.Log.Log(klog.Info, "h2o: boot complete")

	for i := 0; i < *ncpu; i++ {
		tid, ok := k.Tids.Allocate()
		if !ok {
			fmt.Fprintln(os.Stderr, "boot failed: out of tids bringing up idle tasks")
			os.Exit(1)
		}
		idle := task.Mk(tid, ustr.MkUstr(), defs.Kernel, defs.PrioIdle, 0)
		idle.Affinity = defs.CpuMaskOf(i)
		k.Tasks.Insert(idle)
		sched.CPUByID(i).Push(idle)
	}

	go drainLog(k.Log)

	tickLoop(k, *runFor)
}

// drainLog periodically prints whatever accumulated in the kernel log
// ring, standing in for the serial sink spec.md §1 scopes out of this
// build.
func drainLog(l *klog.Logger) {
	for range time.Tick(time.Second) {
		if s := l.Dump(); s != "" {
			fmt.Print(s)
		}
	}
}

// tickLoop drives every logical CPU's scheduler with MinimumTimeGranularity
// ticks, the same cadence the Local APIC timer interrupt would deliver on
// real hardware. It returns after runFor elapses, or never if runFor is 0.
func tickLoop(k *boot.Kernel, runFor time.Duration) {
	ticker := time.NewTicker(sched.MinimumTimeGranularity)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if runFor > 0 {
		t := time.NewTimer(runFor)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case now := <-ticker.C:
			for i := 0; i < sched.Count(); i++ {
				sched.CPUByID(i).Tick(now)
			}
		case <-deadline:
			return
		}
	}
}

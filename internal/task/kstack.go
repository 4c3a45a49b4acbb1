package task

import (
	"h2o/internal/defs"
	"h2o/internal/mem"
)

// NewKstack allocates a task's kernel stack directly out of the frame
// allocator: KstackPages-1 backed pages plus one guard page left entirely
// unallocated below them. A user address space's stack goes through
// vm.AddrSpace.InitStack because it needs page-table entries a user mode
// access fault can walk; a kernel stack here never takes a page fault (the
// kernel always runs mapped), so it only needs backing frames, not a
// virtual window of its own — GuardVA/BaseVA are left for whichever boot
// step maps the kernel's identity window to fill in.
func NewKstack(cpu int) (*Kstack, defs.Err_t) {
	pages := make([]mem.PAddr, 0, KstackPages-1)
	for i := 0; i < KstackPages-1; i++ {
		_, p, ok := mem.Physmem.Refpg_new(cpu)
		if !ok {
			for _, freed := range pages {
				mem.Physmem.Refdown(cpu, freed)
			}
			return nil, defs.OOM
		}
		pages = append(pages, p)
	}
	return &Kstack{Pages: pages}, 0
}

// FreeKstack releases every backing page a NewKstack call handed out.
func FreeKstack(cpu int, ks *Kstack) {
	if ks == nil {
		return
	}
	for _, p := range ks.Pages {
		mem.Physmem.Refdown(cpu, p)
	}
}

// Package paging implements the 4-level x86_64 page-table engine: maps,
// unmaps, and reprotect over a root table built from internal/mem page-table
// pages (spec.md §4.2). It has no notion of an address space's free-range
// set or its record of outstanding allocations — that bookkeeping belongs to
// internal/vm, which is the only caller. paging only ever walks and edits
// page-table-page contents reachable through mem.Physmem.DmapPmap; there is
// no real CR3 here, so "loading" a root is just handing a *mem.Pmap_t to the
// scheduler (internal/sched.CPU.Current's address space).
package paging

import (
	"slices"

	"h2o/internal/defs"
	"h2o/internal/mem"
)

// Attr is the set of leaf permission and caching bits a mapping carries.
// It reuses internal/mem's PTE bit positions directly rather than inventing
// a parallel vocabulary.
type Attr mem.PAddr

const (
	AttrWrite   Attr = Attr(mem.PTE_W)
	AttrUser    Attr = Attr(mem.PTE_U)
	AttrGlobal  Attr = Attr(mem.PTE_G)
	AttrNoCache Attr = Attr(mem.PTE_PCD)
	AttrLarge   Attr = Attr(mem.PTE_PS)
)

// levels is the depth of the table: PML4, PDPT, PD, PT.
const levels = 4

// Range is a half-open virtual address interval, page-aligned at both ends.
type Range struct {
	Start uintptr
	End   uintptr
}

// Pages reports how many 4 KiB pages rng spans.
func (r Range) Pages() int {
	return int((r.End - r.Start) >> mem.PGSHIFT)
}

func (r Range) aligned() bool {
	return r.Start < r.End &&
		r.Start&uintptr(mem.PGOFFSET) == 0 &&
		r.End&uintptr(mem.PGOFFSET) == 0
}

func index(va uintptr, level int) int {
	shift := mem.PGSHIFT + uint(9*level)
	return int((va >> shift) & 0x1ff)
}

// NewRoot allocates and zeroes a fresh top-level table for a brand new
// address space.
func NewRoot(cpu int) (*mem.Pmap_t, mem.PAddr, bool) {
	root, p_root, ok := mem.Physmem.Pmap_new(cpu)
	if !ok {
		return nil, 0, false
	}
	for i := range root {
		root[i] = 0
	}
	return root, p_root, true
}

// walk descends root to the leaf PTE for va. With create set, it allocates
// any missing intermediate table and appends its physical address to *made
// so a caller that must unwind a partially-completed maps() can free
// exactly the tables this walk contributed.
func walk(cpu int, root *mem.Pmap_t, va uintptr, create bool, made *[]mem.PAddr) (*mem.PAddr, defs.Err_t) {
	table := root
	for level := levels - 1; level > 0; level-- {
		idx := index(va, level)
		pte := &table[idx]
		if *pte&mem.PTE_P == 0 {
			if !create {
				return nil, 0
			}
			child, p_child, ok := mem.Physmem.Pmap_new(cpu)
			if !ok {
				return nil, defs.ENOMEM
			}
			for i := range child {
				child[i] = 0
			}
			*pte = p_child | mem.PTE_P | mem.PAddr(AttrWrite) | mem.PAddr(AttrUser)
			if made != nil {
				*made = append(*made, p_child)
			}
		}
		table = mem.Physmem.DmapPmap(*pte & mem.PTE_ADDR)
	}
	idx := index(va, 0)
	return &table[idx], 0
}

// Maps installs rng, mapped contiguously starting at phys, under root with
// the given attr. It fails with ALREADY_MAPPED if any leaf in rng is
// already present; every leaf this call wrote and every intermediate table
// it allocated are rolled back before returning, so a failed call leaves
// root exactly as it found it (spec.md §4.2's atomicity requirement).
func Maps(cpu int, root *mem.Pmap_t, rng Range, phys mem.PAddr, attr Attr) defs.Err_t {
	if !rng.aligned() {
		return defs.MISALIGNED
	}
	npg := rng.Pages()
	var madeTables []mem.PAddr
	var writtenVAs []uintptr

	rollback := func() {
		for _, va := range writtenVAs {
			if pte, _ := walk(cpu, root, va, false, nil); pte != nil {
				*pte = 0
			}
		}
		for i := 0; i < npg && len(madeTables) > 0; i++ {
			table := root
			for level := levels - 1; level > 0; level-- {
				pte := &table[index(rng.Start+uintptr(i)<<mem.PGSHIFT, level)]
				if *pte&mem.PTE_P == 0 {
					break
				}
				if slices.Contains(madeTables, *pte&mem.PTE_ADDR) {
					*pte = 0 // unlink a table this call created before it is freed
					break
				}
				table = mem.Physmem.DmapPmap(*pte & mem.PTE_ADDR)
			}
		}
		for _, p := range madeTables {
			mem.Physmem.DecPmap(cpu, p)
		}
	}

	for i := 0; i < npg; i++ {
		va := rng.Start + uintptr(i)<<mem.PGSHIFT
		pte, err := walk(cpu, root, va, true, &madeTables)
		if err != 0 {
			rollback()
			return err
		}
		if *pte&mem.PTE_P != 0 {
			rollback()
			return defs.ALREADY_MAPPED
		}
		*pte = (phys + mem.PAddr(i)<<mem.PGSHIFT) | mem.PAddr(attr) | mem.PTE_P
		writtenVAs = append(writtenVAs, va)
	}
	return 0
}

// Unmaps clears the mapping for rng. If every leaf in rng was present and
// formed a single physically-contiguous run, the second return value holds
// that run's starting physical address so the caller can free the backing
// frames; otherwise it is zero. needShootdown is true whenever at least one
// present leaf was cleared.
func Unmaps(cpu int, root *mem.Pmap_t, rng Range) (phys mem.PAddr, needShootdown bool, err defs.Err_t) {
	if !rng.aligned() {
		return 0, false, defs.MISALIGNED
	}
	npg := rng.Pages()
	contiguous := true
	anyPresent := false
	for i := 0; i < npg; i++ {
		va := rng.Start + uintptr(i)<<mem.PGSHIFT
		pte, _ := walk(cpu, root, va, false, nil)
		if pte == nil || *pte&mem.PTE_P == 0 {
			contiguous = false
			continue
		}
		p := *pte & mem.PTE_ADDR
		if !anyPresent {
			phys = p
		} else if contiguous && p != phys+mem.PAddr(i)<<mem.PGSHIFT {
			contiguous = false
		}
		*pte = 0
		anyPresent = true
		needShootdown = true
	}
	if !anyPresent {
		return 0, false, defs.NOT_MAPPED
	}
	if !contiguous {
		return 0, true, 0
	}
	return phys, true, 0
}

// Reprotect rewrites the permission/caching bits of every leaf in rng to
// attr, leaving the physical mapping untouched. It fails NOT_MAPPED if any
// page in rng has no leaf. needShootdown reports whether any leaf lost its
// write bit, the condition spec.md §4.2 requires a shootdown for; widening
// permissions needs none.
func Reprotect(cpu int, root *mem.Pmap_t, rng Range, attr Attr) (needShootdown bool, err defs.Err_t) {
	if !rng.aligned() {
		return false, defs.MISALIGNED
	}
	npg := rng.Pages()
	ptes := make([]*mem.PAddr, npg)
	for i := 0; i < npg; i++ {
		va := rng.Start + uintptr(i)<<mem.PGSHIFT
		pte, _ := walk(cpu, root, va, false, nil)
		if pte == nil || *pte&mem.PTE_P == 0 {
			return false, defs.NOT_MAPPED
		}
		ptes[i] = pte
	}
	for _, pte := range ptes {
		old := *pte
		if old&mem.PTE_W != 0 && mem.PAddr(attr)&mem.PTE_W == 0 {
			needShootdown = true
		}
		*pte = (old & mem.PTE_ADDR) | mem.PAddr(attr) | mem.PTE_P
	}
	return needShootdown, 0
}

// Lookup returns the raw leaf PTE value mapping va, or ok=false if va has
// no leaf at any level. Callers mask off PTE_ADDR/flag bits themselves.
func Lookup(cpu int, root *mem.Pmap_t, va uintptr) (pte mem.PAddr, ok bool) {
	p, _ := walk(cpu, root, va, false, nil)
	if p == nil || *p&mem.PTE_P == 0 {
		return 0, false
	}
	return *p, true
}

// FreeUserSubtree recursively frees every page-table page and leaf page
// reachable through the PML4 slots spanning userRange, without freeing root
// itself (the caller releases that through mem.Physmem.DecPmap once this
// returns). By convention a kernel-type space never shares a PML4 slot with
// a user range, so this never has to inspect individual leaves to tell the
// two apart — it just stays within the slots userRange's bounds name.
// Kernel-type spaces share their tables across duplicate() (spec.md §4.3)
// and so are never passed to this function.
func FreeUserSubtree(cpu int, root *mem.Pmap_t, userRange Range) {
	lo := index(userRange.Start, levels-1)
	hi := index(userRange.End-1, levels-1)
	for i := lo; i <= hi; i++ {
		pte := &root[i]
		if *pte&mem.PTE_P == 0 {
			continue
		}
		phys := *pte & mem.PTE_ADDR
		child := mem.Physmem.DmapPmap(phys)
		freeLevel(cpu, child, levels-2)
		mem.Physmem.DecPmap(cpu, phys)
		*pte = 0
	}
}

func freeLevel(cpu int, table *mem.Pmap_t, level int) {
	for i := range table {
		pte := &table[i]
		if *pte&mem.PTE_P == 0 {
			continue
		}
		phys := *pte & mem.PTE_ADDR
		if level > 0 {
			child := mem.Physmem.DmapPmap(phys)
			freeLevel(cpu, child, level-1)
			mem.Physmem.DecPmap(cpu, phys)
		} else {
			mem.Physmem.Refdown(cpu, phys)
		}
		*pte = 0
	}
}

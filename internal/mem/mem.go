// Package mem is the kernel's frame allocator and physical-page registry.
// It turns the firmware-supplied memory map into a flat arena of page
// frames, hands them out by reference count, and backs the direct map that
// every other package uses to read or write a frame's contents by physical
// address (spec.md §4.1).
//
// There is no real ring-0 physical memory behind this arena: the simulated
// kernel's "physical memory" is the Go slice itself, and a PAddr is a byte
// offset into it (page index << PGSHIFT, plus any in-page offset) rather
// than a hardware bus address. Everything built on top
// (paging, vm, handle tables) only ever goes through Dmap/Dmap8, so the
// substitution is invisible above this package.
package mem

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"h2o/internal/defs"
)

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PAddr is a physical address: a page-granular index into the simulated
/// frame arena, plus a byte offset within that page.
type PAddr uintptr

/// PGOFFSET masks offsets within a page.
const PGOFFSET PAddr = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK PAddr = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P PAddr = 1 << 0

/// PTE_W marks a page writable.
const PTE_W PAddr = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U PAddr = 1 << 2

/// PTE_G marks a global page.
const PTE_G PAddr = 1 << 8

/// PTE_PCD disables caching for the page.
const PTE_PCD PAddr = 1 << 4

/// PTE_PS indicates a large page.
const PTE_PS PAddr = 1 << 7

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR PAddr = PGMASK

/// MaxCPUs bounds the per-CPU free lists; H2O targets small multi-socket
/// x86_64 boxes, not a hyperscale fleet.
const MaxCPUs = 64

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints.
type Pg_t [512]int

/// Pmap_t is a page table page.
type Pmap_t [512]PAddr

/// Mmapinfo_t describes a mapping installed by an address space.
type Mmapinfo_t struct {
	Pg   *Pg_t
	Phys PAddr
}

/// Page_i abstracts physical page allocation. cpu identifies the calling
/// CPU's per-CPU free list; callers thread it through explicitly (there is
/// no thread-local "current CPU" in this kernel, see internal/sched.CPU).
type Page_i interface {
	Refpg_new(cpu int) (*Pg_t, PAddr, bool)
	Refpg_new_nozero(cpu int) (*Pg_t, PAddr, bool)
	Refcnt(PAddr) int
	Dmap(PAddr) *Pg_t
	Refup(PAddr)
	Refdown(cpu int, p PAddr) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func pg2pmap(pg *Pg_t) *Pmap_t {
	return (*Pmap_t)(unsafe.Pointer(pg))
}

func pg2pgn(p PAddr) uint32 {
	return uint32(p >> PGSHIFT)
}

/// Refaddr returns the refcount pointer and index for the given page.
func (phys *Physmem_t) Refaddr(p PAddr) (*int32, uint32) {
	idx := pg2pgn(p)
	return &phys.Pgs[idx].Refcnt, idx
}

/// Physpg_t describes a single physical page.
type Physpg_t struct {
	Refcnt int32
	// index into Pgs of the next page on the free list
	nexti uint32
	// bitmask where bit n is set if CPU with logical id n has this page
	// (a pmap) loaded into cr3
	Cpumask uint64
}

type pcpuphys_t struct {
	sync.Mutex
	freei   uint32
	freelen int32
	pmaps   uint32
	pmaplen int32
}

func (pc *pcpuphys_t) init() {
	pc.freei = ^uint32(0)
	pc.pmaps = ^uint32(0)
	pc.freelen, pc.pmaplen = 0, 0
}

/// Physmem_t is the frame allocator: one flat arena of page frames backing
/// every PAddr in the system, refcounted and handed out through per-CPU
/// free lists to keep the common allocation path lock-free.
type Physmem_t struct {
	arena []Pg_t
	Pgs   []Physpg_t
	// index into Pgs of first free page on the global free list
	freei   uint32
	freelen int32
	pmaps   uint32
	pmaplen int32
	sync.Mutex
	Dmapinit bool
	percpu   [MaxCPUs]pcpuphys_t
}

// returns true iff the page was added to the per-CPU free list
func (phys *Physmem_t) pcpuPut(cpu int, idx uint32, ispmap bool) bool {
	mine := &phys.percpu[cpu]
	var fl *uint32
	var cnt *int32
	if ispmap {
		if mine.pmaplen >= 20 {
			return false
		}
		fl = &mine.pmaps
		cnt = &mine.pmaplen
	} else {
		if mine.freelen >= 100 {
			return false
		}
		fl = &mine.freei
		cnt = &mine.freelen
	}
	phys.physInsert(fl, idx, mine, cnt)
	return true
}

func (phys *Physmem_t) pcpuNew(cpu int, ispmap bool) (*Pg_t, PAddr, bool) {
	mine := &phys.percpu[cpu]
	fl := &mine.freei
	cnt := &mine.freelen
	if ispmap {
		fl = &mine.pmaps
		cnt = &mine.pmaplen
	}
	return phys.physNew(fl, mine, cnt)
}

func (phys *Physmem_t) refpgNew(cpu int) (*Pg_t, PAddr, bool) {
	if pg, p_pg, ok := phys.pcpuNew(cpu, false); ok {
		return pg, p_pg, ok
	}
	return phys.physNew(&phys.freei, phys, &phys.freelen)
}

/// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg PAddr) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

/// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg PAddr) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("refup of freed page")
	}
}

// returns true if p_pg should be added to the free list and the index of the
// page in Pgs. A page at refcount 0 still has one owner (whoever took it from
// Refpg_new/Pmap_new); the decrement that takes it below 0 frees it.
func (phys *Physmem_t) refdec(p_pg PAddr) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < -1 {
		panic("negative refcount")
	}
	if c == -1 {
		atomic.StoreInt32(ref, 0)
		return true, idx
	}
	return false, idx
}

/// Refdown decrements the reference count of a page.
/// It returns true when the page is freed.
func (phys *Physmem_t) Refdown(cpu int, p_pg PAddr) bool {
	return phys.physPut(cpu, p_pg, false)
}

/// Refpg_new allocates a zeroed page and returns its mapping and address.
/// The returned page's refcount is not incremented.
func (phys *Physmem_t) Refpg_new(cpu int) (*Pg_t, PAddr, bool) {
	if !phys.Dmapinit {
		panic("refpg_new before Dmap_init")
	}
	pg, p_pg, ok := phys.refpgNew(cpu)
	if !ok {
		notifyOom(1)
		return nil, 0, false
	}
	for i := range pg {
		pg[i] = 0
	}
	return pg, p_pg, true
}

// notifyOom tells anything listening on OomCh that an allocation failed,
// without blocking the caller if nothing is listening.
func notifyOom(need int) {
	select {
	case OomCh <- OomMsg{Need: need, Resume: make(chan bool)}:
	default:
	}
}

/// Refpg_new_nozero allocates an uninitialised page.
func (phys *Physmem_t) Refpg_new_nozero(cpu int) (*Pg_t, PAddr, bool) {
	return phys.refpgNew(cpu)
}

/// Pmap_new allocates a new page-table page.
func (phys *Physmem_t) Pmap_new(cpu int) (*Pmap_t, PAddr, bool) {
	a, b, ok := phys.pcpuNew(cpu, true)
	if !ok {
		a, b, ok = phys.physNew(&phys.pmaps, phys, &phys.pmaplen)
	}
	if !ok {
		a, b, ok = phys.Refpg_new(cpu)
	}
	return pg2pmap(a), b, ok
}

func (phys *Physmem_t) physNew(fl *uint32, lock sync.Locker, cnt *int32) (*Pg_t, PAddr, bool) {
	if !phys.Dmapinit {
		panic("dmap not initialized")
	}

	var p_pg PAddr
	var ok bool
	lock.Lock()
	ff := *fl
	if ff != ^uint32(0) {
		p_pg = PAddr(ff) << PGSHIFT
		*fl = phys.Pgs[ff].nexti
		ok = true
		if phys.Pgs[ff].Refcnt < 0 {
			panic("negative refcount on free list")
		}
		*cnt--
		if *cnt < 0 {
			panic("free list count underflow")
		}
	}
	lock.Unlock()
	if ok {
		return phys.Dmap(p_pg), p_pg, true
	}
	return nil, 0, false
}

func (phys *Physmem_t) physInsert(fl *uint32, idx uint32, lock sync.Locker, cnt *int32) {
	lock.Lock()
	phys.Pgs[idx].nexti = *fl
	*fl = idx
	*cnt++
	lock.Unlock()
}

// returns true iff p_pg was added to a free list
func (phys *Physmem_t) physPut(cpu int, p_pg PAddr, ispmap bool) bool {
	if add, idx := phys.refdec(p_pg); add {
		if phys.pcpuPut(cpu, idx, ispmap) {
			return true
		}
		fl := &phys.freei
		cnt := &phys.freelen
		if ispmap {
			fl = &phys.pmaps
			cnt = &phys.pmaplen
		}
		phys.physInsert(fl, idx, phys, cnt)
		return true
	}
	return false
}

/// DecPmap decreases the reference count of a pmap, freeing it if no CPU
/// still has it loaded.
func (phys *Physmem_t) DecPmap(cpu int, p_pmap PAddr) {
	phys.physPut(cpu, p_pmap, true)
}

/// Dmap returns the simulated kernel mapping for the physical page
/// containing p: in a real kernel this is the direct-map window, here it is
/// simply the backing arena slot.
func (phys *Physmem_t) Dmap(p PAddr) *Pg_t {
	idx := pg2pgn(p)
	if int(idx) >= len(phys.arena) {
		panic("address outside simulated physical memory")
	}
	return &phys.arena[idx]
}

/// DmapV2p converts a pointer into the arena back to a physical address.
func (phys *Physmem_t) DmapV2p(v *Pg_t) PAddr {
	base := uintptr(unsafe.Pointer(&phys.arena[0]))
	va := uintptr(unsafe.Pointer(v))
	if va < base {
		panic("pointer not in the simulated direct map")
	}
	idx := (va - base) / uintptr(PGSIZE)
	return PAddr(idx) << PGSHIFT
}

/// Dmap8 returns a byte slice mapped to the given physical address.
func (phys *Physmem_t) Dmap8(p PAddr) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// DmapPmap returns the simulated mapping for p interpreted as a
/// page-table page, for callers (internal/paging) that walk page tables
/// directly rather than reading page contents.
func (phys *Physmem_t) DmapPmap(p PAddr) *Pmap_t {
	return pg2pmap(phys.Dmap(p))
}

/// Pgcount reports free page counts across CPUs, for the kernel's
/// diagnostic log.
func (phys *Physmem_t) Pgcount() (int, []int) {
	phys.Lock()
	r1 := int(phys.freelen)
	phys.Unlock()

	var pcpg []int
	for i := range phys.percpu {
		pc := &phys.percpu[i]
		pc.Lock()
		if pc.freelen != 0 {
			pcpg = append(pcpg, int(pc.freelen))
		}
		pc.Unlock()
	}
	return r1, pcpg
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// Phys_init builds the frame allocator from the firmware-supplied memory
/// map: every Free region's pages are threaded onto the global free list in
/// the order they're reported, and every other region is reserved (its
/// pages never enter a free list, so they can never be allocated).
///
/// There is no bootloader in this build to source a real map from, so the
/// kernel entry point constructs one from its own configured memory size
/// (see internal/boot); Phys_init itself is agnostic to where the map came
/// from.
func Phys_init(mmap []defs.MemMapEntry) *Physmem_t {
	var total uint64
	for _, e := range mmap {
		end := uint64(e.PhysStart)>>PGSHIFT + e.PageCount
		if end > total {
			total = end
		}
	}
	if total == 0 {
		panic("empty memory map")
	}

	phys := Physmem
	phys.arena = make([]Pg_t, total)
	phys.Pgs = make([]Physpg_t, total)
	for i := range phys.Pgs {
		phys.Pgs[i].Refcnt = -10 // reserved until proven Free below
	}

	phys.freei = ^uint32(0)
	phys.pmaps = ^uint32(0)
	var reserved, free uint64

	for _, e := range mmap {
		if e.Kind != defs.Free {
			reserved += e.PageCount
			continue
		}
		start := uint64(e.PhysStart) >> PGSHIFT
		for i := uint64(0); i < e.PageCount; i++ {
			idx := uint32(start + i)
			phys.Pgs[idx].Refcnt = 0
			phys.Pgs[idx].nexti = phys.freei
			phys.freei = idx
			phys.freelen++
			free++
		}
	}

	phys.Dmapinit = true
	for i := range phys.percpu {
		phys.percpu[i].init()
	}
	return phys
}

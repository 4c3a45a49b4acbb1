// Package vm implements AddrSpace, the per-task virtual address space
// manager (spec.md §4.3). Unlike the teacher's fault-driven, copy-on-write
// Vm_t, every AddrSpace operation here maps eagerly: alloc() backs and
// installs a range in one call rather than deferring to a page-fault
// handler, since H2O has no file-backed mappings to make lazy loading worth
// the complexity (there is no filesystem in scope at all). The free-range
// set, allocation record, and stack-block record spec.md §3 requires are
// all owned here; the page-table edits themselves go through
// internal/paging.
package vm

import (
	"sync"

	"h2o/internal/bounds"
	"h2o/internal/defs"
	"h2o/internal/mem"
	"h2o/internal/paging"
	"h2o/internal/ustr"
	"h2o/internal/util"
)

// SpaceType distinguishes the two duplicate() behaviours spec.md §4.3
// names: kernel-type spaces share state across duplicates, user-type
// spaces start fresh.
type SpaceType int

const (
	UserSpace SpaceType = iota
	KernelSpace
)

// MaxStackPages bounds how far a user stack may grow downward; the virtual
// window is reserved in full by InitStack, but only the initial pages are
// backed and mapped.
const MaxStackPages = 32

// AllocKind selects between the two ways spec.md §4.3's alloc() can be
// asked for a range.
type AllocKind int

const (
	// ByLayout lets AddrSpace pick the address via first-fit scan.
	ByLayout AllocKind = iota
	// ByVirt pins the allocation to an explicit caller-chosen range.
	ByVirt
)

// AllocRequest is alloc()'s `type` parameter.
type AllocRequest struct {
	Kind  AllocKind
	Size  uintptr
	Align uintptr
	Range paging.Range
}

// AllocFlags mirrors the flag bits spec.md §4.3 passes to alloc/modify.
type AllocFlags uint32

const (
	FlagWrite AllocFlags = 1 << iota
	FlagUser
	FlagZeroed
	FlagGlobal
	FlagNoCache
)

func (fl AllocFlags) attr() paging.Attr {
	var a paging.Attr
	if fl&FlagWrite != 0 {
		a |= paging.AttrWrite
	}
	if fl&FlagUser != 0 {
		a |= paging.AttrUser
	}
	if fl&FlagGlobal != 0 {
		a |= paging.AttrGlobal
	}
	if fl&FlagNoCache != 0 {
		a |= paging.AttrNoCache
	}
	return a
}

// Record is one outstanding allocation: spec.md §3's `LAddr -> Layout`.
// Owned records carry their own backing frames (freed on dealloc if
// requested); unowned records were mapped to a caller-supplied physical
// range (e.g. an MMIO window handed in by internal/res) that this space
// does not refcount.
type Record struct {
	Range paging.Range
	Pages []mem.PAddr
	Phys  mem.PAddr
	Owned bool
	Attr  paging.Attr
}

// Stack is the address space's stack-block record (spec.md §3). The full
// MaxStackPages window is reserved up front; Bottom tracks how far down it
// has actually been backed and mapped so far.
type Stack struct {
	Top       uintptr
	Bottom    uintptr
	MaxBottom uintptr
	Pages     []mem.PAddr
}

// AddrSpace is a task's virtual address space: a root page table plus the
// free-range set and allocation record spec.md §3 requires it to carry.
// The single writer invariant (§4.3) is enforced by the embedded mutex;
// every mutating method takes it for its whole duration.
type AddrSpace struct {
	sync.Mutex

	Kind   SpaceType
	Root   *mem.Pmap_t
	P_root mem.PAddr

	window paging.Range
	free   *FreeSet
	recs   map[uintptr]Record
	stack  Stack

	pgfltaken bool
}

// New creates an address space of kind, legal over window.
func New(cpu int, kind SpaceType, window paging.Range) (*AddrSpace, defs.Err_t) {
	root, p_root, ok := paging.NewRoot(cpu)
	if !ok {
		return nil, defs.ENOMEM
	}
	return &AddrSpace{
		Kind:   kind,
		Root:   root,
		P_root: p_root,
		window: window,
		free:   NewFreeSet(window),
		recs:   make(map[uintptr]Record),
	}, 0
}

// Lock_pmap acquires the address space mutex and marks that page-table
// manipulation is in progress.
func (as *AddrSpace) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the address space mutex.
func (as *AddrSpace) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if the address space mutex is not held.
func (as *AddrSpace) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

func pageRange(start uintptr, i int) paging.Range {
	s := start + uintptr(i)<<mem.PGSHIFT
	return paging.Range{Start: s, End: s + uintptr(mem.PGSIZE)}
}

// allocOwned backs rng with freshly allocated, zeroed frames and maps them
// page by page (frames need not be physically contiguous, unlike an
// explicit-phys allocation). On any failure it unwinds every page it had
// already mapped or allocated.
func allocOwned(cpu int, root *mem.Pmap_t, rng paging.Range, attr paging.Attr) ([]mem.PAddr, defs.Err_t) {
	npg := rng.Pages()
	pages := make([]mem.PAddr, npg)
	for i := 0; i < npg; i++ {
		_, p, ok := mem.Physmem.Refpg_new(cpu)
		if !ok {
			for j := 0; j < i; j++ {
				mem.Physmem.Refdown(cpu, pages[j])
			}
			return nil, defs.OOM
		}
		pages[i] = p
	}
	for i := 0; i < npg; i++ {
		if err := paging.Maps(cpu, root, pageRange(rng.Start, i), pages[i], attr); err != 0 {
			for k := 0; k < i; k++ {
				paging.Unmaps(cpu, root, pageRange(rng.Start, k))
			}
			for _, p := range pages {
				mem.Physmem.Refdown(cpu, p)
			}
			return nil, err
		}
	}
	return pages, 0
}

// Alloc reserves a range from the free set, backs it (unless phys is
// supplied), maps it, and records it (spec.md §4.3).
func (as *AddrSpace) Alloc(cpu int, req AllocRequest, phys *mem.PAddr, flags AllocFlags) (paging.Range, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	var rng paging.Range
	switch req.Kind {
	case ByLayout:
		if req.Size == 0 || req.Align == 0 || req.Align&(req.Align-1) != 0 {
			return paging.Range{}, defs.MISALIGNED
		}
		size := util.Roundup(req.Size, uintptr(mem.PGSIZE))
		r, ok := as.free.FirstFit(size, req.Align)
		if !ok {
			return paging.Range{}, defs.OOM
		}
		rng = r
	case ByVirt:
		rng = req.Range
		if rng.Start >= rng.End || rng.Start&uintptr(mem.PGOFFSET) != 0 || rng.End&uintptr(mem.PGOFFSET) != 0 {
			return paging.Range{}, defs.MISALIGNED
		}
		if !as.free.Contains(rng) {
			return paging.Range{}, defs.BADRANGE
		}
	default:
		return paging.Range{}, defs.EINVAL
	}

	attr := flags.attr()
	var rec Record
	if phys != nil {
		if err := paging.Maps(cpu, as.Root, rng, *phys, attr); err != 0 {
			return paging.Range{}, err
		}
		rec = Record{Range: rng, Phys: *phys, Attr: attr}
	} else {
		pages, err := allocOwned(cpu, as.Root, rng, attr)
		if err != 0 {
			return paging.Range{}, err
		}
		rec = Record{Range: rng, Pages: pages, Owned: true, Attr: attr}
	}

	as.free.Take(rng)
	as.recs[rng.Start] = rec
	return rng, 0
}

// Modify calls reprotect on an existing record's range.
func (as *AddrSpace) Modify(cpu int, rng paging.Range, flags AllocFlags) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	rec, ok := as.recs[rng.Start]
	if !ok || rec.Range != rng {
		return defs.BADRANGE
	}
	attr := flags.attr()
	shoot, err := paging.Reprotect(cpu, as.Root, rng, attr)
	if err != 0 {
		return err
	}
	rec.Attr = attr
	as.recs[rng.Start] = rec
	if shoot {
		as.shootdown(rng)
	}
	return 0
}

// Dealloc verifies rng matches a record exactly, unmaps it, frees its
// backing if requested and owned, and re-inserts rng into the free set.
func (as *AddrSpace) Dealloc(cpu int, rng paging.Range, freePhys bool) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	rec, ok := as.recs[rng.Start]
	if !ok || rec.Range != rng {
		return defs.BADRANGE
	}
	_, shoot, err := paging.Unmaps(cpu, as.Root, rng)
	if err != 0 {
		return err
	}
	if freePhys && rec.Owned {
		for _, p := range rec.Pages {
			mem.Physmem.Refdown(cpu, p)
		}
	}
	delete(as.recs, rng.Start)
	as.free.Give(rng)
	if shoot {
		as.shootdown(rng)
	}
	return 0
}

// InitStack reserves the full stack window at the top of the space and
// backs/maps its initial size bytes.
func (as *AddrSpace) InitStack(cpu int, size uintptr) (paging.Range, defs.Err_t) {
	as.Lock()
	defer as.Unlock()
	if as.stack.Top != 0 {
		return paging.Range{}, defs.EALREADY
	}
	top := as.window.End
	maxWindow := paging.Range{Start: top - uintptr(MaxStackPages)*uintptr(mem.PGSIZE), End: top}
	if !as.free.Contains(maxWindow) {
		return paging.Range{}, defs.BADRANGE
	}

	initPages := util.Roundup(size, uintptr(mem.PGSIZE)) / uintptr(mem.PGSIZE)
	if initPages == 0 || initPages > MaxStackPages {
		return paging.Range{}, defs.EINVAL
	}
	backedStart := top - initPages*uintptr(mem.PGSIZE)
	backed := paging.Range{Start: backedStart, End: top}

	pages, err := allocOwned(cpu, as.Root, backed, paging.AttrWrite|paging.AttrUser)
	if err != 0 {
		return paging.Range{}, err
	}
	as.free.Take(maxWindow)
	as.stack = Stack{Top: top, Bottom: backedStart, MaxBottom: maxWindow.Start, Pages: pages}
	return backed, 0
}

// GrowStack extends the stack downward to cover faultAddr, rounded down to
// a page boundary. It fails BADRANGE if that would cross the reserved
// window's bound.
func (as *AddrSpace) GrowStack(cpu int, faultAddr uintptr) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	if as.stack.Top == 0 {
		return defs.EINVAL
	}
	newBottom := util.Rounddown(faultAddr, uintptr(mem.PGSIZE))
	if newBottom >= as.stack.Bottom {
		return 0
	}
	if newBottom < as.stack.MaxBottom {
		return defs.BADRANGE
	}
	grow := paging.Range{Start: newBottom, End: as.stack.Bottom}
	pages, err := allocOwned(cpu, as.Root, grow, paging.AttrWrite|paging.AttrUser)
	if err != 0 {
		return err
	}
	as.stack.Pages = append(pages, as.stack.Pages...)
	as.stack.Bottom = newBottom
	return 0
}

// ClearStack unmaps and frees the whole stack and its reserved window.
func (as *AddrSpace) ClearStack(cpu int) {
	as.Lock()
	defer as.Unlock()
	if as.stack.Top == 0 {
		return
	}
	paging.Unmaps(cpu, as.Root, paging.Range{Start: as.stack.Bottom, End: as.stack.Top})
	for _, p := range as.stack.Pages {
		mem.Physmem.Refdown(cpu, p)
	}
	as.free.Give(paging.Range{Start: as.stack.MaxBottom, End: as.stack.Top})
	as.stack = Stack{}
}

// Load returns the root table and its physical address for internal/sched
// to install as the current CPU's active address space. There is no real
// CR3 here; "loading" a space is handing its root to the scheduler.
func (as *AddrSpace) Load() (*mem.Pmap_t, mem.PAddr) {
	return as.Root, as.P_root
}

// Duplicate produces a new address space of newType. A kernel-type space
// shares its free set and record map with the duplicate, so every kernel
// task observes the same kernel mappings; a user-type space starts fresh
// over the same window, with a free set covering all of it and no records.
func (as *AddrSpace) Duplicate(cpu int, newType SpaceType) (*AddrSpace, defs.Err_t) {
	as.Lock()
	defer as.Unlock()

	if as.Kind != KernelSpace {
		return New(cpu, newType, as.window)
	}

	root, p_root, ok := paging.NewRoot(cpu)
	if !ok {
		return nil, defs.ENOMEM
	}
	for i := range as.Root {
		root[i] = as.Root[i]
	}
	return &AddrSpace{
		Kind:   newType,
		Root:   root,
		P_root: p_root,
		window: as.window,
		free:   as.free,
		recs:   as.recs,
	}, 0
}

// Destroy releases every record's backing frames, the stack, and the
// page-table pages beneath root (not root itself — the caller releases
// that through mem.Physmem.DecPmap once it has also removed this space
// from wherever a CPU might still reach it). A shared kernel-type space is
// never destroyed by an individual duplicate dying.
func (as *AddrSpace) Destroy(cpu int) {
	as.Lock()
	defer as.Unlock()
	if as.Kind == KernelSpace {
		return
	}
	for _, rec := range as.recs {
		paging.Unmaps(cpu, as.Root, rec.Range)
		if rec.Owned {
			for _, p := range rec.Pages {
				mem.Physmem.Refdown(cpu, p)
			}
		}
	}
	if as.stack.Top != 0 {
		paging.Unmaps(cpu, as.Root, paging.Range{Start: as.stack.Bottom, End: as.stack.Top})
		for _, p := range as.stack.Pages {
			mem.Physmem.Refdown(cpu, p)
		}
	}
	paging.FreeUserSubtree(cpu, as.Root, as.window)
	as.recs = nil
	as.free = nil
}

// shootdownFn is installed once by internal/boot at boot: it must reach
// every CPU that may have p_root loaded and invalidate rng there, typically
// via a local invlpg plus an IPI broadcast (spec.md §4.2). Left nil it is a
// no-op, which is correct before any other core has booted.
var shootdownFn func(p_root mem.PAddr, rng paging.Range)

// SetShootdownBroadcaster installs the callback AddrSpace uses to trigger a
// TLB shootdown after an edit that removes or downgrades a mapping.
func SetShootdownBroadcaster(f func(p_root mem.PAddr, rng paging.Range)) {
	shootdownFn = f
}

func (as *AddrSpace) shootdown(rng paging.Range) {
	if shootdownFn != nil {
		shootdownFn(as.P_root, rng)
	}
}

func (as *AddrSpace) findRecord(va uintptr) (Record, bool) {
	for _, r := range as.recs {
		if r.Range.Start <= va && va < r.Range.End {
			return r, true
		}
	}
	if as.stack.Top != 0 && as.stack.Bottom <= va && va < as.stack.Top {
		return Record{Range: paging.Range{Start: as.stack.Bottom, End: as.stack.Top}, Pages: as.stack.Pages, Owned: true}, true
	}
	return Record{}, false
}

// Userdmap8_inner returns a slice mapping of the user address at va. When
// k2u is true the caller intends to write into it from the kernel, which
// fails EFAULT against a read-only record.
func (as *AddrSpace) Userdmap8_inner(cpu int, va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	uva := uintptr(va)
	if _, ok := as.findRecord(uva); !ok {
		return nil, defs.EFAULT
	}
	pte, ok := paging.Lookup(cpu, as.Root, uva)
	if !ok {
		return nil, defs.EFAULT
	}
	if k2u && pte&mem.PAddr(paging.AttrWrite) == 0 {
		return nil, defs.EFAULT
	}
	phys := (pte & mem.PTE_ADDR) | (mem.PAddr(uva) & mem.PGOFFSET)
	return mem.Physmem.Dmap8(phys), 0
}

func (as *AddrSpace) userdmap8(cpu int, va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(cpu, va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// Userdmap8r maps the user address for reading.
func (as *AddrSpace) Userdmap8r(cpu int, va int) ([]uint8, defs.Err_t) {
	return as.userdmap8(cpu, va, false)
}

func (as *AddrSpace) usermapped(cpu int, va int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	_, ok := as.findRecord(uintptr(va))
	return ok
}

// Userreadn reads n (<=8) bytes from the user address va, routed through a
// pooled Userbuf_t the same way the bulk Uioread/Uiowrite copy-in/out path
// is (internal/syscall's sysObjFeat call site reads its handle argument
// this way).
func (as *AddrSpace) Userreadn(cpu, va, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("large n")
	}
	ub := as.Mkuserbuf(va, n)
	defer FreeUserbuf(ub)

	buf := make([]uint8, n)
	got, err := ub.Uioread(cpu, buf)
	if err != 0 {
		return 0, err
	}
	if got < n {
		return 0, defs.EFAULT
	}
	return util.Readn(buf, n, 0), 0
}

// Userwriten writes n (<=8) bytes of val to the user address va.
func (as *AddrSpace) Userwriten(cpu, va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(cpu, va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// Userstr copies a NUL-terminated string from user space, up to lenmax
// bytes, routed through a pooled Userbuf_t over the full lenmax window
// (internal/syscall's sysTaskFn and sysLog call sites read their string
// arguments this way) rather than walking dmap chunks by hand.
func (as *AddrSpace) Userstr(cpu, uva, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	ub := as.Mkuserbuf(uva, lenmax)
	defer FreeUserbuf(ub)

	buf := make([]uint8, lenmax)
	got, err := ub.Uioread(cpu, buf)
	for i := 0; i < got; i++ {
		if buf[i] == 0 {
			s := ustr.MkUstr()
			s = append(s, buf[:i]...)
			return s, 0
		}
	}
	if err != 0 {
		return nil, err
	}
	return nil, defs.ERANGE
}

// K2user copies src into user memory at uva.
func (as *AddrSpace) K2user(cpu int, src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.K2userInner(cpu, src, uva)
	as.Unlock_pmap()
	return ret
}

func (as *AddrSpace) K2userInner(cpu int, src []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	if !bounds.ReserveNoblock(bounds.AddrSpaceK2UserInner) {
		return defs.ENOMEM
	}
	defer bounds.Release(bounds.AddrSpaceK2UserInner)

	cnt := 0
	l := len(src)
	for cnt != l {
		dst, err := as.Userdmap8_inner(cpu, uva+cnt, true)
		if err != 0 {
			return err
		}
		ub := l - cnt
		if ub > len(dst) {
			ub = len(dst)
		}
		copy(dst, src[cnt:cnt+ub])
		cnt += ub
	}
	return 0
}

// User2k copies len(dst) bytes from user memory at uva into dst.
func (as *AddrSpace) User2k(cpu int, dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	ret := as.User2kInner(cpu, dst, uva)
	as.Unlock_pmap()
	return ret
}

func (as *AddrSpace) User2kInner(cpu int, dst []uint8, uva int) defs.Err_t {
	as.Lockassert_pmap()
	if !bounds.ReserveNoblock(bounds.AddrSpaceUser2KInner) {
		return defs.ENOMEM
	}
	defer bounds.Release(bounds.AddrSpaceUser2KInner)

	cnt := 0
	for len(dst) != 0 {
		src, err := as.Userdmap8_inner(cpu, uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// Mkuserbuf takes a Userbuf_t from Ubpool and initializes it to reference
// user memory starting at userva. Pair with FreeUserbuf once done.
func (as *AddrSpace) Mkuserbuf(userva, len int) *Userbuf_t {
	return getUserbuf(as, userva, len)
}

// FreeUserbuf returns ub to Ubpool.
func FreeUserbuf(ub *Userbuf_t) {
	putUserbuf(ub)
}

// Package res implements Resource, the hierarchical interval reservation
// that backs every MMIO window, port I/O range, and global system
// interrupt H2O hands a task (spec.md §3 "Resource", §4.5). A task can only
// sub-allocate out of a Resource it already holds a handle to, so the tree
// of reservations mirrors the tree of delegation: a child's range is always
// contained in its parent's, and two siblings can never overlap.
package res

import (
	"sync"

	"h2o/internal/defs"
	"h2o/internal/limits"
)

// Magic distinguishes resource trees of different kinds (MMIO vs PIO vs
// GSI) so a handle for one can never be mistaken for, or sub-allocated
// against, another — the same role sv_call::Feature checks play one level
// up, but at the type level instead of the capability level.
type Magic uint64

const (
	MagicMem Magic = iota + 1
	MagicPIO
	MagicGSI
)

func magicFor(kind defs.ResKind) Magic {
	switch kind {
	case defs.ResMem:
		return MagicMem
	case defs.ResPIO:
		return MagicPIO
	case defs.ResGSI:
		return MagicGSI
	default:
		panic("unknown resource kind")
	}
}

// Range is a half-open interval [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

func (r Range) contains(o Range) bool {
	return r.Start <= o.Start && o.End <= r.End
}

func (r Range) overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

func (r Range) empty() bool {
	return r.Start >= r.End
}

// Resource is one node in a reservation tree. The root of a tree is handed
// to the kernel's boot task from the firmware-reported resource map
// (internal/boot); every other node is produced by an Allocate call against
// an ancestor.
type Resource struct {
	magic  Magic
	kind   defs.ResKind
	rng    Range
	parent *Resource

	mu       sync.Mutex
	children []Range // occupied sub-ranges, kept sorted by Start
	released bool
}

// NewRoot creates the top-level Resource for a kind, covering rng. Exactly
// one root should exist per kind, constructed during boot.
func NewRoot(kind defs.ResKind, rng Range) *Resource {
	return &Resource{magic: magicFor(kind), kind: kind, rng: rng}
}

// Kind reports which resource namespace this node belongs to.
func (r *Resource) Kind() defs.ResKind {
	return r.kind
}

// Range returns the interval this node reserves.
func (r *Resource) Range() Range {
	return r.rng
}

// Allocate reserves rng as a child of r, returning a new Resource the
// caller can sub-allocate from in turn, or further restrict and hand to
// another task. It fails with EINVAL if rng is not fully contained in r's
// own range, and EEXIST if it overlaps a sibling already reserved here
// (spec.md §13: duplicate/overlapping ranges are rejected, not merged).
func (r *Resource) Allocate(rng Range) (*Resource, defs.Err_t) {
	if rng.empty() || !r.rng.contains(rng) {
		return nil, defs.EINVAL
	}

	if !limits.Syslimit.Resources.Take() {
		return nil, defs.ERANGE
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		limits.Syslimit.Resources.Give()
		return nil, defs.ENOENT
	}

	i := r.insertionPoint(rng.Start)
	if i > 0 && r.children[i-1].overlaps(rng) {
		limits.Syslimit.Resources.Give()
		return nil, defs.EEXIST
	}
	if i < len(r.children) && r.children[i].overlaps(rng) {
		limits.Syslimit.Resources.Give()
		return nil, defs.EEXIST
	}

	r.children = append(r.children, Range{})
	copy(r.children[i+1:], r.children[i:])
	r.children[i] = rng

	return &Resource{magic: r.magic, kind: r.kind, rng: rng, parent: r}, 0
}

func (r *Resource) insertionPoint(start uint64) int {
	lo, hi := 0, len(r.children)
	for lo < hi {
		mid := (lo + hi) / 2
		if r.children[mid].Start < start {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// MagicEq reports whether r and other belong to the same resource tree,
// the check a syscall makes before trusting a handle's range as
// comparable to another's.
func (r *Resource) MagicEq(other *Resource) bool {
	return r.magic == other.magic
}

// Release removes r's reservation from its parent, freeing the interval
// for a future Allocate. Releasing a node with outstanding children of its
// own is the caller's responsibility to avoid; Release does not cascade.
func (r *Resource) Release() {
	if r.parent == nil {
		return
	}
	p := r.parent
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.released {
		return
	}
	i := p.insertionPoint(r.rng.Start)
	if i < len(p.children) && p.children[i] == r.rng {
		p.children = append(p.children[:i], p.children[i+1:]...)
		limits.Syslimit.Resources.Give()
	}
	r.released = true
}

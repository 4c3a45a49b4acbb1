// Package handle implements H2O's per-task handle/capability table (spec.md
// §3 "Handle", §4.6 "Handle map"): opaque 32-bit identifiers bound to
// reference-counted kernel objects. The arena itself follows the teacher's
// free-list-threaded-through-a-slice idiom (internal/mem's frame arena,
// biscuit's msi.go vector set); the XOR-obscured encoding and generation
// bookkeeping are this package's own, since no pack repo ships a capability
// table.
package handle

import (
	"math/rand/v2"
	"sync"

	"h2o/internal/defs"
	"h2o/internal/limits"
)

// Handle is the opaque 32-bit capability identifier spec.md §3 describes:
// an 18-bit arena index and a 14-bit generation, XORed with the owning
// table's random mix.
type Handle uint32

const (
	idxBits  = 18
	genBits  = 14
	idxMask  = 1<<idxBits - 1
	genMask  = 1<<genBits - 1
	maxSlots = 1 << idxBits
)

// Features is the capability bitset an Object carries.
type Features uint32

const (
	Read Features = 1 << iota
	Write
	Send
	Sync
	Execute
)

// Has reports whether f contains every bit in want.
func (f Features) Has(want Features) bool {
	return f&want == want
}

// Peerer is implemented by an Object's Data when that object has a
// designated peer (e.g. the other end of a channel) — send() consults it to
// reject sending an endpoint down itself (spec.md §4.6).
type Peerer interface {
	PeerHandle() Handle
}

// Clonable is implemented by an Object's Data when the object reports
// itself safe to duplicate (spec.md §4.6 clone()).
type Clonable interface {
	Clone() any
}

// Object is what a Handle resolves to: the features it was granted, an
// optional wait event, and the underlying kernel data.
type Object struct {
	Features Features
	Event    any
	Data     any
}

type slot struct {
	gen  uint32
	obj  *Object
	next uint32 // valid only while obj == nil; indexes the next free slot
}

const noFree = ^uint32(0)

// Table is one task's handle arena. Every multi-step operation takes the
// table's lock for its whole duration, per spec.md §4.6's "all multi-step
// operations take the map's lock under pre-emption disable" rule (the
// pre-emption-disable half is internal/sched's job once a current task
// exists; this lock alone is what makes the table itself safe).
type Table struct {
	sync.Mutex
	mix      uint32
	slots    []slot
	freeHead uint32
}

// New creates an empty table with a freshly randomized mix.
func New() *Table {
	return &Table{mix: rand.Uint32(), freeHead: noFree}
}

func encode(idx, gen, mix uint32) Handle {
	return Handle((((gen & genMask) << idxBits) | (idx & idxMask)) ^ mix)
}

// allocSlot pops a slot off the free list, or grows the arena, and returns
// its index. Caller holds t's lock and must set slots[idx].obj itself.
func (t *Table) allocSlot() (uint32, defs.Err_t) {
	if t.freeHead != noFree {
		idx := t.freeHead
		t.freeHead = t.slots[idx].next
		return idx, 0
	}
	if len(t.slots) >= maxSlots {
		return 0, defs.ERANGE
	}
	idx := uint32(len(t.slots))
	t.slots = append(t.slots, slot{})
	return idx, 0
}

func (t *Table) freeSlot(idx uint32) {
	t.slots[idx].obj = nil
	t.slots[idx].gen++
	t.slots[idx].next = t.freeHead
	t.freeHead = idx
}

// decodeLocked resolves h to its arena index, or EINVAL if stale/forged.
func (t *Table) decodeLocked(h Handle) (uint32, defs.Err_t) {
	raw := uint32(h) ^ t.mix
	idx := raw & idxMask
	gen := (raw >> idxBits) & genMask
	if int(idx) >= len(t.slots) {
		return 0, defs.EINVAL
	}
	s := &t.slots[idx]
	if s.obj == nil || s.gen&genMask != gen {
		return 0, defs.EINVAL
	}
	return idx, 0
}

// Insert allocates an arena slot for obj and returns its handle. It fails
// ERANGE once every one of the 262144 index slots is live at once, or once
// the system-wide handle ceiling (limits.Syslimit.Handles) is exhausted.
func (t *Table) Insert(obj *Object) (Handle, defs.Err_t) {
	if !limits.Syslimit.Handles.Take() {
		return 0, defs.ERANGE
	}
	t.Lock()
	defer t.Unlock()
	idx, err := t.allocSlot()
	if err != 0 {
		limits.Syslimit.Handles.Give()
		return 0, err
	}
	t.slots[idx].obj = obj
	return encode(idx, t.slots[idx].gen, t.mix), 0
}

// Decode resolves h to its live Object, or EINVAL if h no longer names one.
func (t *Table) Decode(h Handle) (*Object, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	idx, err := t.decodeLocked(h)
	if err != 0 {
		return nil, err
	}
	return t.slots[idx].obj, 0
}

// Remove pulls the object named by h out of the table for the caller to
// dispose of, bumping the slot's generation so any stale copy of h decodes
// to EINVAL even after the slot is reused.
func (t *Table) Remove(h Handle) (*Object, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	idx, err := t.decodeLocked(h)
	if err != 0 {
		return nil, err
	}
	obj := t.slots[idx].obj
	t.freeSlot(idx)
	limits.Syslimit.Handles.Give()
	return obj, 0
}

// Clone duplicates h's handle onto a new arena slot referencing a copy of
// the object, succeeding only if the object's Data reports itself Clonable.
func (t *Table) Clone(h Handle) (Handle, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	idx, err := t.decodeLocked(h)
	if err != 0 {
		return 0, err
	}
	orig := t.slots[idx].obj
	c, ok := orig.Data.(Clonable)
	if !ok {
		return 0, defs.ETYPE
	}
	dup := &Object{Features: orig.Features, Event: orig.Event, Data: c.Clone()}

	if !limits.Syslimit.Handles.Take() {
		return 0, defs.ERANGE
	}
	nidx, err := t.allocSlot()
	if err != 0 {
		limits.Syslimit.Handles.Give()
		return 0, err
	}
	t.slots[nidx].obj = dup
	return encode(nidx, t.slots[nidx].gen, t.mix), 0
}

// Send detaches the listed handles' objects into a portable list for
// Receive to re-attach elsewhere, per spec.md §4.6: every object must carry
// the Send feature, and none may be the peer of srcChannel (which would let
// a channel endpoint ship itself down itself and deadlock the receiver
// forever).
func (t *Table) Send(hs []Handle, srcChannel Handle) ([]*Object, defs.Err_t) {
	t.Lock()
	defer t.Unlock()

	var peer Handle
	if srcChannel != 0 {
		cidx, err := t.decodeLocked(srcChannel)
		if err != 0 {
			return nil, err
		}
		if p, ok := t.slots[cidx].obj.Data.(Peerer); ok {
			peer = p.PeerHandle()
		}
	}

	objs := make([]*Object, 0, len(hs))
	idxs := make([]uint32, 0, len(hs))
	seen := make(map[uint32]bool, len(hs))
	for _, h := range hs {
		if peer != 0 && h == peer {
			return nil, defs.EPERM
		}
		idx, err := t.decodeLocked(h)
		if err != 0 {
			return nil, err
		}
		if !t.slots[idx].obj.Features.Has(Send) {
			return nil, defs.EPERM
		}
		if seen[idx] {
			return nil, defs.EINVAL
		}
		seen[idx] = true
		objs = append(objs, t.slots[idx].obj)
		idxs = append(idxs, idx)
	}
	for _, idx := range idxs {
		t.freeSlot(idx)
		limits.Syslimit.Handles.Give()
	}
	return objs, 0
}

// Receive re-attaches a list of objects (produced by another table's Send)
// into this table, returning their new handles in insertion order.
func (t *Table) Receive(objs []*Object) ([]Handle, defs.Err_t) {
	t.Lock()
	defer t.Unlock()

	out := make([]Handle, 0, len(objs))
	for _, obj := range objs {
		if !limits.Syslimit.Handles.Take() {
			return out, defs.ERANGE
		}
		idx, err := t.allocSlot()
		if err != 0 {
			limits.Syslimit.Handles.Give()
			return out, err
		}
		t.slots[idx].obj = obj
		out = append(out, encode(idx, t.slots[idx].gen, t.mix))
	}
	return out, 0
}

package task

import (
	"sync"

	"h2o/internal/defs"
)

// TidAllocator hands out Tid_t values from 1..=TIDMAX and never reissues one
// while it's checked out, mirroring the teacher's free-list-over-a-slice
// idiom (internal/handle's slot arena, internal/mem's frame free list)
// rather than the original's Mutex<IdAllocator> bitmap.
type TidAllocator struct {
	mu   sync.Mutex
	next defs.Tid_t
	free []defs.Tid_t
	out  map[defs.Tid_t]bool
}

// NewTidAllocator creates an allocator starting at tid 1; tid 0 is reserved
// for the root/boot task and is never handed out by Allocate.
func NewTidAllocator() *TidAllocator {
	return &TidAllocator{next: 1, out: make(map[defs.Tid_t]bool)}
}

// Allocate returns an unused Tid_t, preferring one freed by Deallocate over
// growing the high-water mark, or false if the pool (spec.md §3 NR_TASKS)
// is exhausted.
func (a *TidAllocator) Allocate() (defs.Tid_t, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n := len(a.free); n > 0 {
		tid := a.free[n-1]
		a.free = a.free[:n-1]
		a.out[tid] = true
		return tid, true
	}
	if a.next > defs.TIDMAX {
		return 0, false
	}
	tid := a.next
	a.next++
	a.out[tid] = true
	return tid, true
}

// Deallocate returns tid to the pool. It is a no-op if tid isn't currently
// checked out, matching the teacher's tolerance of a double-free on a
// task that's already been reaped.
func (a *TidAllocator) Deallocate(tid defs.Tid_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.out[tid] {
		return
	}
	delete(a.out, tid)
	a.free = append(a.free, tid)
}

// Live reports whether tid is currently checked out.
func (a *TidAllocator) Live(tid defs.Tid_t) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.out[tid]
}

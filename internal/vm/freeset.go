package vm

import (
	"h2o/internal/paging"
	"h2o/internal/util"
)

// FreeSet is the sorted, disjoint, coalesced set of unallocated ranges
// within an address space's legal window (spec.md §3 "Address space"
// invariant: ranges in the free set are disjoint, non-empty, sorted, and
// coalesced; free plus recorded ranges equals the whole window). It is not
// safe for concurrent use; AddrSpace's own mutex serializes every caller.
type FreeSet struct {
	ranges []paging.Range
}

// NewFreeSet creates a set with the entire window free.
func NewFreeSet(window paging.Range) *FreeSet {
	return &FreeSet{ranges: []paging.Range{window}}
}

// FirstFit scans for the first free range that can hold size bytes aligned
// to align, and returns the sub-range it would occupy.
func (f *FreeSet) FirstFit(size, align uintptr) (paging.Range, bool) {
	for _, r := range f.ranges {
		start := util.Roundup(r.Start, align)
		if start < r.Start {
			continue
		}
		if start+size <= r.End {
			return paging.Range{Start: start, End: start + size}, true
		}
	}
	return paging.Range{}, false
}

// Contains reports whether rng lies entirely within a single free range
// (used to validate an explicit Virt(range) allocation request).
func (f *FreeSet) Contains(rng paging.Range) bool {
	for _, r := range f.ranges {
		if r.Start <= rng.Start && rng.End <= r.End {
			return true
		}
	}
	return false
}

// Take removes rng from the free set, splitting the range that contained
// it. It panics if rng is not fully free — callers must Contains first.
func (f *FreeSet) Take(rng paging.Range) {
	for i, r := range f.ranges {
		if r.Start <= rng.Start && rng.End <= r.End {
			var repl []paging.Range
			if r.Start < rng.Start {
				repl = append(repl, paging.Range{Start: r.Start, End: rng.Start})
			}
			if rng.End < r.End {
				repl = append(repl, paging.Range{Start: rng.End, End: r.End})
			}
			f.ranges = append(f.ranges[:i], append(repl, f.ranges[i+1:]...)...)
			return
		}
	}
	panic("Take: range not free")
}

// Give returns rng to the free set, coalescing it with an adjacent free
// range on either side if one exists.
func (f *FreeSet) Give(rng paging.Range) {
	i := 0
	for i < len(f.ranges) && f.ranges[i].Start < rng.Start {
		i++
	}
	merged := rng
	lo, hi := i, i
	if i > 0 && f.ranges[i-1].End == merged.Start {
		merged.Start = f.ranges[i-1].Start
		lo = i - 1
	}
	if i < len(f.ranges) && f.ranges[i].Start == merged.End {
		merged.End = f.ranges[i].End
		hi = i + 1
	}
	tail := append([]paging.Range{}, f.ranges[hi:]...)
	f.ranges = append(append(f.ranges[:lo], merged), tail...)
}

package apic

import "sync"

// Vector is an interrupt vector number (0-255) in the IDT.
type Vector uint8

// The low 32 vectors are reserved for CPU exceptions (spec.md §4.10);
// 32-55 are reserved for device IRQs routed through internal/res. What
// remains is available for the scheduler's own IPIs (reschedule, TLB
// shootdown, timer) and the spurious/error vectors every Lapic needs.
var vecs = struct {
	sync.Mutex
	avail map[Vector]bool
}{
	avail: func() map[Vector]bool {
		m := make(map[Vector]bool, 200)
		for v := 56; v < 256; v++ {
			m[Vector(v)] = true
		}
		return m
	}(),
}

// Alloc reserves an available interrupt vector.
func Alloc() Vector {
	vecs.Lock()
	defer vecs.Unlock()

	for v := range vecs.avail {
		delete(vecs.avail, v)
		return v
	}
	panic("no more interrupt vectors")
}

// Free releases a previously allocated vector back to the pool.
func Free(v Vector) {
	vecs.Lock()
	defer vecs.Unlock()

	if vecs.avail[v] {
		panic("double free of interrupt vector")
	}
	vecs.avail[v] = true
}

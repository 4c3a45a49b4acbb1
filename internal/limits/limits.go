// Package limits tracks the system-wide ceilings a kernel build is
// configured with: maximum concurrent tasks, handle-arena slots, and
// resource-tree records. Each is a Sysatomic_t so a task or resource
// allocator can reserve and release capacity without a lock.
package limits

import "unsafe"
import "sync/atomic"

/// Lhits counts limit hits, for diagnostics. Updated with atomic.AddInt64
/// since Taken() is called concurrently from every CPU's allocation path.
var Lhits int64

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Syslimit_t tracks system wide resource limits.
type Syslimit_t struct {
	// protected atomically; decremented on task creation, incremented on reap
	Tasks Sysatomic_t
	// protected atomically; decremented on handle insert, incremented on remove
	Handles Sysatomic_t
	// protected atomically; decremented on resource reservation
	Resources Sysatomic_t
	// protected atomically; decremented on wait-cell allocation
	WaitCells Sysatomic_t
}

/// Syslimit describes the configured system wide limits.
var Syslimit *Syslimit_t = MkSysLimit()

/// MkSysLimit returns a pointer to the default set of limits.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Tasks:     65536, // defs.NR_TASKS
		Handles:   262144, // defs.HandleIndexMax
		Resources: 4096,
		WaitCells: 65536,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

/// Given increases the limit by the provided amount.
func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

/// Taken tries to decrement the limit by the provided amount.
/// It returns true on success.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	atomic.AddInt64(&Lhits, 1)
	return false
}

/// Take decrements the limit and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

// Package bounds reserves the worst-case page budget a recursive
// copy-in/out walk might need before it starts walking. internal/vm's
// K2User/User2K page-table walks can recurse through several page-table
// levels per call; reserving the
// budget up front means a walk that has already started can never be
// starved of pages by a concurrent allocation on another CPU (spec.md
// §4.2's "atomic rollback on failure" invariant depends on never running
// out of pages mid-walk).
package bounds

import "h2o/internal/limits"

// Budget is the number of page-table-walk-sized allocations a labeled
// operation reserves before it begins.
type Budget uint

// Per-call-site budgets. Each name identifies the operation it bounds, the
// way the teacher's generated bounds.Bounds constants were named after the
// function and call site they guarded.
const (
	AddrSpaceK2UserInner   Budget = 2
	AddrSpaceUser2KInner   Budget = 2
	UserbufTx              Budget = 1
	UserIovecInit          Budget = 8
	UserIovecTx            Budget = 1
)

// pool is the shared reservation counter every budget draws from. It is
// sized generously rather than tracked per-budget: the invariant that
// matters is "a walk that reserved its budget can finish it", not fairness
// between concurrent walks.
var pool limits.Sysatomic_t = 4096

// ReserveNoblock attempts to reserve b units from the pool without
// blocking. Callers that get false must back off (return ENOMEM to their
// caller) rather than proceed with an unreserved walk.
func ReserveNoblock(b Budget) bool {
	return pool.Taken(uint(b))
}

// Release returns b units to the pool once the walk they guarded has
// finished, successfully or not.
func Release(b Budget) {
	pool.Given(uint(b))
}

// Package task defines TaskInfo, the kernel's record of one schedulable
// unit of execution, and the registry that maps a Tid_t back to it. It
// replaces the teacher's goroutine-local Tnote_t: rather than stashing
// "the current task" behind a patched-runtime thread-local pointer,
// internal/sched threads a *TaskInfo explicitly through every function
// that needs to know which task is running (spec.md §3 "Task", §4.9).
package task

import (
	"sync"
	"time"

	"h2o/internal/acct"
	"h2o/internal/defs"
	"h2o/internal/handle"
	"h2o/internal/hashtable"
	"h2o/internal/limits"
	"h2o/internal/mem"
	"h2o/internal/ustr"
	"h2o/internal/vm"
	"h2o/internal/wait"
)

// State is where a task sits in its lifecycle (spec.md §4.9). Unlike the
// original's type-state (Init/Ready/Blocked/Dead as distinct Rust types),
// one TaskInfo carries its State as a field — Go has no affine types to
// enforce the transitions statically, so sched enforces them at runtime.
type State int

const (
	Init State = iota
	Ready
	Running
	Blocked
	Dying
	Dead
)

func (s State) String() string {
	switch s {
	case Init:
		return "Init"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Dying:
		return "Dying"
	case Dead:
		return "Dead"
	default:
		return "State(unknown)"
	}
}

// KstackPages is the size of a task's kernel stack in pages: 12 pages of
// stack plus one unmapped guard page below it (spec.md §4.9).
const KstackPages = 13

// Frame is the register file saved across a trap, interrupt, or context
// switch. Its field set is what the syscall and exception dispatchers
// marshal arguments out of and results back into (internal/syscall).
type Frame struct {
	Rax, Rbx, Rcx, Rdx uint64
	Rsi, Rdi, Rbp      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	Rip, Rsp, Rflags   uint64
}

// Kframe is a task's saved kernel-mode execution context: the interrupt
// frame taken at entry, plus a dedicated syscall frame so a syscall and an
// asynchronous interrupt can never clobber each other's saved state.
type Kframe struct {
	Intr    Frame
	Syscall Frame
}

// TaskInfo is the kernel's complete record of one task. It is never copied
// after creation; every package that needs to act on a task holds a
// *TaskInfo.
type TaskInfo struct {
	Tid      defs.Tid_t
	Name     ustr.Ustr
	Type     defs.TaskType
	Priority defs.Priority

	// Parent is the Tid_t of the creating task, or 0 for the root task.
	Parent defs.Tid_t

	// Affinity is the set of CPUs this task may run on; the scheduler's
	// push path routes to the lowest-indexed CPU in this mask when the
	// local CPU isn't a member (spec.md §4.8). Defaults to every CPU.
	Affinity defs.CpuMask

	Kframe       Kframe
	IntrStack    *Kstack
	SyscallStack *Kstack

	Space   *vm.AddrSpace
	Handles *handle.Table
	Acct    acct.Accnt_t

	// TimeSlice is the budget given at the last time this task became
	// Ready; Runtime is wall time accumulated while Running since then
	// (spec.md §4.8's NeedResched check: TimeSlice < Runtime).
	TimeSlice time.Duration
	Runtime   time.Duration

	// waitObj/blockDesc name what this task is parked on while Blocked, set
	// by internal/sched's block path and cleared on unblock. Guarded by mu
	// since task_ctl's kill path (internal/syscall) reads waitObj from a
	// different goroutine than the one blocking it.
	waitObj   *wait.WaitObject
	blockDesc string

	// Suspend is what a SigSuspend delivery parks this task on; only a
	// later task_ctl(tid, CtlKill), which notifies whatever the task is
	// blocked on, ever wakes it; there is no dedicated resume syscall in
	// spec.md §6.
	Suspend *wait.WaitObject

	// JoinCell is this task's own exit-value rendezvous: task_join(tid)
	// blocks on it, Exit replaces it once (spec.md §4.8 Exit / §6
	// task_join). Unlike the original's handle-indirected WaitCell, H2O
	// looks the child up in the task Table directly and takes from its
	// own cell — one fewer handle per spawned task, same wait semantics.
	JoinCell *wait.WaitCell[int]

	// CPU is the logical CPU this task is currently assigned to; the
	// scheduler updates it on every migration.
	CPU int

	mu     sync.Mutex
	state  State
	killed bool
	signal defs.Signal
}

// Mk allocates a TaskInfo in the Init state. The caller (internal/syscall's
// task_fn handler, or cmd/h2o for the per-CPU idle tasks) is responsible for
// registering it with
// the global table and pushing it onto a run queue once its address space
// and kernel stack are ready.
func Mk(tid defs.Tid_t, name ustr.Ustr, ty defs.TaskType, prio defs.Priority, parent defs.Tid_t) *TaskInfo {
	// Every task gets its own join rendezvous whether or not anything
	// ever joins it (idle tasks never do); account for it against the
	// system-wide wait-cell ceiling the same way, rather than only
	// counting the ones a task_join eventually reaps.
	limits.Syslimit.WaitCells.Take()
	return &TaskInfo{
		Tid:      tid,
		Name:     name,
		Type:     ty,
		Priority: prio,
		Parent:   parent,
		Affinity: defs.AllCPUs,
		JoinCell: wait.NewCell[int](),
		Suspend:  wait.New(),
		state:    Init,
	}
}

// ValidAffinity reports whether m is a legal affinity mask: a task's
// affinity must have at least one bit set (spec.md §3).
func ValidAffinity(m defs.CpuMask) bool {
	return m != 0
}

// State returns the task's current lifecycle state.
func (t *TaskInfo) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// SetState transitions the task to s. Callers (internal/sched) are
// responsible for only making legal transitions; SetState itself does not
// validate them, matching the teacher's convention of trusting the single
// caller (the scheduler) that owns this field.
func (t *TaskInfo) SetState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// SetWaitObj records what the task is blocked on, or clears it (wo == nil).
func (t *TaskInfo) SetWaitObj(wo *wait.WaitObject, desc string) {
	t.mu.Lock()
	t.waitObj = wo
	t.blockDesc = desc
	t.mu.Unlock()
}

// WaitObj returns what the task is currently blocked on, or nil.
func (t *TaskInfo) WaitObj() *wait.WaitObject {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waitObj
}

// BlockDesc returns a description of what the task is currently blocked on.
func (t *TaskInfo) BlockDesc() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blockDesc
}

// Kill marks the task for termination by sending it SigKill. If it is
// currently blocked on a wait object, the caller must also wake it; the
// next internal/sched Tick that finds it current exits it with EKILLED
// (state Dead).
func (t *TaskInfo) Kill() {
	t.SendSignal(defs.SigKill)
}

// SendSignal sets the task's at-most-one pending signal, replacing
// whatever was pending before rather than queuing (spec.md §4.8).
func (t *TaskInfo) SendSignal(sig defs.Signal) {
	t.mu.Lock()
	t.signal = sig
	if sig == defs.SigKill {
		t.killed = true
	}
	t.mu.Unlock()
}

// Killed reports whether Kill has been called.
func (t *TaskInfo) Killed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.killed
}

// TakeSignal returns and clears the task's pending signal (spec.md §4.8: at
// most one signal is ever pending; a second send before delivery replaces
// the first rather than queuing).
func (t *TaskInfo) TakeSignal() defs.Signal {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.signal
	t.signal = defs.SigNone
	return s
}

// Kstack is a task's kernel stack: KstackPages-1 pages of backing memory
// plus the guard page recorded as unmapped immediately below them.
// NewKstack allocates the backing pages from internal/mem; Kstack only
// remembers where they went.
type Kstack struct {
	GuardVA uintptr
	BaseVA  uintptr
	Pages   []mem.PAddr
}

// tableBuckets sizes the backing hashtable.Hashtable_t; it doesn't need to
// track defs.NR_TASKS exactly since Hashtable_t chains past a full bucket,
// it only needs to keep chains short for the table's expected occupancy.
const tableBuckets = 4096

// Table is the global Tid_t -> *TaskInfo registry, backed by
// internal/hashtable's lock-free-read table rather than a single
// RWMutex-guarded map: task_ctl/task_join lookups (the hot path below)
// only ever take a per-bucket lock on Insert/Remove, and never block a
// concurrent Get on another bucket. The scheduler's own run queues hold
// *TaskInfo directly and don't need Table on their hot path.
type Table struct {
	ht *hashtable.Hashtable_t
}

// NewTable allocates an empty task table.
func NewTable() *Table {
	return &Table{ht: hashtable.MkHash(tableBuckets)}
}

func tidKey(tid defs.Tid_t) int32 {
	return int32(tid)
}

// Insert registers t. It panics if t.Tid is already present: tid reuse
// must go through Remove first, matching the generation-on-reuse rule
// handle tables and the tid allocator share (spec.md §9).
func (tb *Table) Insert(t *TaskInfo) {
	if _, inserted := tb.ht.Set(tidKey(t.Tid), t); !inserted {
		panic("tid already registered")
	}
}

// Get looks up a task by tid.
func (tb *Table) Get(tid defs.Tid_t) (*TaskInfo, bool) {
	v, ok := tb.ht.Get(tidKey(tid))
	if !ok {
		return nil, false
	}
	return v.(*TaskInfo), true
}

// Remove drops a task from the table once it has reached Dead and its
// parent has collected its exit status. Removing a tid not present is a
// no-op: Remove checks first, since hashtable.Del itself panics on a
// missing key.
func (tb *Table) Remove(tid defs.Tid_t) {
	if _, ok := tb.ht.Get(tidKey(tid)); !ok {
		return
	}
	tb.ht.Del(tidKey(tid))
}

// Len reports the number of live tasks.
func (tb *Table) Len() int {
	return tb.ht.Size()
}

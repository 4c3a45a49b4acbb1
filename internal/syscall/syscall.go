// Package syscall is H2O's syscall dispatcher: it marshals a trapped
// task's register frame into typed arguments, routes by call number to a
// handler, and marshals the handler's (value, error) pair back into the
// single isize return register spec.md §6 describes.
//
// The original reaches a handful of package-level statics (SCHED, the
// syscall log) through hand-written assembly and a dedicated entry
// trampoline (cpu/x86_64/syscall.rs's SYSCALL/SYSRET bring-up). There is
// no ring transition to simulate here, so this package starts where the
// original's hdl_syscall leaves off: given a *sched.CPU, the *task.TaskInfo
// that trapped, a call number, and its arguments, do the call and hand
// back a result — the same explicit-parameter convention internal/sched
// and internal/vm already use in place of thread-local state.
package syscall

import (
	"sync"

	"h2o/internal/clock"
	"h2o/internal/defs"
	"h2o/internal/klog"
	"h2o/internal/res"
	"h2o/internal/sched"
	"h2o/internal/task"
)

// Number is a syscall number (spec.md §6). The minimum set's stubs only
// enumerate a subset (get_time=0, log=1, task_exit=2, task_fn=3,
// task_join=5, alloc_pages=8, dealloc_pages=9); H2O fills the remaining
// slots (task_ctl, obj_clone, obj_drop, obj_feat, res_alloc) the minimum
// set also requires but the stub list doesn't number.
type Number uint32

const (
	GetTime Number = iota
	Log
	TaskExit
	TaskFn
	TaskCtl
	TaskJoin
	ObjClone
	ObjDrop
	AllocPages
	DeallocPages
	ObjFeat
	ResAlloc
)

// Args is a syscall's argument vector, taken straight from the trapped
// frame's Rdi, Rsi, Rdx, R10, R8, R9 — the standard Linux-style register
// convention, which avoids Rcx/R11 (clobbered by the real SYSCALL
// instruction itself, per the original's cpu/x86_64/syscall.rs).
type Args [6]uint64

// FrameArgs reads a syscall's arguments out of a trapped register frame.
func FrameArgs(f *task.Frame) Args {
	return Args{f.Rdi, f.Rsi, f.Rdx, f.R10, f.R8, f.R9}
}

var (
	mu       sync.Mutex
	tids     *task.TidAllocator
	tasks    *task.Table
	logger   *klog.Logger
	clk      clock.ClockChip
	baseline clock.Instant
)

// Init installs the shared state every handler needs: the tid allocator
// and task table task_fn/task_join/task_ctl look tasks up in, the log
// ring the log syscall writes to, and the clock chip get_time reads
// (baselined against clk.Now() at install time, so get_time reports
// elapsed time since Init rather than whatever epoch the clock chip
// itself counts from). Called once at boot, mirroring internal/sched.Init
// and internal/vm.SetShootdownBroadcaster's installed-once-at-boot
// pattern.
func Init(t *task.TidAllocator, tb *task.Table, l *klog.Logger, c clock.ClockChip) {
	mu.Lock()
	defer mu.Unlock()
	tids, tasks, logger, clk = t, tb, l, c
	if c != nil {
		baseline = c.Now()
	}
}

// Dispatch routes one trapped syscall to its handler. c and ti identify
// the CPU and task that trapped; num and a come from FrameArgs. The
// returned int64 is the payload a success return puts in Rax; err, if
// nonzero, is what actually goes in Rax instead (spec.md §6: "the return
// value in the first return register is an isize: negative = error code,
// >= 0 = success payload"). A handler's internal structural error is
// translated first: OOM becomes ENOMEM, ALREADY_MAPPED becomes EEXIST, and
// MISALIGNED, BADRANGE and NOT_MAPPED become EINVAL.
func Dispatch(c *sched.CPU, ti *task.TaskInfo, num Number, a Args) (ret int64, err defs.Err_t) {
	defer func() {
		switch err {
		case defs.OOM:
			err = defs.ENOMEM
		case defs.ALREADY_MAPPED:
			err = defs.EEXIST
		case defs.MISALIGNED, defs.BADRANGE, defs.NOT_MAPPED:
			err = defs.EINVAL
		}
	}()
	switch num {
	case GetTime:
		return sysGetTime()
	case Log:
		return sysLog(ti, a)
	case TaskExit:
		return sysTaskExit(c, ti, a)
	case TaskFn:
		return sysTaskFn(c, ti, a)
	case TaskCtl:
		return sysTaskCtl(a)
	case TaskJoin:
		return sysTaskJoin(a)
	case ObjClone:
		return sysObjClone(ti, a)
	case ObjDrop:
		return sysObjDrop(ti, a)
	case ObjFeat:
		return sysObjFeat(ti, a)
	case AllocPages:
		return sysAllocPages(ti, a)
	case DeallocPages:
		return sysDeallocPages(ti, a)
	case ResAlloc:
		return sysResAlloc(ti, a)
	default:
		return 0, defs.EINVAL
	}
}

// resourceHolder is what a res_alloc'd handle's Object.Data holds, so a
// later res_alloc sub-allocating from it and a drop releasing it both have
// something concrete to act on.
type resourceHolder struct {
	r *res.Resource
}

func (rh *resourceHolder) Release() {
	rh.r.Release()
}

// releaser is implemented by any handle Object.Data that owns a resource
// needing explicit teardown on obj_drop (spec.md §6 obj_drop); objects
// without outside state (e.g. a bare data buffer) simply don't implement
// it and obj_drop is just a table Remove.
type releaser interface {
	Release()
}

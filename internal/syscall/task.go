package syscall

import (
	"h2o/internal/defs"
	"h2o/internal/handle"
	"h2o/internal/limits"
	"h2o/internal/sched"
	"h2o/internal/task"
	"h2o/internal/ustr"
	"h2o/internal/vm"
)

// sysTaskExit retires the calling task with the given retval (spec.md §6
// task_exit). Control never really returns to the caller in a real
// kernel — c.Exit schedules away immediately — but Dispatch still needs
// something to hand back to its own caller, so this reports success.
func sysTaskExit(c *sched.CPU, ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	c.Exit(ti, int(int32(a[0])))
	return 0, 0
}

// taskSpaceType mirrors a task's privilege class onto the address-space
// kind vm.AddrSpace.Duplicate needs, keeping task_fn from ever being able
// to produce the invalid (User-spawned, Kernel-typed) combination spec.md
// §3 forbids: a spawned task always inherits its parent's type outright.
func taskSpaceType(ty defs.TaskType) vm.SpaceType {
	if ty == defs.Kernel {
		return vm.KernelSpace
	}
	return vm.UserSpace
}

// sysTaskFn spawns a new task running fn(arg) on a freshly duplicated
// address space and returns its tid (spec.md §6 task_fn). The original
// returns a handle onto the child's join wait-cell instead of a raw tid;
// H2O's task_join resolves a tid directly against the shared task.Table
// (see DESIGN.md's task_join indirection decision), so task_fn's return
// value is the tid itself rather than a handle wrapping it.
func sysTaskFn(c *sched.CPU, ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	namePtr, stackSize, fn, arg := int(a[0]), uintptr(a[1]), a[2], a[3]

	mu.Lock()
	t := tids
	tb := tasks
	mu.Unlock()
	if t == nil || tb == nil {
		return 0, defs.EINVAL
	}

	name := ustr.MkUstr()
	if namePtr != 0 && ti.Space != nil {
		s, err := ti.Space.Userstr(ti.CPU, namePtr, 64)
		if err != 0 {
			return 0, err
		}
		name = s
	}

	if !limits.Syslimit.Tasks.Take() {
		return 0, defs.ERANGE
	}
	tid, ok := t.Allocate()
	if !ok {
		limits.Syslimit.Tasks.Give()
		return 0, defs.ERANGE
	}

	child := task.Mk(tid, name, ti.Type, ti.Priority, ti.Tid)
	child.Affinity = ti.Affinity
	child.Handles = handle.New()

	if ti.Space != nil {
		space, err := ti.Space.Duplicate(ti.CPU, taskSpaceType(ti.Type))
		if err != 0 {
			t.Deallocate(tid)
			limits.Syslimit.Tasks.Give()
			return 0, err
		}
		child.Space = space
		if ti.Type == defs.User {
			size := stackSize
			if size == 0 {
				size = uintptr(vm.MaxStackPages) * 0x1000 / 4
			}
			rng, err := space.InitStack(ti.CPU, size)
			if err != 0 {
				t.Deallocate(tid)
				limits.Syslimit.Tasks.Give()
				return 0, err
			}
			child.Kframe.Intr.Rsp = uint64(rng.End)
		}
	}

	intr, err := task.NewKstack(ti.CPU)
	if err != 0 {
		t.Deallocate(tid)
		limits.Syslimit.Tasks.Give()
		return 0, err
	}
	sys, err := task.NewKstack(ti.CPU)
	if err != 0 {
		task.FreeKstack(ti.CPU, intr)
		t.Deallocate(tid)
		limits.Syslimit.Tasks.Give()
		return 0, err
	}
	child.IntrStack = intr
	child.SyscallStack = sys

	child.Kframe.Intr.Rip = fn
	child.Kframe.Intr.Rdi = arg

	tb.Insert(child)
	c.Push(child)
	return int64(tid), 0
}

// sysTaskJoin blocks until the named task exits, then reaps it (spec.md
// §6 task_join). a[0] is the tid task_fn returned.
func sysTaskJoin(a Args) (int64, defs.Err_t) {
	mu.Lock()
	t := tids
	tb := tasks
	mu.Unlock()
	if t == nil || tb == nil {
		return 0, defs.EINVAL
	}

	tid := defs.Tid_t(a[0])
	child, ok := tb.Get(tid)
	if !ok {
		return 0, defs.ECHILD
	}

	retval := child.JoinCell.Take()
	tb.Remove(tid)
	t.Deallocate(tid)
	limits.Syslimit.Tasks.Give()
	limits.Syslimit.WaitCells.Give()
	return int64(retval), 0
}

// sysTaskCtl applies op to the named task (spec.md §6 task_ctl). Like
// task_fn/task_join, it addresses the target by tid rather than the
// original's handle-onto-another-task's-handle-table indirection.
func sysTaskCtl(a Args) (int64, defs.Err_t) {
	mu.Lock()
	tb := tasks
	mu.Unlock()
	if tb == nil {
		return 0, defs.EINVAL
	}

	tid := defs.Tid_t(a[0])
	op := defs.TaskCtl(a[1])
	target, ok := tb.Get(tid)
	if !ok {
		return 0, defs.ESRCH
	}

	switch op {
	case defs.CtlKill:
		target.Kill()
		if wo := target.WaitObj(); wo != nil {
			wo.Notify(1)
		}
		return 0, 0
	case defs.CtlSuspend:
		target.SendSignal(defs.SigSuspend)
		return 0, 0
	case defs.CtlDetach:
		target.Parent = 0
		return 0, 0
	default:
		return 0, defs.EINVAL
	}
}

// Package sched implements H2O's per-CPU pre-emptive scheduler: a run
// queue per logical CPU, migration injector queues for cross-CPU pushes,
// the tick/schedule/block/unblock/exit lifecycle, and a pre-emption
// counter (spec.md §4.8).
//
// The original is one thread-local Scheduler per physical CPU, reached
// through a `#[thread_local]` static. Go has no equivalent storage class
// a goroutine can bind to a specific CPU, so this package keeps an
// explicit registry (cpus) indexed by logical CPU id instead, and every
// entry point takes the *CPU it's acting on rather than discovering it
// from thread-local state — the same explicit-cpu-parameter convention
// internal/mem and internal/vm already use for their per-CPU state.
package sched

import (
	"sync"
	"sync/atomic"
	"time"

	"h2o/internal/defs"
	"h2o/internal/stats"
	"h2o/internal/task"
	"h2o/internal/wait"
)

// Stats holds the scheduler's toggle-compiled instrumentation counters
// (internal/stats.Stats gates whether Inc ever does real work, so these
// calls cost nothing in a default build).
var Stats = struct {
	Ticks      stats.Counter_t
	Schedules  stats.Counter_t
	Migrations stats.Counter_t
	Blocks     stats.Counter_t
	Exits      stats.Counter_t
}{}

// MinimumTimeGranularity is the time slice a task is given when it
// becomes Ready (spec.md §4.8).
const MinimumTimeGranularity = 30 * time.Millisecond

// WakeTimeGranularity governs pre-emption on push: a newly-readied task
// only jumps the queue if it trails the running task's accumulated
// runtime by more than this much (spec.md §4.8, §9.6).
const WakeTimeGranularity = time.Millisecond

// CPU is one logical CPU's scheduler state.
type CPU struct {
	ID int

	mu       sync.Mutex
	runQueue []*task.TaskInfo
	Current  *task.TaskInfo
	runStart time.Time

	preempt int32 // atomic; >0 means a reschedule request must wait
	pending int32 // atomic bool; set if a resched was deferred by preempt
}

var (
	cpusMu          sync.Mutex
	cpus            []*CPU
	migQueue        [][]*task.TaskInfo
	migQueueMu      []sync.Mutex
	migrateBroadcast func(destCPU int)
)

// Init allocates n logical CPUs and their migration injector queues.
// Called once at boot.
func Init(n int) {
	cpusMu.Lock()
	defer cpusMu.Unlock()
	cpus = make([]*CPU, n)
	migQueue = make([][]*task.TaskInfo, n)
	migQueueMu = make([]sync.Mutex, n)
	for i := range cpus {
		cpus[i] = &CPU{ID: i}
	}
}

// CPUByID returns the registered CPU, or nil if id is out of range.
func CPUByID(id int) *CPU {
	cpusMu.Lock()
	defer cpusMu.Unlock()
	if id < 0 || id >= len(cpus) {
		return nil
	}
	return cpus[id]
}

// Count reports the number of registered CPUs.
func Count() int {
	cpusMu.Lock()
	defer cpusMu.Unlock()
	return len(cpus)
}

// SetMigrateBroadcaster installs the callback Push/Unblock use to send a
// task-migrate IPI to another CPU once a real Local APIC exists to send
// it through (mirrors internal/vm.SetShootdownBroadcaster).
func SetMigrateBroadcaster(f func(destCPU int)) {
	migrateBroadcast = f
}

func pushMigration(destCPU int, ti *task.TaskInfo) {
	Stats.Migrations.Inc()
	migQueueMu[destCPU].Lock()
	migQueue[destCPU] = append(migQueue[destCPU], ti)
	migQueueMu[destCPU].Unlock()
	if migrateBroadcast != nil {
		migrateBroadcast(destCPU)
	}
}

// DrainMigrations is the task-migrate IPI handler: it pops every task
// queued for this CPU and pushes each one onto the local run queue.
func (c *CPU) DrainMigrations() {
	migQueueMu[c.ID].Lock()
	pending := migQueue[c.ID]
	migQueue[c.ID] = nil
	migQueueMu[c.ID].Unlock()
	for _, ti := range pending {
		c.Push(ti)
	}
}

// Push enqueues ti for execution. If ti's affinity excludes this CPU, it
// is routed to the lowest-indexed CPU in its affinity mask via the
// migration queue instead (spec.md §4.8 push path).
func (c *CPU) Push(ti *task.TaskInfo) {
	if !ti.Affinity.Has(c.ID) {
		dest := ti.Affinity.Lowest()
		pushMigration(dest, ti)
		return
	}
	ti.TimeSlice = MinimumTimeGranularity
	c.enqueueLocal(ti)
}

// enqueueLocal appends ti to this CPU's run queue, pre-empting the
// currently running task in place if ti trails it by more than
// WakeTimeGranularity in accumulated runtime.
func (c *CPU) enqueueLocal(ti *task.TaskInfo) {
	ti.SetState(task.Ready)

	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.Current
	if cur != nil && cur.State() == task.Running {
		now := time.Now()
		curRuntime := cur.Runtime + now.Sub(c.runStart)
		if curRuntime-ti.Runtime > WakeTimeGranularity {
			cur.Runtime = curRuntime
			cur.SetState(task.Ready)
			c.runQueue = append(c.runQueue, cur)

			ti.SetState(task.Running)
			ti.CPU = c.ID
			c.Current = ti
			c.runStart = now
			return
		}
	}
	ti.CPU = c.ID
	c.runQueue = append(c.runQueue, ti)
}

// update reports whether the current task needs to be rescheduled: its
// accumulated runtime has exceeded its time slice and the queue is
// non-empty, or there is no current task but work is waiting.
func (c *CPU) update(now time.Time) bool {
	c.mu.Lock()
	sole := len(c.runQueue) == 0
	cur := c.Current
	runStart := c.runStart
	c.mu.Unlock()

	if cur == nil {
		return !sole
	}
	if cur.State() != task.Running {
		return true
	}
	elapsed := cur.Runtime + now.Sub(runStart)
	return cur.TimeSlice < elapsed && !sole
}

// Tick is the scheduler's entry point from the per-CPU APIC timer
// interrupt (spec.md §4.8). It first consumes the current task's pending
// signal, if any, and returns once it is handled: Kill exits the task with
// -EKILLED; Suspend parks it on its Suspend wait object (on a goroutine of
// its own, so Tick's caller is not parked) until a task_ctl kill notifies
// that object, which readies the task so a later tick exits it. With no
// signal pending, Tick goes on to the ordinary time-slice check. A pending
// reschedule while pre-emption is disabled is recorded and replayed by
// EnablePreempt instead of acting immediately.
func (c *CPU) Tick(now time.Time) {
	Stats.Ticks.Inc()

	c.mu.Lock()
	cur := c.Current
	c.mu.Unlock()

	if cur != nil {
		switch cur.TakeSignal() {
		case defs.SigKill:
			c.Exit(cur, int(defs.EKILLED))
			return
		case defs.SigSuspend:
			var queued sync.Mutex
			queued.Lock()
			go func() {
				c.Block(cur, &queued, cur.Suspend, "suspended", 0)
				Unblock(c, cur)
			}()
			queued.Lock() // Block's Wait unlocks it once cur is queued on Suspend
			return
		}
	}

	if !c.update(now) {
		return
	}
	if c.preemptDisabled() {
		atomic.StoreInt32(&c.pending, 1)
		return
	}
	c.schedule(now)
}

func (c *CPU) schedule(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.runQueue) == 0 {
		return
	}
	Stats.Schedules.Inc()
	next := c.runQueue[0]
	c.runQueue = c.runQueue[1:]

	if prev := c.Current; prev != nil {
		elapsed := now.Sub(c.runStart)
		prev.Runtime += elapsed
		prev.Acct.Utadd(int(elapsed))
		if prev.State() == task.Running {
			prev.SetState(task.Ready)
			c.runQueue = append(c.runQueue, prev)
		}
	}

	next.SetState(task.Running)
	next.CPU = c.ID
	c.Current = next
	c.runStart = now
}

// DisablePreempt increments this CPU's pre-emption counter; while held,
// Tick defers any reschedule it would otherwise perform (spec.md §4.8's
// PREEMPT.lock()).
func (c *CPU) DisablePreempt() {
	atomic.AddInt32(&c.preempt, 1)
}

// EnablePreempt decrements the counter and, if it reached zero with a
// reschedule pending, runs it now.
func (c *CPU) EnablePreempt() {
	if atomic.AddInt32(&c.preempt, -1) == 0 && atomic.CompareAndSwapInt32(&c.pending, 1, 0) {
		c.schedule(time.Now())
	}
}

func (c *CPU) preemptDisabled() bool {
	return atomic.LoadInt32(&c.preempt) > 0
}

// Block moves ti from Running to Blocked on wo, then parks the calling
// goroutine — which, in this tree's simulated-hardware idiom, *is* ti's
// execution context — until Notify or timeout. It returns true iff ti
// was woken by a Notify rather than a timeout (spec.md §4.8 Block,
// §4.7 WaitObject.wait).
func (c *CPU) Block(ti *task.TaskInfo, guard sync.Locker, wo *wait.WaitObject, desc string, timeout time.Duration) bool {
	Stats.Blocks.Inc()

	c.mu.Lock()
	if c.Current == ti {
		c.Current = nil
	}
	c.mu.Unlock()

	ti.SetWaitObj(wo, desc)
	ti.SetState(task.Blocked)

	c.schedule(time.Now())

	woken := wo.Wait(guard, timeout)

	ti.SetWaitObj(nil, "")
	return woken
}

// Unblock readies ti with a fresh time slice and routes it back onto a
// run queue: locally if fromCPU already owns it, through the migration
// queue otherwise (spec.md §4.8 Unblock).
func Unblock(fromCPU *CPU, ti *task.TaskInfo) {
	ti.Runtime = 0
	ti.TimeSlice = MinimumTimeGranularity
	if ti.CPU == fromCPU.ID {
		fromCPU.enqueueLocal(ti)
		return
	}
	pushMigration(ti.CPU, ti)
}

// Exit retires ti: marks it Dead, wakes anyone parked in task_join on
// its JoinCell with retval, and schedules the next task (spec.md §4.8
// Exit).
func (c *CPU) Exit(ti *task.TaskInfo, retval int) {
	Stats.Exits.Inc()

	c.mu.Lock()
	if c.Current == ti {
		c.Current = nil
	}
	c.mu.Unlock()

	ti.SetState(task.Dead)
	if ti.JoinCell != nil {
		ti.JoinCell.Replace(retval)
	}
	c.schedule(time.Now())
}

// RunQueueLen reports the number of Ready tasks waiting locally, for
// tests and diagnostics.
func (c *CPU) RunQueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runQueue)
}

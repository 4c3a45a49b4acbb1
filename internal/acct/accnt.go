// Package acct accumulates per-task CPU accounting: time spent running in
// user mode versus servicing that task's syscalls and faults in kernel mode.
// The scheduler charges elapsed run time against a task's Accnt_t on every
// context switch (spec.md §4.8); Fetch returns a snapshot of it. No syscall
// exposes that snapshot to user space.
package acct

import "sync"
import "sync/atomic"
import "time"

/**
 * Accnt_t accumulates per-task accounting information.
 *
 * Both Userns and Sysns store runtime in nanoseconds. The embedded
 * mutex allows callers to take a consistent snapshot of the fields
 * when exporting usage statistics.
 */
type Accnt_t struct {
	/// Nanoseconds of user time consumed.
	Userns int64
	/// Nanoseconds of system time consumed.
	Sysns int64
	/// Protects concurrent access when reporting usage data.
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
///
/// @param delta Amount to add in nanoseconds.
func (a *Accnt_t) Utadd(delta int) {
	atomic.AddInt64(&a.Userns, int64(delta))
}

/// Systadd adds delta nanoseconds to the system-time counter.
///
/// @param delta Amount to add in nanoseconds.
func (a *Accnt_t) Systadd(delta int) {
	atomic.AddInt64(&a.Sysns, int64(delta))
}

/// Now returns the current time in nanoseconds.
///
/// @return Current time since Unix epoch in nanoseconds.
func (a *Accnt_t) Now() int {
	return int(time.Now().UnixNano())
}

/// Io_time removes time spent waiting for I/O from system time.
///
/// @param since Timestamp when the I/O wait began, in nanoseconds.
func (a *Accnt_t) Io_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

/// Sleep_time removes time spent sleeping from system time.
///
/// @param since Timestamp when the sleep began, in nanoseconds.
func (a *Accnt_t) Sleep_time(since int) {
	d := a.Now() - since
	a.Systadd(-d)
}

/// Finish finalizes accounting by adding time since @p inttime to system time.
///
/// @param inttime Start time for measuring final system usage in nanoseconds.
func (a *Accnt_t) Finish(inttime int) {
	a.Systadd(a.Now() - inttime)
}

/// Add merges another accounting record into this one, used when a task's
/// children are reaped and their usage folds into the parent's total.
///
/// @param n Record to merge.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
	a.Unlock()
}

/// Usage is the stable, lock-free snapshot Fetch hands back; unlike
/// Accnt_t it carries no mutex and is safe to copy.
type Usage struct {
	UserNanos int64
	SysNanos  int64
}

/// Fetch returns a consistent snapshot of the accounting information.
///
/// @return Usage snapshot suitable for copying to userspace.
func (a *Accnt_t) Fetch() Usage {
	a.Lock()
	u := Usage{UserNanos: a.Userns, SysNanos: a.Sysns}
	a.Unlock()
	return u
}

package syscall

import (
	"h2o/internal/defs"
	"h2o/internal/klog"
	"h2o/internal/task"
)

// sysGetTime returns nanoseconds elapsed since Init installed the clock
// chip. EFAULT has no meaning here (there's no user pointer to fault on);
// an uninstalled clock is a boot-sequencing error, not a user error, so it
// reports 0 rather than manufacturing a code spec.md §6 doesn't list.
func sysGetTime() (int64, defs.Err_t) {
	mu.Lock()
	c := clk
	b := baseline
	mu.Unlock()
	if c == nil {
		return 0, 0
	}
	return int64(c.Now().Sub(b)), 0
}

const maxLogLen = 512

// sysLog copies a NUL-terminated user string and writes it to the shared
// log ring at Info level (spec.md §6 log). a[0] is the string's user
// address, a[1] its maximum length.
func sysLog(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Space == nil {
		return 0, defs.EFAULT
	}
	lenmax := int(a[1])
	if lenmax <= 0 || lenmax > maxLogLen {
		lenmax = maxLogLen
	}
	s, err := ti.Space.Userstr(ti.CPU, int(a[0]), lenmax)
	if err != 0 {
		return 0, err
	}
	mu.Lock()
	l := logger
	mu.Unlock()
	if l != nil {
		l.Log(klog.Info, "%s: %s", ti.Name.String(), s.String())
	}
	return 0, 0
}

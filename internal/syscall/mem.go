package syscall

import (
	"h2o/internal/defs"
	"h2o/internal/mem"
	"h2o/internal/paging"
	"h2o/internal/task"
	"h2o/internal/vm"
)

// sysAllocPages backs and maps a fresh, zeroed range in the caller's own
// address space and returns its base address (spec.md §6 alloc_pages).
// a[0] is the requested size in bytes, rounded up to whole pages.
func sysAllocPages(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Space == nil {
		return 0, defs.EINVAL
	}
	size := uintptr(a[0])
	if size == 0 {
		return 0, defs.EINVAL
	}
	flags := vm.FlagWrite
	if ti.Type == defs.User {
		flags |= vm.FlagUser
	}
	rng, err := ti.Space.Alloc(ti.CPU, vm.AllocRequest{
		Kind:  vm.ByLayout,
		Size:  size,
		Align: uintptr(mem.PGSIZE),
	}, nil, flags)
	if err != 0 {
		return 0, err
	}
	return int64(rng.Start), 0
}

// sysDeallocPages releases a range previously returned by alloc_pages
// (spec.md §6 dealloc_pages). a[0] is the base address, a[1] the size
// originally requested.
func sysDeallocPages(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Space == nil {
		return 0, defs.EINVAL
	}
	start := uintptr(a[0])
	size := uintptr(a[1])
	rng := paging.Range{Start: start, End: start + size}
	return 0, ti.Space.Dealloc(ti.CPU, rng, true)
}

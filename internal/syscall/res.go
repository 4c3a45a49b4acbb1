package syscall

import (
	"h2o/internal/defs"
	"h2o/internal/handle"
	"h2o/internal/res"
	"h2o/internal/task"
)

// sysResAlloc sub-allocates a sub-range out of a Resource the caller
// already holds a handle to, returning a handle to the new node (spec.md
// §6 res_alloc(parent, kind, base, size)). kind must match the parent
// tree's own kind — res.Resource.Allocate has no notion of kind itself
// (a tree is homogeneous by construction), so the mismatch is caught here
// before ever reaching it.
func sysResAlloc(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Handles == nil {
		return 0, defs.EINVAL
	}
	parent := handle.Handle(uint32(a[0]))
	kind := defs.ResKind(a[1])
	base, size := a[2], a[3]

	obj, err := ti.Handles.Decode(parent)
	if err != 0 {
		return 0, err
	}
	holder, ok := obj.Data.(*resourceHolder)
	if !ok {
		return 0, defs.ETYPE
	}
	if holder.r.Kind() != kind {
		return 0, defs.ETYPE
	}

	child, err := holder.r.Allocate(res.Range{Start: base, End: base + size})
	if err != 0 {
		return 0, err
	}

	h, err := ti.Handles.Insert(&handle.Object{
		Features: handle.Read | handle.Write,
		Data:     &resourceHolder{r: child},
	})
	if err != 0 {
		child.Release()
		return 0, err
	}
	return int64(h), 0
}

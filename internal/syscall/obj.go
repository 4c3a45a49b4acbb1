package syscall

import (
	"h2o/internal/defs"
	"h2o/internal/handle"
	"h2o/internal/task"
)

// sysObjClone duplicates a handle onto a new arena slot, succeeding only
// if the underlying object reports itself clonable (spec.md §6 obj_clone,
// §4.6 Table.Clone).
func sysObjClone(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Handles == nil {
		return 0, defs.EINVAL
	}
	h, err := ti.Handles.Clone(handle.Handle(uint32(a[0])))
	return int64(h), err
}

// sysObjDrop removes a handle from the caller's table and releases
// whatever it names, if it names anything with outside state to release
// (spec.md §6 obj_drop).
func sysObjDrop(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Handles == nil {
		return 0, defs.EINVAL
	}
	obj, err := ti.Handles.Remove(handle.Handle(uint32(a[0])))
	if err != 0 {
		return 0, err
	}
	if r, ok := obj.Data.(releaser); ok {
		r.Release()
	}
	return 0, 0
}

// sysObjFeat narrows a handle's feature bits in place (spec.md §6
// obj_feat(handle_ptr, new_features)). new_features may only be a subset
// of what the handle already carries; widening is rejected with EPERM
// rather than silently clipped, so a caller can't accidentally grant
// itself a right it never held.
func sysObjFeat(ti *task.TaskInfo, a Args) (int64, defs.Err_t) {
	if ti.Handles == nil || ti.Space == nil {
		return 0, defs.EINVAL
	}
	raw, err := ti.Space.Userreadn(ti.CPU, int(a[0]), 4)
	if err != 0 {
		return 0, err
	}
	h := handle.Handle(uint32(raw))
	newFeat := handle.Features(uint32(a[1]))

	obj, err := ti.Handles.Decode(h)
	if err != 0 {
		return 0, err
	}
	if newFeat&^obj.Features != 0 {
		return 0, defs.EPERM
	}
	obj.Features = newFeat
	return 0, 0
}

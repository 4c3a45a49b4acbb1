package syscall

import (
	"testing"
	"time"

	"h2o/internal/clock"
	"h2o/internal/defs"
	"h2o/internal/handle"
	"h2o/internal/klog"
	"h2o/internal/mem"
	"h2o/internal/paging"
	"h2o/internal/res"
	"h2o/internal/sched"
	"h2o/internal/task"
	"h2o/internal/ustr"
	"h2o/internal/vm"
)

type fakeClock struct{ n clock.Instant }

func (f *fakeClock) Now() clock.Instant { return f.n }

func freshPhysmem(t *testing.T, pages uint64) {
	t.Helper()
	mem.Physmem = &mem.Physmem_t{}
	mem.Phys_init([]defs.MemMapEntry{
		{PhysStart: 0, PageCount: pages, Kind: defs.Free},
	})
}

func setup(t *testing.T, pages uint64) *task.TaskInfo {
	t.Helper()
	freshPhysmem(t, pages)
	sched.Init(1)
	Init(task.NewTidAllocator(), task.NewTable(), klog.NewLogger(4096, klog.Debug), &fakeClock{n: 100})

	window := paging.Range{Start: 0x10000000, End: 0x20000000}
	as, err := vm.New(0, vm.UserSpace, window)
	if err != 0 {
		t.Fatalf("vm.New: %v", err)
	}
	ti := task.Mk(1, ustr.MkUstr(), defs.User, defs.PrioDefault, 0)
	ti.Space = as
	ti.Handles = handle.New()
	return ti
}

func TestGetTimeReportsElapsedSinceInit(t *testing.T) {
	freshPhysmem(t, 16)
	Init(task.NewTidAllocator(), task.NewTable(), nil, &fakeClock{n: 1000})

	got, err := sysGetTime()
	if err != 0 {
		t.Fatalf("sysGetTime: %v", err)
	}
	if got != 0 {
		t.Fatalf("got %d, want 0 immediately after Init", got)
	}
}

func TestAllocAndDeallocPagesRoundtrip(t *testing.T) {
	ti := setup(t, 4096)

	got, err := sysAllocPages(ti, Args{0x2000, 0, 0, 0, 0, 0})
	if err != 0 {
		t.Fatalf("sysAllocPages: %v", err)
	}
	if got == 0 {
		t.Fatal("expected a nonzero base address")
	}

	_, err = sysDeallocPages(ti, Args{uint64(got), 0x2000, 0, 0, 0, 0})
	if err != 0 {
		t.Fatalf("sysDeallocPages: %v", err)
	}
}

func TestAllocPagesRejectsZeroSize(t *testing.T) {
	ti := setup(t, 64)
	if _, err := sysAllocPages(ti, Args{0, 0, 0, 0, 0, 0}); err != defs.EINVAL {
		t.Fatalf("got %v, want EINVAL", err)
	}
}

func TestObjCloneAndDropRoundtrip(t *testing.T) {
	ti := setup(t, 64)
	h, err := ti.Handles.Insert(&handle.Object{Features: handle.Read, Data: cloneableStub{}})
	if err != 0 {
		t.Fatalf("Insert: %v", err)
	}

	cloned, err := sysObjClone(ti, Args{uint64(h), 0, 0, 0, 0, 0})
	if err != 0 {
		t.Fatalf("sysObjClone: %v", err)
	}
	if handle.Handle(cloned) == h {
		t.Fatal("expected a distinct handle from clone")
	}

	if _, err := sysObjDrop(ti, Args{uint64(cloned), 0, 0, 0, 0, 0}); err != 0 {
		t.Fatalf("sysObjDrop: %v", err)
	}
	if _, err := ti.Handles.Decode(handle.Handle(cloned)); err == 0 {
		t.Fatal("expected dropped handle to no longer decode")
	}
}

type cloneableStub struct{}

func (cloneableStub) Clone() any { return cloneableStub{} }

func TestObjFeatRejectsWideningAndAllowsNarrowing(t *testing.T) {
	ti := setup(t, 64)
	h, _ := ti.Handles.Insert(&handle.Object{Features: handle.Read, Data: nil})

	rng, err := ti.Space.Alloc(ti.CPU, vm.AllocRequest{Kind: vm.ByLayout, Size: 0x1000, Align: 0x1000}, nil, vm.FlagWrite|vm.FlagUser)
	if err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	if werr := ti.Space.Userwriten(ti.CPU, int(rng.Start), 4, int(h)); werr != 0 {
		t.Fatalf("Userwriten: %v", werr)
	}

	if _, err := sysObjFeat(ti, Args{uint64(rng.Start), uint64(handle.Read | handle.Write), 0, 0, 0, 0}); err != defs.EPERM {
		t.Fatalf("got %v, want EPERM widening Read into Read|Write", err)
	}
	if _, err := sysObjFeat(ti, Args{uint64(rng.Start), 0, 0, 0, 0, 0}); err != 0 {
		t.Fatalf("sysObjFeat narrowing: %v", err)
	}
	obj, err := ti.Handles.Decode(h)
	if err != 0 {
		t.Fatalf("Decode: %v", err)
	}
	if obj.Features != 0 {
		t.Fatalf("got features %v, want none after narrowing to 0", obj.Features)
	}
}

func TestResAllocSubdividesParentAndRejectsOverlap(t *testing.T) {
	ti := setup(t, 64)
	root := res.NewRoot(defs.ResMem, res.Range{Start: 0, End: 0x10000})
	parent, err := ti.Handles.Insert(&handle.Object{
		Features: handle.Read | handle.Write,
		Data:     &resourceHolder{r: root},
	})
	if err != 0 {
		t.Fatalf("Insert: %v", err)
	}

	h, err := sysResAlloc(ti, Args{uint64(parent), uint64(defs.ResMem), 0x1000, 0x1000})
	if err != 0 {
		t.Fatalf("sysResAlloc: %v", err)
	}
	if h == 0 {
		t.Fatal("expected a nonzero handle")
	}

	if _, err := sysResAlloc(ti, Args{uint64(parent), uint64(defs.ResMem), 0x1000, 0x1000}); err != defs.EEXIST {
		t.Fatalf("got %v, want EEXIST on overlapping sub-allocation", err)
	}
}

func TestResAllocRejectsKindMismatch(t *testing.T) {
	ti := setup(t, 64)
	root := res.NewRoot(defs.ResMem, res.Range{Start: 0, End: 0x10000})
	parent, _ := ti.Handles.Insert(&handle.Object{Features: handle.Read | handle.Write, Data: &resourceHolder{r: root}})

	if _, err := sysResAlloc(ti, Args{uint64(parent), uint64(defs.ResPIO), 0, 0x1000}); err != defs.ETYPE {
		t.Fatalf("got %v, want ETYPE on kind mismatch", err)
	}
}

func TestTaskFnAndJoinRoundtrip(t *testing.T) {
	ti := setup(t, 4096)
	sched.Init(1)
	c := sched.CPUByID(0)
	c.Push(ti)
	c.Tick(time.Now())

	tid, err := sysTaskFn(c, ti, Args{0, 0x4000, 0xdead, 0xbeef})
	if err != 0 {
		t.Fatalf("sysTaskFn: %v", err)
	}
	if tid == 0 {
		t.Fatal("expected a nonzero child tid")
	}

	child, ok := tasks.Get(defs.Tid_t(tid))
	if !ok {
		t.Fatal("expected the child to be registered in the task table")
	}
	go func() { c.Exit(child, 9) }()

	retval, err := sysTaskJoin(Args{uint64(tid), 0, 0, 0, 0, 0})
	if err != 0 {
		t.Fatalf("sysTaskJoin: %v", err)
	}
	if retval != 9 {
		t.Fatalf("got retval %d, want 9", retval)
	}
}

func TestTaskCtlKillDeliversEKILLEDOnNextTick(t *testing.T) {
	ti := setup(t, 4096)
	sched.Init(1)
	c := sched.CPUByID(0)
	c.Push(ti)
	c.Tick(time.Now())

	tasks.Insert(ti)

	if _, err := sysTaskCtl(Args{uint64(ti.Tid), uint64(defs.CtlKill), 0, 0, 0, 0}); err != 0 {
		t.Fatalf("sysTaskCtl: %v", err)
	}

	result := make(chan int, 1)
	go func() { result <- ti.JoinCell.Take() }()

	c.Tick(time.Now())
	if ti.State() != task.Dead {
		t.Fatalf("got state %v, want Dead", ti.State())
	}
	if got := defs.Err_t(<-result); got != defs.EKILLED {
		t.Fatalf("got retval %v, want EKILLED", got)
	}
}

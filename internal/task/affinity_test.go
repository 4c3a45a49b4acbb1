package task

import (
	"testing"

	"h2o/internal/defs"
	"h2o/internal/ustr"
)

func TestMkDefaultsToAllCPUAffinity(t *testing.T) {
	ti := Mk(1, ustr.MkUstr(), defs.Kernel, defs.PrioDefault, 0)
	if ti.Affinity != defs.AllCPUs {
		t.Fatalf("got affinity %#x, want AllCPUs", ti.Affinity)
	}
}

func TestValidAffinityRejectsEmptyMask(t *testing.T) {
	if ValidAffinity(0) {
		t.Fatal("expected empty mask to be invalid")
	}
	if !ValidAffinity(defs.CpuMaskOf(2)) {
		t.Fatal("expected a single-bit mask to be valid")
	}
}

func TestMkGivesEachTaskItsOwnJoinCell(t *testing.T) {
	a := Mk(1, ustr.MkUstr(), defs.User, defs.PrioDefault, 0)
	b := Mk(2, ustr.MkUstr(), defs.User, defs.PrioDefault, 0)
	if a.JoinCell == nil || b.JoinCell == nil {
		t.Fatal("expected every task to get a JoinCell")
	}
	if a.JoinCell == b.JoinCell {
		t.Fatal("expected distinct JoinCells per task")
	}
}

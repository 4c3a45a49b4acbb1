package task

import (
	"testing"

	"h2o/internal/defs"
	"h2o/internal/ustr"
)

func TestMkDefaultsToInit(t *testing.T) {
	ti := Mk(1, ustr.MkUstrSlice([]byte("root")), defs.Kernel, defs.PrioDefault, 0)
	if ti.State() != Init {
		t.Fatalf("got state %v", ti.State())
	}
}

func TestSetStateTransition(t *testing.T) {
	ti := Mk(1, ustr.MkUstr(), defs.User, defs.PrioDefault, 0)
	ti.SetState(Ready)
	if ti.State() != Ready {
		t.Fatalf("got state %v", ti.State())
	}
}

func TestKillSetsSignal(t *testing.T) {
	ti := Mk(1, ustr.MkUstr(), defs.User, defs.PrioDefault, 0)
	if ti.Killed() {
		t.Fatal("expected not killed initially")
	}
	ti.Kill()
	if !ti.Killed() {
		t.Fatal("expected killed after Kill")
	}
	if sig := ti.TakeSignal(); sig != defs.SigKill {
		t.Fatalf("got signal %v", sig)
	}
	if sig := ti.TakeSignal(); sig != defs.SigNone {
		t.Fatalf("expected signal cleared after TakeSignal, got %v", sig)
	}
}

func TestTableInsertGetRemove(t *testing.T) {
	tb := NewTable()
	ti := Mk(5, ustr.MkUstr(), defs.User, defs.PrioDefault, 0)
	tb.Insert(ti)
	if tb.Len() != 1 {
		t.Fatalf("got len %d", tb.Len())
	}
	got, ok := tb.Get(5)
	if !ok || got != ti {
		t.Fatal("expected to find inserted task")
	}
	tb.Remove(5)
	if _, ok := tb.Get(5); ok {
		t.Fatal("expected task gone after remove")
	}
}

func TestTableInsertDuplicatePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate tid")
		}
	}()
	tb := NewTable()
	tb.Insert(Mk(1, ustr.MkUstr(), defs.User, defs.PrioDefault, 0))
	tb.Insert(Mk(1, ustr.MkUstr(), defs.User, defs.PrioDefault, 0))
}

package defs

import "testing"

func TestCpuMaskOfAndHas(t *testing.T) {
	m := CpuMaskOf(0, 3, 5)
	for _, cpu := range []int{0, 3, 5} {
		if !m.Has(cpu) {
			t.Fatalf("expected cpu %d set", cpu)
		}
	}
	for _, cpu := range []int{1, 2, 4} {
		if m.Has(cpu) {
			t.Fatalf("expected cpu %d clear", cpu)
		}
	}
}

func TestCpuMaskLowest(t *testing.T) {
	if got := CpuMaskOf(4, 2, 7).Lowest(); got != 2 {
		t.Fatalf("got %d, want 2", got)
	}
	if got := CpuMask(0).Lowest(); got != -1 {
		t.Fatalf("got %d, want -1 for empty mask", got)
	}
}

func TestAllCPUsCoversEveryID(t *testing.T) {
	for cpu := 0; cpu < MaxCPUs; cpu++ {
		if !AllCPUs.Has(cpu) {
			t.Fatalf("expected AllCPUs to include cpu %d", cpu)
		}
	}
}

func TestCpuMaskHasRejectsOutOfRange(t *testing.T) {
	if AllCPUs.Has(-1) || AllCPUs.Has(MaxCPUs) {
		t.Fatal("expected out-of-range cpu ids to report unset")
	}
}

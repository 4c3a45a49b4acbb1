package caller

import "testing"

func TestDistinctDisabledByDefault(t *testing.T) {
	var dc Distinct_caller_t
	novel, _ := dc.Distinct()
	if novel {
		t.Fatal("expected no-op while disabled")
	}
}

func TestDistinctFirstCallIsNovel(t *testing.T) {
	dc := Distinct_caller_t{Enabled: true}
	novel, fs := dc.Distinct()
	if !novel {
		t.Fatal("expected first call from this path to be novel")
	}
	if fs == "" {
		t.Fatal("expected a formatted stack trace")
	}
}

func TestDistinctRepeatedCallIsNotNovel(t *testing.T) {
	dc := Distinct_caller_t{Enabled: true}
	callDistinct := func() (bool, string) {
		return dc.Distinct()
	}
	for i := 0; i < 2; i++ {
		novel, _ := callDistinct()
		if i == 0 && !novel {
			t.Fatal("expected first call to be novel")
		}
		if i == 1 && novel {
			t.Fatal("expected repeated call from the same site to not be novel")
		}
	}
}

func TestDistinctWhitelist(t *testing.T) {
	dc := Distinct_caller_t{
		Enabled: true,
		Whitel:  map[string]bool{"h2o/internal/caller.TestDistinctWhitelist": true},
	}
	novel, _ := dc.Distinct()
	if novel {
		t.Fatal("expected whitelisted caller to be suppressed")
	}
}

func TestLen(t *testing.T) {
	dc := Distinct_caller_t{Enabled: true}
	dc.Distinct()
	if dc.Len() != 1 {
		t.Fatalf("got %d", dc.Len())
	}
}

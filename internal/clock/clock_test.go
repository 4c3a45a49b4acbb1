package clock

import "testing"

// fakeHarness is a CalibrationClock whose own counter and an independent
// "target" counter both advance deterministically on Cycle, standing in for
// a reference clock and the hardware counter being calibrated against it.
type fakeHarness struct {
	refElapsed, refRate       uint64
	targetElapsed, targetRate uint64
}

func (f *fakeHarness) Now() Instant  { return Instant(f.refElapsed) }
func (f *fakeHarness) Prepare(ms uint64) {}
func (f *fakeHarness) Cycle(ms uint64) {
	f.refElapsed += ms * f.refRate
	f.targetElapsed += ms * f.targetRate
}
func (f *fakeHarness) Cleanup()    {}
func (f *fakeHarness) target() uint64 { return f.targetElapsed }

func TestFactorFromFreqRoundtrips(t *testing.T) {
	for _, khz := range []uint64{1_193, 14_318, 2_400_000} {
		mul, sft := factorFromFreq(khz)
		if mul>>32 != 0 {
			t.Fatalf("khz=%d: mul %d does not fit in 32 bits", khz, mul)
		}
		// one second of ticks at khz should convert to ~1e9 ns.
		ticks := khz * 1000
		ns := (ticks * mul) >> sft
		got := float64(ns) / 1e9
		if got < 0.99 || got > 1.01 {
			t.Fatalf("khz=%d: 1s of ticks converted to %v s, want ~1", khz, got)
		}
	}
}

func TestCalibrateRecoversKnownFrequency(t *testing.T) {
	h := &fakeHarness{refRate: 1000, targetRate: 2000}
	khz := calibrate(h, h.target)
	if khz != 2000 {
		t.Fatalf("got %d kHz, want 2000", khz)
	}
}

func TestHPETClockMonotonic(t *testing.T) {
	h := NewHPETClock()
	a := h.Now()
	h.Cycle(1)
	b := h.Now()
	if b < a {
		t.Fatalf("clock went backward: %d -> %d", a, b)
	}
}

func TestPITClockMonotonic(t *testing.T) {
	p := NewPITClock()
	a := p.Now()
	p.Cycle(1)
	b := p.Now()
	if b < a {
		t.Fatalf("clock went backward: %d -> %d", a, b)
	}
}

func TestTSCClockCalibratesAgainstHPET(t *testing.T) {
	hpet := NewHPETClock()
	tsc := NewTSCClock(hpet)
	a := tsc.Now()
	hpet.Cycle(1)
	b := tsc.Now()
	if b < a {
		t.Fatalf("clock went backward: %d -> %d", a, b)
	}
}

func TestSelectOrdersTSCThenHPETThenPIT(t *testing.T) {
	chip, calib := Select(true, true)
	if _, ok := chip.(*TSCClock); !ok {
		t.Fatalf("invariant TSC + HPET present: got %T, want *TSCClock", chip)
	}
	if _, ok := calib.(*HPETClock); !ok {
		t.Fatalf("got calibration reference %T, want *HPETClock", calib)
	}

	chip, calib = Select(false, true)
	if _, ok := chip.(*HPETClock); !ok {
		t.Fatalf("no invariant TSC: got %T, want *HPETClock", chip)
	}

	chip, calib = Select(false, false)
	if _, ok := chip.(*PITClock); !ok {
		t.Fatalf("no TSC, no HPET: got %T, want *PITClock", chip)
	}
	if chip != calib {
		t.Fatal("expected the PIT to serve as both clock and calibration reference")
	}
}

package clock

// tscNominalKHz stands in for the frequency a real TSC runs at, normally
// discovered by timing it against a reference clock, not read from any
// register. Calibration below reconstructs this value from scratch exactly
// the way it would for the real counter; the constant only fixes what the
// simulated counter actually ticks at.
const tscNominalKHz = 2_400_000

// TSCClock models the CPU timestamp counter. It is only ever constructed
// once a reference clock has reported the platform has one worth trusting
// (spec.md §4.4: TSC is selected only if invariant).
type TSCClock struct {
	mul, sft uint64
	initial  uint64
}

// NewTSCClock calibrates a TSC-like clock against ref, mirroring the real
// kernel's TSC-against-HPET-or-PIT calibration pass.
func NewTSCClock(ref CalibrationClock) *TSCClock {
	khz := calibrate(ref, tscCounter)
	mul, sft := factorFromFreq(khz)
	return &TSCClock{mul: mul, sft: sft, initial: tscCounter()}
}

func tscCounter() uint64 {
	return unixNanos() * tscNominalKHz / 1_000_000
}

// Now implements ClockChip.
func (t *TSCClock) Now() Instant {
	val := tscCounter() - t.initial
	return Instant((val * t.mul) >> t.sft)
}

package clock

import "time"

// hpetFreqKHz is the HPET main counter's nominal frequency. Real hardware
// reports this in its capabilities register (GENERAL_CAP_ID); there is no
// such register here, so it is fixed at its typical QEMU/real-hardware
// value.
const hpetFreqKHz = 14_318

// HPETClock models the HPET main counter: a free-running counter at a known
// fixed frequency, used both as a ClockChip in its own right and as the
// CalibrationClock the TSC is calibrated against.
type HPETClock struct {
	mul, sft uint64
	initial  uint64
}

// NewHPETClock constructs an HPET clock. Its frequency is fixed, so unlike
// the TSC it needs no calibration pass.
func NewHPETClock() *HPETClock {
	mul, sft := factorFromFreq(hpetFreqKHz)
	return &HPETClock{mul: mul, sft: sft, initial: hpetCounter()}
}

func hpetCounter() uint64 {
	return unixNanos() * hpetFreqKHz / 1_000_000
}

// Now implements ClockChip.
func (h *HPETClock) Now() Instant {
	val := hpetCounter() - h.initial
	return Instant((val * h.mul) >> h.sft)
}

// Prepare implements CalibrationClock; the HPET counter free-runs, so there
// is nothing to arm.
func (h *HPETClock) Prepare(ms uint64) {}

// Cycle implements CalibrationClock by letting ms milliseconds of real time
// elapse, the way the real calibration loop waits out the HPET's own
// comparator match.
func (h *HPETClock) Cycle(ms uint64) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Cleanup implements CalibrationClock; nothing to disarm.
func (h *HPETClock) Cleanup() {}

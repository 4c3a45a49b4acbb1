package clock

import "time"

// pitFreqKHz is the legacy 8254 PIT's fixed input frequency (1.193182 MHz),
// truncated to kHz the way the teacher's own constant tables do.
const pitFreqKHz = 1_193

// PITClock models the 8254 Programmable Interval Timer, the calibration
// reference of last resort when no HPET is present.
type PITClock struct {
	mul, sft uint64
	initial  uint64
}

// NewPITClock constructs a PIT clock.
func NewPITClock() *PITClock {
	mul, sft := factorFromFreq(pitFreqKHz)
	return &PITClock{mul: mul, sft: sft, initial: pitCounter()}
}

func pitCounter() uint64 {
	return unixNanos() * pitFreqKHz / 1_000_000
}

// Now implements ClockChip.
func (p *PITClock) Now() Instant {
	val := pitCounter() - p.initial
	return Instant((val * p.mul) >> p.sft)
}

// Prepare implements CalibrationClock; a real driver would load the
// countdown register here.
func (p *PITClock) Prepare(ms uint64) {}

// Cycle implements CalibrationClock by letting ms milliseconds of real time
// elapse, standing in for polling channel 0's output line.
func (p *PITClock) Cycle(ms uint64) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// Cleanup implements CalibrationClock; nothing to disarm.
func (p *PITClock) Cleanup() {}

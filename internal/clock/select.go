package clock

import "sync"

// Select picks the boot clock chip and the calibration reference backing
// it, in the order spec.md §4.4 names: TSC if invariantTSC, else HPET if
// hpetPresent, else PIT. invariantTSC and hpetPresent are supplied by
// internal/boot's probe of the platform (a CPUID leaf and the ACPI MADT
// respectively on real hardware); Select itself is agnostic to how they
// were determined.
func Select(invariantTSC, hpetPresent bool) (ClockChip, CalibrationClock) {
	var calib CalibrationClock
	if hpetPresent {
		calib = NewHPETClock()
	} else {
		calib = NewPITClock()
	}
	if invariantTSC {
		return NewTSCClock(calib), calib
	}
	return calib, calib
}

var (
	once    sync.Once
	systemC ClockChip
)

// System returns the process-wide boot clock, selected once. Every caller
// after the first gets the same chip regardless of the arguments it passes.
func System(invariantTSC, hpetPresent bool) ClockChip {
	once.Do(func() {
		systemC, _ = Select(invariantTSC, hpetPresent)
	})
	return systemC
}

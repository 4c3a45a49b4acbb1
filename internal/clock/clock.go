// Package clock implements H2O's monotonic time source: a ClockChip
// calibrated against a CalibrationClock at boot (spec.md §4.4). There is no
// TSC/HPET/PIT register to read in this build, so every chip here reads
// golang.org/x/sys/unix's CLOCK_MONOTONIC in place of the hardware counter a
// real chip would read; the calibration algorithm, the mul/shift ratio, and
// the TSC-invariant/HPET/PIT selection order are otherwise unchanged from
// what a real kernel does with its actual counters.
package clock

import (
	"time"

	"golang.org/x/sys/unix"
)

// Instant is a monotonic nanosecond timestamp since an arbitrary, per-chip
// epoch (the chip's own construction time).
type Instant uint64

// Sub returns the duration between two Instants from the same chip.
func (i Instant) Sub(o Instant) time.Duration {
	return time.Duration(int64(i) - int64(o))
}

// ClockChip is the capability set spec.md §9's "dynamic dispatch for clock
// chips" calls for: {get_now}. Every implementation is total — Now never
// fails.
type ClockChip interface {
	Now() Instant
}

// CalibrationClock additionally exposes the three steps calibrate() drives
// a reference clock through. prepare/cycle/cleanup are not safe for
// concurrent use; calibrate() is the only caller.
type CalibrationClock interface {
	ClockChip
	Prepare(ms uint64)
	Cycle(ms uint64)
	Cleanup()
}

// rawCounter abstracts the monotonic source a chip reads between Prepare and
// Cycle — rdtsc on the real TSC chip, the HPET main counter, or the PIT's
// countdown register. Tests substitute a deterministic fake.
type rawCounter func() uint64

func unixNanos() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		panic("clock: CLOCK_MONOTONIC unavailable: " + err.Error())
	}
	return uint64(ts.Sec)*1_000_000_000 + uint64(ts.Nsec)
}

// factorFromFreq computes the mul/shift pair such that
// (ticks*mul)>>sft approximates ticks*1e6/khz nanoseconds without
// overflowing a 64-bit tick count multiplied by mul.
func factorFromFreq(khz uint64) (mul uint64, sft uint64) {
	sft = 32
	for sft > 0 {
		mul = ((1_000_000 << sft) + khz/2) / khz
		if mul>>32 == 0 {
			break
		}
		sft--
	}
	return mul, sft
}

// calibrate runs the reference clock through two durations, three trials
// each, and returns the target counter's frequency in kHz. get measures the
// target counter (rdtsc for the TSC, or the reference counter itself when
// calibrating the reference chip against wall-clock).
func calibrate(ref CalibrationClock, get rawCounter) uint64 {
	const tries = 3
	durations := [2]uint64{10, 20}
	best := [2]uint64{^uint64(0), ^uint64(0)}

	for i, ms := range durations {
		for t := 0; t < tries; t++ {
			ref.Prepare(ms)
			start := get()
			ref.Cycle(ms)
			delta := get() - start
			if delta < best[i] {
				best[i] = delta
			}
			ref.Cleanup()
		}
	}
	return (best[1] - best[0]) / (durations[1] - durations[0])
}

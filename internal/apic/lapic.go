// Package apic models the per-CPU Local APIC: the source of the timer
// interrupt the scheduler ticks on and the IPI mechanism it uses to
// preempt or wake a task running on another CPU (spec.md §4.4, §4.8).
//
// Real hardware exposes the Local APIC two ways — as a page of MMIO
// registers (x1 mode) or through a bank of MSRs (x2 mode) — and every
// register access must dispatch on which mode booted. There is no bus to
// dispatch onto here, so Lapic backs both modes with an in-memory register
// file and the split only changes how that file is addressed, exactly the
// way the teacher's x1/x2 objects only changed how a register read reached
// the register.
package apic

import "sync"

// Mode selects how a Lapic's registers are addressed.
type Mode int

const (
	X1 Mode = iota // MMIO-backed
	X2             // MSR-backed
)

// Reg names the subset of Local APIC registers H2O actually drives.
type Reg int

const (
	RegID Reg = iota
	RegEOI
	RegSIVR
	RegESR
	RegICRLo
	RegICRHi
	RegTimerLVT
	RegTimerInitCount
	RegTimerCurCount
	RegTimerDivide
	numRegs
)

// DeliveryMode selects how an IPI's vector is interpreted by the target.
type DeliveryMode int

const (
	Fixed DeliveryMode = iota
	NMI
	Init
	Startup
)

// Lapic is one CPU's Local APIC. Every exported method is safe to call
// only by the CPU that owns this Lapic, except SendIPI, which is how one
// CPU reaches into another's ICR register to deliver an interrupt.
type Lapic struct {
	mu   sync.Mutex
	mode Mode
	id   uint32
	regs [numRegs]uint64
}

// New constructs a Lapic for the given APIC ID, in the given mode.
func New(mode Mode, id uint32) *Lapic {
	l := &Lapic{mode: mode, id: id}
	l.regs[RegID] = uint64(id)
	return l
}

// ID returns the Local APIC's identifier.
func (l *Lapic) ID() uint32 {
	return l.id
}

// Mode reports whether this Lapic was booted in x1 or x2 mode.
func (l *Lapic) Mode() Mode {
	return l.mode
}

// Enable programs the spurious-interrupt vector register, the last step
// of bringing a Local APIC up.
func (l *Lapic) Enable(spuriousVector uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regs[RegSIVR] = 1<<8 | uint64(spuriousVector)
}

// EOI signals end-of-interrupt, permitting further interrupts of equal or
// lower priority to be delivered.
func (l *Lapic) EOI() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.regs[RegEOI] = 0
}

// ICR is the assembled value of a Local APIC's 64-bit interrupt command
// register: target, delivery mode, and vector packed the way SendIPI
// writes them.
type ICR struct {
	Vector   uint8
	Delivery DeliveryMode
	Dest     uint32
}

// SendIPI records icr in this Lapic's ICRLo/ICRHi the way writing the real
// register would. Nothing is delivered to the target: there is no
// pending-interrupt state for the write to reach.
func (l *Lapic) SendIPI(icr ICR) {
	l.mu.Lock()
	l.regs[RegICRLo] = uint64(icr.Vector) | uint64(icr.Delivery)<<8
	l.regs[RegICRHi] = uint64(icr.Dest) << 32
	l.mu.Unlock()
}

// ESR reads the error-status register (set by handleError in a real
// kernel's error interrupt handler; exposed here for diagnostics).
func (l *Lapic) ESR() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.regs[RegESR]
}

// TimerMode selects one-shot or periodic local-APIC timer operation.
type TimerMode int

const (
	OneShot TimerMode = iota
	Periodic
)

// ProgramTimer arms the Local APIC timer: divide configures the input
// clock divisor (1, 2, 4, ... 128), initCount the starting countdown
// value. internal/clock supplies initCount once it has calibrated the bus
// frequency against a reference clock.
func (l *Lapic) ProgramTimer(mode TimerMode, divide uint8, initCount uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lvt := uint64(0)
	if mode == Periodic {
		lvt |= 1 << 17
	}
	l.regs[RegTimerLVT] = lvt
	l.regs[RegTimerDivide] = uint64(divide)
	l.regs[RegTimerInitCount] = uint64(initCount)
	l.regs[RegTimerCurCount] = uint64(initCount)
}

// CurrentCount reads the Local APIC timer's current countdown value.
func (l *Lapic) CurrentCount() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint32(l.regs[RegTimerCurCount])
}

package defs

// Feature is the capability bitset carried by every handle object
// (spec.md §3 "Handle object").
type Feature uint32

const (
	FeatRead Feature = 1 << iota
	FeatWrite
	FeatSend /// object may be detached and sent to another task
	FeatSync /// object may be shared and accessed concurrently
	FeatExecute
)

// Has reports whether all bits of want are set in f.
func (f Feature) Has(want Feature) bool {
	return f&want == want
}

// Handle is the opaque 32-bit capability identifier returned to user space.
// The low 18 bits are an arena index, the top 14 bits a generation; both
// are obscured by XOR-mixing with a per-task random value (spec.md §3, §4.6).
type Handle uint32

const (
	HandleIndexBits = 18
	HandleIndexMax  = 1 << HandleIndexBits // 262144 slots
	HandleIndexMask = HandleIndexMax - 1
	HandleGenBits   = 32 - HandleIndexBits
	HandleGenMax    = 1 << HandleGenBits
)

// ResKind selects the address space a Resource (§3 "Resource") reserves
// intervals from.
type ResKind int

const (
	ResMem ResKind = iota
	ResPIO
	ResGSI
)

// TaskCtl selects the operation performed by the task_ctl syscall (§6).
type TaskCtl int

const (
	CtlKill TaskCtl = iota
	CtlSuspend
	CtlDetach
)

// Signal is the at-most-one pending signal a task can carry (spec.md §4.8).
type Signal int

const (
	SigNone Signal = iota
	SigKill
	SigSuspend
)

// Package boot assembles every package this kernel has built so far into a
// running system: it turns a firmware-supplied memory map and a handful of
// table addresses into an initialized frame allocator, a kernel address
// space, a Local APIC per logical CPU, a calibrated clock, and the shared
// state internal/syscall's handlers dispatch against (spec.md §6's "init
// and bring-up" surface).
//
// There is no UEFI boot stub in this build to source KernelArgs from a real
// loader — the loader-facing field set is kept anyway, grounded on the
// original's KARGS_BASE convention, so a real loader's output and this
// package's input stay shaped the same.
package boot

import (
	"h2o/internal/mem"
)

// KernelArgs is the fixed-size argument block a UEFI loader hands the
// kernel at kmain entry (original_source/h2o/libs/minfo/src/lib.rs's
// KernelArgs). Every field here is in the original; nothing is dropped even
// though this build constructs one directly rather than reading it out of
// a fixed physical page.
type KernelArgs struct {
	// RSDP is the physical address of the ACPI Root System Description
	// Pointer, found via the UEFI configuration table.
	RSDP mem.PAddr
	// SMBIOS is the physical address of the SMBIOS entry point table.
	SMBIOS mem.PAddr

	// EFIMmapPhys, EFIMmapLen and EFIMmapUnit describe the raw UEFI memory
	// map the loader captured right before ExitBootServices: physical
	// address of the first descriptor, total byte length, and the size of
	// one descriptor (which the spec may grow in future firmware
	// revisions, hence carrying it explicitly rather than assuming
	// sizeof(descriptor)).
	EFIMmapPhys mem.PAddr
	EFIMmapLen  uintptr
	EFIMmapUnit uintptr

	// TinitPhys and TinitLen locate the bundled init task image the loader
	// placed in memory for the kernel to map and run first.
	TinitPhys mem.PAddr
	TinitLen  uintptr

	// BootfsPhys and BootfsLen locate the bundled boot filesystem image.
	// H2O has no filesystem driver (see DESIGN.md's dropped-packages
	// list); the fields are kept because the loader still hands them over
	// and a future bootfs consumer would read them from here.
	BootfsPhys mem.PAddr
	BootfsLen  uintptr
}

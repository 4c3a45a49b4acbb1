// Package defs holds the types and constants shared across every H2O kernel
// package: error codes, task identifiers, handle feature bits, and the
// physical memory map vocabulary. Grouping these in one leaf package (as
// biscuit/src/defs did) keeps every other package free of import cycles.
package defs

// Err_t is the kernel-wide error type. Zero means success; a negative
// Err_t is returned verbatim to user space as a syscall result (§6, §7).
type Err_t int

// Error codes returned to user space (spec.md §6). Negative by convention
// so a syscall's single isize return register can multiplex success
// payloads (>= 0) and errors (< 0).
const (
	EPERM    Err_t = -1  /// operation not permitted
	ENOENT   Err_t = -2  /// no such entry
	ESRCH    Err_t = -3  /// no such task
	EFAULT   Err_t = -4  /// bad address
	EBUFFER  Err_t = -5  /// buffer too small or malformed
	EEXIST   Err_t = -6  /// already exists
	EBUSY    Err_t = -7  /// resource busy
	ENOMEM   Err_t = -8  /// out of memory
	EINVAL   Err_t = -9  /// invalid argument
	ERANGE   Err_t = -10 /// value out of range
	EPIPE    Err_t = -11 /// channel peer gone
	ETYPE    Err_t = -12 /// wrong object type
	ECHILD   Err_t = -13 /// no such child task
	EKILLED  Err_t = -14 /// task was killed
	EALREADY Err_t = -15 /// operation already in progress
	EDISCON  Err_t = -16 /// peer disconnected
)

// Internal structural errors (§4.1-4.3). These never cross the syscall
// boundary directly; callers translate them into one of the codes above
// (e.g. MISALIGNED and BADRANGE both surface as EINVAL from a syscall, but
// the distinction matters to address-space callers and tests).
const (
	OOM          Err_t = -100 /// frame allocator exhausted
	MISALIGNED   Err_t = -101 /// address/length not page-aligned
	ALREADY_MAPPED Err_t = -102 /// maps() found an existing leaf
	NOT_MAPPED   Err_t = -103 /// reprotect()/unmaps() found no leaf
	BADRANGE     Err_t = -104 /// range overlaps a record, lies outside the free window, matches no record, or passes the stack limit
)

// String renders the error using its symbolic name for logging.
func (e Err_t) String() string {
	switch e {
	case 0:
		return "OK"
	case EPERM:
		return "EPERM"
	case ENOENT:
		return "ENOENT"
	case ESRCH:
		return "ESRCH"
	case EFAULT:
		return "EFAULT"
	case EBUFFER:
		return "EBUFFER"
	case EEXIST:
		return "EEXIST"
	case EBUSY:
		return "EBUSY"
	case ENOMEM:
		return "ENOMEM"
	case EINVAL:
		return "EINVAL"
	case ERANGE:
		return "ERANGE"
	case EPIPE:
		return "EPIPE"
	case ETYPE:
		return "ETYPE"
	case ECHILD:
		return "ECHILD"
	case EKILLED:
		return "EKILLED"
	case EALREADY:
		return "EALREADY"
	case EDISCON:
		return "EDISCON"
	case OOM:
		return "OOM"
	case MISALIGNED:
		return "MISALIGNED"
	case ALREADY_MAPPED:
		return "ALREADY_MAPPED"
	case NOT_MAPPED:
		return "NOT_MAPPED"
	case BADRANGE:
		return "BADRANGE"
	default:
		return "Err_t(unknown)"
	}
}

package mem

// Canonical layout of the simulated 48-bit virtual address space, named by
// PML4 slot the way the teacher's boot-time direct map was. H2O's address
// spaces don't walk real hardware page tables, but internal/vm and
// internal/paging still reason about "which slot a mapping lives in" when
// picking an address for an anonymous or fixed-address region, so the
// layout is worth keeping as a shared vocabulary.

/// VUSER is the first PML4 slot available to user mappings.
const VUSER int = 0x59

/// USERMIN is the lowest virtual address internal/vm will ever hand out to
/// a user mapping.
const USERMIN int = VUSER << 39

/// VEND is one past the last PML4 slot available to user mappings.
const VEND int = 0x80

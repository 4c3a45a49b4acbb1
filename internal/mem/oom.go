package mem

// OomCh carries out-of-memory notifications from Phys_init's allocators to
// whatever watches for them (the kernel log, a future reclaim daemon).
// There is no reclaim path yet, so a receiver today can only log and let
// the allocation fail with defs.OOM.
var OomCh chan OomMsg = make(chan OomMsg)

/// OomMsg is sent on OomCh when the frame allocator cannot satisfy a
/// request for Need pages. Resume is closed once the sender may retry.
type OomMsg struct {
	Need   int
	Resume chan bool
}

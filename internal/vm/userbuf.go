package vm

import (
	"fmt"
	"sync"

	"h2o/internal/bounds"
	"h2o/internal/defs"
)

// Userbuf_t assists reading and writing user memory. Address lookups and
// accesses are atomic with respect to concurrent modification of the
// address space (the caller holds as's lock for the whole transfer).
type Userbuf_t struct {
	userva int
	len    int
	off    int
	as     *AddrSpace
}

// ub_init initialises the buffer for the given address space.
func (ub *Userbuf_t) ub_init(as *AddrSpace, uva, length int) {
	if length < 0 {
		panic("negative length")
	}
	if length >= 1<<39 {
		fmt.Printf("suspiciously large user buffer (%v)\n", length)
	}
	ub.userva = uva
	ub.len = length
	ub.off = 0
	ub.as = as
}

// Remain returns the number of unread bytes left in the buffer.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

// Totalsz reports the total size of the buffer in bytes.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

// Uioread copies data from user memory into dst.
func (ub *Userbuf_t) Uioread(cpu int, dst []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	a, b := ub.tx(cpu, dst, false)
	ub.as.Unlock_pmap()
	return a, b
}

// Uiowrite copies data from src into user memory.
func (ub *Userbuf_t) Uiowrite(cpu int, src []uint8) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	a, b := ub.tx(cpu, src, true)
	ub.as.Unlock_pmap()
	return a, b
}

// tx copies the min of either the provided buffer or ub's remaining length.
// If an error occurs partway through, ub's offset reflects exactly what was
// transferred, so the caller can restart.
func (ub *Userbuf_t) tx(cpu int, buf []uint8, write bool) (int, defs.Err_t) {
	if !bounds.ReserveNoblock(bounds.UserbufTx) {
		return 0, defs.ENOMEM
	}
	defer bounds.Release(bounds.UserbufTx)

	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		va := ub.userva + ub.off
		ubuf, err := ub.as.Userdmap8_inner(cpu, va, write)
		if err != 0 {
			return ret, err
		}
		end := ub.off + len(ubuf)
		if end > ub.len {
			left := ub.len - ub.off
			ubuf = ubuf[:left]
		}
		var c int
		if write {
			c = copy(ubuf, buf)
		} else {
			c = copy(buf, ubuf)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

// Ubpool provides reusable Userbuf_t structures so the hot copy-in/copy-out
// path behind every syscall argument read (internal/vm's Userreadn,
// Userstr) doesn't allocate one per call.
var Ubpool = sync.Pool{New: func() interface{} { return new(Userbuf_t) }}

// getUserbuf takes a Userbuf_t from Ubpool and initialises it over
// [uva, uva+length).
func getUserbuf(as *AddrSpace, uva, length int) *Userbuf_t {
	ub := Ubpool.Get().(*Userbuf_t)
	ub.ub_init(as, uva, length)
	return ub
}

// putUserbuf returns ub to Ubpool once the caller is done with it.
func putUserbuf(ub *Userbuf_t) {
	Ubpool.Put(ub)
}

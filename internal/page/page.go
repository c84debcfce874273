// Package page implements the kernel's physical page pool: a
// high-water-mark bump allocator. Pages are zeroed on allocation and
// never individually reclaimed; Free only clears the page's Allocated
// bookkeeping flag so the pool's state stays consistent.
package page

import (
	"unsafe"

	"rvos/internal/bitfield"
	"rvos/internal/kconfig"
	"rvos/internal/ksync"
)

// Flags describes the bookkeeping bits the allocator tracks for each
// page, packed into a uint32.
type Flags struct {
	Allocated  bool   `bitfield:",1"`
	KernelPage bool   `bitfield:",1"`
	Reserved   uint32 `bitfield:",30"`
}

// Pack returns f packed into its in-memory uint32 representation.
func (f Flags) Pack() uint32 {
	v, err := bitfield.Pack(f, &bitfield.Config{NumBits: 32})
	if err != nil {
		// Flags is a fixed, internally-consistent struct; a packing
		// error here means a programming mistake, not bad input.
		panic(err)
	}
	return uint32(v)
}

// Unpack decodes a uint32 produced by Pack back into Flags.
func Unpack(v uint32) Flags {
	var f Flags
	_ = bitfield.Unpack(uint64(v), &f)
	return f
}

// Pool is a bump page allocator over a caller-supplied arena. A single
// spinlock serializes the high-water-mark update.
type Pool struct {
	lock      ksync.SpinLock
	arena     []byte
	next      uint32 // byte offset of the next unallocated page
	flags     []uint32
	allocated uint32 // number of pages ever allocated (monotonic; no reclaim)
}

// Init installs arena (which must be a whole number of
// kconfig.PageSize pages) as the pool's backing store.
func Init(arena []byte) *Pool {
	numPages := uint32(len(arena)) / kconfig.PageSize
	return &Pool{
		arena: arena,
		flags: make([]uint32, numPages),
	}
}

// NumPages returns the total page capacity of the pool.
func (p *Pool) NumPages() uint32 {
	return uint32(len(p.flags))
}

// Alloc reserves the next never-before-used page, zeroes it, and
// returns its byte offset within the arena. It reports false once the
// pool is exhausted.
func (p *Pool) Alloc(kernel bool) (offset uint32, ok bool) {
	p.lock.Lock()
	defer p.lock.Unlock()

	idx := p.next / kconfig.PageSize
	if idx >= uint32(len(p.flags)) {
		return 0, false
	}
	off := p.next
	p.next += kconfig.PageSize

	region := p.arena[off : off+kconfig.PageSize]
	for i := range region {
		region[i] = 0
	}

	p.flags[idx] = Flags{Allocated: true, KernelPage: kernel}.Pack()
	p.allocated++
	return off, true
}

// Free marks the page as no longer allocated in the per-page flag
// bookkeeping but does NOT return it to an allocatable free list: the
// bump pointer never moves backward, so a freed page is never handed
// out a second time.
func (p *Pool) Free(offset uint32) {
	p.lock.Lock()
	defer p.lock.Unlock()

	idx := offset / kconfig.PageSize
	if idx >= uint32(len(p.flags)) {
		return
	}
	f := Unpack(p.flags[idx])
	f.Allocated = false
	p.flags[idx] = f.Pack()
}

// FlagsAt returns the bookkeeping flags for the page at offset.
func (p *Pool) FlagsAt(offset uint32) Flags {
	idx := offset / kconfig.PageSize
	if idx >= uint32(len(p.flags)) {
		return Flags{}
	}
	return Unpack(p.flags[idx])
}

// Allocated returns how many pages have ever been handed out.
func (p *Pool) Allocated() uint32 {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.allocated
}

// Ptr returns an unsafe.Pointer to the start of the page at offset,
// for callers (internal/task) that need a real pointer to set up a
// stack.
func (p *Pool) Ptr(offset uint32) unsafe.Pointer {
	return unsafe.Pointer(&p.arena[offset])
}

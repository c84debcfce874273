// Package heap implements the kernel's byte-granular allocator: a
// singly linked list of segment headers in strictly ascending address
// order, first-fit allocation with tail-split, and forward/backward
// coalescing on free.
//
// The allocator runs over a caller-supplied byte arena instead of a
// hardcoded physical address. Headers are reached by casting an offset
// into the arena, so the same code path serves the statically reserved
// kernel region on hardware and a plain Go slice under test.
package heap

import (
	"unsafe"

	"rvos/internal/kconfig"
	"rvos/internal/ksync"
)

const align = kconfig.HeapAlign

type header struct {
	next uint32 // byte offset of the next header within the arena, or sentinel
	size uint32 // size of the data region following this header, in bytes
	free uint32 // 1 if free, 0 if allocated
	_pad uint32
}

const headerSize = 16 // unsafe.Sizeof(header{}), fixed so arena math is portable
const noNext = ^uint32(0)

// Heap is a first-fit allocator over a caller-supplied byte arena.
// All operations are serialized by a single spinlock.
type Heap struct {
	lock      ksync.SpinLock
	arena     []byte
	allocated uint64 // running count of allocated (non-header) bytes
}

// Init installs arena as the backing store and writes a single free
// header spanning it. arena must be at least headerSize+align bytes.
func Init(arena []byte) *Heap {
	h := &Heap{arena: arena}
	hd := h.at(0)
	hd.next = noNext
	hd.size = uint32(len(arena)) - headerSize
	hd.free = 1
	return h
}

func (h *Heap) at(off uint32) *header {
	return (*header)(unsafe.Pointer(&h.arena[off]))
}

func roundUp(n uint32) uint32 {
	return (n + align - 1) &^ (align - 1)
}

// Alloc reserves a contiguous region of at least size bytes and
// returns its byte offset within the arena, or false if no free
// segment is large enough.
func (h *Heap) Alloc(size uint32) (offset uint32, ok bool) {
	if size == 0 {
		size = align
	}
	size = roundUp(size)

	h.lock.Lock()
	defer h.lock.Unlock()

	off := uint32(0)
	for {
		hd := h.at(off)
		if hd.free == 1 && hd.size >= size {
			h.splitAndTake(off, size)
			// count the whole segment taken, which is what Free subtracts
			h.allocated += uint64(hd.size)
			return off + headerSize, true
		}
		if hd.next == noNext {
			return 0, false
		}
		off = hd.next
	}
}

// splitAndTake marks the segment at off allocated, carving a new free
// segment out of the remainder if it is large enough to hold another
// header plus a minimum-size allocation.
func (h *Heap) splitAndTake(off, size uint32) {
	hd := h.at(off)
	remainder := hd.size - size
	if remainder >= headerSize+align {
		newOff := off + headerSize + size
		newHd := h.at(newOff)
		newHd.next = hd.next
		newHd.size = remainder - headerSize
		newHd.free = 1

		hd.next = newOff
		hd.size = size
	}
	hd.free = 0
}

// Free releases the region previously returned by Alloc at the given
// data offset. Freeing offset 0 is a no-op: Alloc never returns a
// data offset below headerSize, so 0 is this API's null pointer. The
// freed segment is coalesced with its successor when that segment is
// free, then with its predecessor, found by a linear scan from the
// arena head since headers are singly linked in ascending address
// order.
func (h *Heap) Free(offset uint32) {
	if offset == 0 {
		return
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	off := offset - headerSize
	hd := h.at(off)
	hd.free = 1
	h.allocated -= uint64(hd.size)

	if hd.next != noNext {
		next := h.at(hd.next)
		if next.free == 1 {
			hd.size += headerSize + next.size
			hd.next = next.next
		}
	}

	h.coalesceBackward(off)
}

// coalesceBackward scans from the arena head for the header
// immediately preceding off and merges it into off if both are free.
func (h *Heap) coalesceBackward(off uint32) {
	cur := uint32(0)
	for cur != off {
		hd := h.at(cur)
		next := hd.next
		if next == off && hd.free == 1 {
			target := h.at(off)
			hd.size += headerSize + target.size
			hd.next = target.next
			return
		}
		if next == noNext {
			return
		}
		cur = next
	}
}

// Bytes returns the backing arena as a byte slice for reading or
// writing allocated data at a given offset.
func (h *Heap) Bytes() []byte {
	return h.arena
}

// Allocated returns the number of bytes currently allocated,
// excluding headers.
func (h *Heap) Allocated() uint64 {
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.allocated
}

// Walk invokes fn for every segment header in ascending address
// order, reporting its data offset, size, and free state. Used by
// tests to verify the no-overlap and ascending-order invariants.
func (h *Heap) Walk(fn func(dataOffset, size uint32, free bool)) {
	h.lock.Lock()
	defer h.lock.Unlock()

	off := uint32(0)
	for {
		hd := h.at(off)
		fn(off+headerSize, hd.size, hd.free == 1)
		if hd.next == noNext {
			return
		}
		off = hd.next
	}
}

package page

import (
	"testing"

	"rvos/internal/kconfig"
)

func TestAllocZeroesAndAdvances(t *testing.T) {
	arena := make([]byte, 8*kconfig.PageSize)
	for i := range arena {
		arena[i] = 0xAA
	}
	p := Init(arena)

	off, ok := p.Alloc(false)
	if !ok {
		t.Fatal("Alloc failed")
	}
	if off != 0 {
		t.Fatalf("first Alloc offset = %d, want 0", off)
	}
	for i := off; i < off+kconfig.PageSize; i++ {
		if arena[i] != 0 {
			t.Fatalf("page not zeroed at byte %d", i)
		}
	}

	off2, ok := p.Alloc(true)
	if !ok {
		t.Fatal("second Alloc failed")
	}
	if off2 != kconfig.PageSize {
		t.Fatalf("second Alloc offset = %d, want %d", off2, kconfig.PageSize)
	}
}

func TestAllocExhaustsPool(t *testing.T) {
	arena := make([]byte, 2*kconfig.PageSize)
	p := Init(arena)

	if _, ok := p.Alloc(false); !ok {
		t.Fatal("first Alloc should succeed")
	}
	if _, ok := p.Alloc(false); !ok {
		t.Fatal("second Alloc should succeed")
	}
	if _, ok := p.Alloc(false); ok {
		t.Fatal("third Alloc should fail: pool exhausted")
	}
}

func TestFreeDoesNotReclaim(t *testing.T) {
	arena := make([]byte, 2*kconfig.PageSize)
	p := Init(arena)

	off, ok := p.Alloc(false)
	if !ok {
		t.Fatal("Alloc failed")
	}
	p.Free(off)

	if f := p.FlagsAt(off); f.Allocated {
		t.Fatal("Free should clear the Allocated flag")
	}

	// Freeing must not make the page allocatable again: the pool has
	// no reclaim path, so the bump pointer should not move backward
	// and the freed page must not be handed out a second time ahead
	// of fresh pages.
	off2, ok := p.Alloc(false)
	if !ok {
		t.Fatal("Alloc after Free failed")
	}
	if off2 == off {
		t.Fatal("Alloc reused a freed page; the pool must not reclaim")
	}
}

func TestFlagsRoundTrip(t *testing.T) {
	arena := make([]byte, kconfig.PageSize)
	p := Init(arena)
	off, _ := p.Alloc(true)

	f := p.FlagsAt(off)
	if !f.Allocated || !f.KernelPage {
		t.Fatalf("flags = %+v, want Allocated and KernelPage set", f)
	}
}

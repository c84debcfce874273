package elfload

import (
	"encoding/binary"
	"testing"

	"rvos/internal/heap"
)

// buildMinimalELF constructs a minimal valid ELF64/RISC-V image with
// one PT_LOAD segment containing payload, for testing purposes.
func buildMinimalELF(payload []byte, vaddr, entry uint64) []byte {
	const ehdrSize = 64
	const phdrSize = 56
	phoff := uint64(ehdrSize)
	dataOff := phoff + phdrSize

	buf := make([]byte, dataOff+uint64(len(payload)))
	copy(buf[0:4], elfMagic[:])
	buf[4] = 2 // ELFCLASS64
	binary.LittleEndian.PutUint16(buf[18:20], elfMachineRISCV)
	binary.LittleEndian.PutUint64(buf[24:32], entry)
	binary.LittleEndian.PutUint64(buf[32:40], phoff)
	binary.LittleEndian.PutUint16(buf[54:56], phdrSize)
	binary.LittleEndian.PutUint16(buf[56:58], 1)

	ph := buf[phoff : phoff+phdrSize]
	binary.LittleEndian.PutUint32(ph[0:4], ptLoad)
	binary.LittleEndian.PutUint64(ph[8:16], dataOff)
	binary.LittleEndian.PutUint64(ph[16:24], vaddr)
	binary.LittleEndian.PutUint64(ph[32:40], uint64(len(payload)))
	binary.LittleEndian.PutUint64(ph[40:48], uint64(len(payload))+16) // memsz > filesz: BSS tail

	copy(buf[dataOff:], payload)
	return buf
}

func readerOver(image []byte) Reader {
	return func(buf []byte, offset uint32) int {
		if int(offset) >= len(image) {
			return 0
		}
		n := copy(buf, image[offset:])
		return n
	}
}

func newTestScratch() *heap.Heap {
	return heap.Init(make([]byte, 64*1024))
}

func TestLoadParsesEntryAndSegment(t *testing.T) {
	payload := []byte("kernel payload bytes")
	image := buildMinimalELF(payload, 0x1000, 0x1040)

	l := New(readerOver(image), newTestScratch())
	entry, segs, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if entry != 0x1040 {
		t.Fatalf("entry = %x, want 0x1040", entry)
	}
	if len(segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(segs))
	}
	seg := segs[0]
	if seg.VAddr != 0x1000 {
		t.Fatalf("VAddr = %x, want 0x1000", seg.VAddr)
	}
	if string(seg.Data) != string(payload) {
		t.Fatalf("Data = %q, want %q", seg.Data, payload)
	}
	if seg.MemSize <= seg.FileSize {
		t.Fatal("expected MemSize > FileSize to exercise a BSS tail")
	}
}

func TestLoadStagesSegmentsInScratchAndReleases(t *testing.T) {
	payload := []byte("segment bytes to stage")
	image := buildMinimalELF(payload, 0x1000, 0x1000)
	scratch := newTestScratch()

	l := New(readerOver(image), scratch)
	_, segs, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if scratch.Allocated() == 0 {
		t.Fatal("Load should hold segment bytes in scratch buffers")
	}

	l.Release(segs)
	if scratch.Allocated() != 0 {
		t.Fatalf("scratch still holds %d bytes after Release, want 0", scratch.Allocated())
	}
	if segs[0].Data != nil {
		t.Fatal("Release should drop the segment's view of the scratch arena")
	}
}

func TestLoadFailsWhenScratchExhausted(t *testing.T) {
	payload := make([]byte, 4096)
	image := buildMinimalELF(payload, 0x1000, 0x1000)
	scratch := heap.Init(make([]byte, 256)) // far too small for the segment

	l := New(readerOver(image), scratch)
	if _, _, err := l.Load(); err != ErrNoMemory {
		t.Fatalf("err = %v, want ErrNoMemory", err)
	}
	if scratch.Allocated() != 0 {
		t.Fatalf("failed Load left %d scratch bytes allocated, want 0", scratch.Allocated())
	}
}

func TestLoadRejectsBadMagic(t *testing.T) {
	image := buildMinimalELF([]byte("x"), 0x1000, 0x1000)
	image[0] = 0x00
	l := New(readerOver(image), newTestScratch())
	if _, _, err := l.Load(); err != ErrNotELF {
		t.Fatalf("err = %v, want ErrNotELF", err)
	}
}

func TestLoadRejectsWrongMachine(t *testing.T) {
	image := buildMinimalELF([]byte("x"), 0x1000, 0x1000)
	binary.LittleEndian.PutUint16(image[18:20], 0x3E) // x86-64
	l := New(readerOver(image), newTestScratch())
	if _, _, err := l.Load(); err != ErrWrongMachine {
		t.Fatalf("err = %v, want ErrWrongMachine", err)
	}
}

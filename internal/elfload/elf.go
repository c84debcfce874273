// Package elfload implements the minimal ELF64 loader consumed by the
// exec syscall: read the header, validate it targets RISC-V, walk the
// PT_LOAD program headers, and report the segments the caller must
// copy into memory with their BSS tails zeroed. File bytes come
// through a Reader callback, so the loader does not need to know how
// the backing file system stores them, and segment contents are
// staged in buffers taken from a Scratch allocator (the kernel heap)
// rather than long-lived memory: the caller copies each segment to
// its load address and then calls Release.
package elfload

import "encoding/binary"

const (
	ptLoad          = 1
	elfMachineRISCV = 0xF3
)

var elfMagic = [4]byte{0x7f, 'E', 'L', 'F'}

// Reader reads a file's contents the way fs.FS.Read does: up to
// len(buf) bytes starting at offset, returning the count copied.
type Reader func(buf []byte, offset uint32) int

// Scratch supplies the staging buffers segment contents are read
// into. *heap.Heap satisfies it directly.
type Scratch interface {
	Alloc(size uint32) (offset uint32, ok bool)
	Free(offset uint32)
	Bytes() []byte
}

// Segment describes one PT_LOAD program header to be materialized in
// memory. Data points into the Scratch arena and is only valid until
// Release.
type Segment struct {
	VAddr    uint64
	FileSize uint64
	MemSize  uint64
	Data     []byte // exactly FileSize bytes read from the file
	scratch  uint32 // staging buffer offset; 0 when FileSize is 0
}

// Loader parses headers via Reader and reports the entry point and
// the PT_LOAD segments that must be copied into memory and BSS-zeroed
// by the caller.
type Loader struct {
	read    Reader
	scratch Scratch
}

// New creates a Loader over the given file reader and staging
// allocator.
func New(read Reader, scratch Scratch) *Loader {
	return &Loader{read: read, scratch: scratch}
}

// LoadError is a sentinel load failure, kept as a plain string error
// since nothing above the exec syscall needs to branch on error
// identity beyond logging it.
type LoadError string

func (e LoadError) Error() string { return string(e) }

const (
	ErrNotELF       = LoadError("elfload: not an ELF64 file")
	ErrWrongMachine = LoadError("elfload: not a RISC-V ELF64 file")
	ErrTruncated    = LoadError("elfload: truncated ELF header")
	ErrNoMemory     = LoadError("elfload: no scratch memory for segment")
)

// Load parses the ELF64 header and program header table, returning
// the entry point and the PT_LOAD segments in file order. On success
// the caller owns the segments' staging buffers and must hand them
// back with Release after copying them out; on error nothing is left
// allocated.
func (l *Loader) Load() (entry uint64, segments []Segment, err error) {
	var hdr [64]byte
	if n := l.read(hdr[:], 0); n != len(hdr) {
		return 0, nil, ErrTruncated
	}
	if [4]byte(hdr[0:4]) != elfMagic {
		return 0, nil, ErrNotELF
	}
	if hdr[4] != 2 { // EI_CLASS == ELFCLASS64
		return 0, nil, ErrNotELF
	}
	machine := binary.LittleEndian.Uint16(hdr[18:20])
	if machine != elfMachineRISCV {
		return 0, nil, ErrWrongMachine
	}

	entry = binary.LittleEndian.Uint64(hdr[24:32])
	phoff := binary.LittleEndian.Uint64(hdr[32:40])
	phentsize := binary.LittleEndian.Uint16(hdr[54:56])
	phnum := binary.LittleEndian.Uint16(hdr[56:58])

	for i := uint16(0); i < phnum; i++ {
		var ph [56]byte
		off := uint32(phoff) + uint32(i)*uint32(phentsize)
		if n := l.read(ph[:], off); n < 56 {
			l.Release(segments)
			return 0, nil, ErrTruncated
		}
		pType := binary.LittleEndian.Uint32(ph[0:4])
		if pType != ptLoad {
			continue
		}
		vaddr := binary.LittleEndian.Uint64(ph[16:24])
		fileOff := binary.LittleEndian.Uint64(ph[8:16])
		filesz := binary.LittleEndian.Uint64(ph[32:40])
		memsz := binary.LittleEndian.Uint64(ph[40:48])

		seg := Segment{VAddr: vaddr, FileSize: filesz, MemSize: memsz}
		if filesz > 0 {
			bufOff, ok := l.scratch.Alloc(uint32(filesz))
			if !ok {
				l.Release(segments)
				return 0, nil, ErrNoMemory
			}
			seg.scratch = bufOff
			seg.Data = l.scratch.Bytes()[bufOff : uint64(bufOff)+filesz]
			if n := l.read(seg.Data, uint32(fileOff)); uint64(n) != filesz {
				l.Release(segments)
				l.scratch.Free(bufOff)
				return 0, nil, ErrTruncated
			}
		}
		segments = append(segments, seg)
	}

	return entry, segments, nil
}

// Release returns the segments' staging buffers to the Scratch
// allocator. Segments with no file bytes carry the null offset, which
// Free treats as a no-op.
func (l *Loader) Release(segments []Segment) {
	for i := range segments {
		l.scratch.Free(segments[i].scratch)
		segments[i].Data = nil
		segments[i].scratch = 0
	}
}

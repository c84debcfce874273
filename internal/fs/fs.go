// Package fs implements the flat, block-oriented file system: a
// superblock, a fixed directory entry table, and a block bitmap laid
// out at the front of a memory-mapped backing store. Files occupy one
// contiguous block run each.
//
// Every operation is serialized under a single owner-tracked mutex
// keyed to the calling task's PID. A write that grows a file past its
// allocated run extends the allocation in place when the immediately
// following blocks are free, and is rejected otherwise, so the bitmap
// and the directory table never disagree about who owns a block.
package fs

import (
	"unsafe"

	"rvos/internal/bitfield"
	"rvos/internal/kconfig"
	"rvos/internal/ksync"
)

// Magic identifies an initialized file system: "OSFS" as a
// little-endian uint32.
const Magic uint32 = 0x4F534653

const bitmapBytes = kconfig.FSBlocks / 8

// EntryAttrs is the attribute byte of a directory entry. Only the Dir
// bit is defined; nothing creates directories yet, so it is always
// clear, but the bit is reserved in the on-disk format.
type EntryAttrs struct {
	Dir      bool  `bitfield:",1"`
	Reserved uint8 `bitfield:",7"`
}

// Pack returns a packed into its on-disk byte.
func (a EntryAttrs) Pack() uint8 {
	v, err := bitfield.Pack(a, &bitfield.Config{NumBits: 8})
	if err != nil {
		panic(err)
	}
	return uint8(v)
}

// UnpackAttrs decodes a directory entry's attribute byte.
func UnpackAttrs(v uint8) EntryAttrs {
	var a EntryAttrs
	_ = bitfield.Unpack(uint64(v), &a)
	return a
}

type direntOnDisk struct {
	Name       [kconfig.MaxFilenameLen]byte
	Size       uint32
	StartBlock uint32
	Blocks     uint32
	Attrs      uint8
	_          [3]byte
}

type superblockOnDisk struct {
	Magic    uint32
	NumFiles uint32
	Files    [kconfig.MaxFiles]direntOnDisk
	Bitmap   [bitmapBytes]byte
}

// FS is the flat file system over a caller-supplied backing arena
// (standing in for the memory-mapped store at kconfig.FSBase).
type FS struct {
	arena []byte
	sb    *superblockOnDisk
	lock  *ksync.Mutex
}

// ArenaSize returns the total number of bytes Init requires its arena
// argument to be: the superblock (magic, directory table, bitmap) plus
// one block-sized slot for every block index the directory table can
// address. cmd/kernel uses this to size the memory-mapped backing
// store at kconfig.FSBase.
func ArenaSize() uint32 {
	return uint32(unsafe.Sizeof(superblockOnDisk{})) + kconfig.FSBlocks*kconfig.BlockSize
}

func sbHeaderBlocks() uint32 {
	size := uint32(unsafe.Sizeof(superblockOnDisk{}))
	return (size + kconfig.BlockSize - 1) / kconfig.BlockSize
}

// Init mounts arena: if it already carries the magic number, the
// existing superblock and bitmap are used as-is; otherwise a fresh
// superblock is written and the blocks occupied by the superblock
// itself are marked allocated in the bitmap.
func Init(arena []byte) *FS {
	f := &FS{
		arena: arena,
		sb:    (*superblockOnDisk)(unsafe.Pointer(&arena[0])),
		lock:  ksync.NewMutex(),
	}
	if f.sb.Magic != Magic {
		*f.sb = superblockOnDisk{Magic: Magic}
		headerBlocks := sbHeaderBlocks()
		for b := uint32(0); b < headerBlocks; b++ {
			setBit(f.sb.Bitmap[:], b)
		}
	}
	return f
}

func setBit(bitmap []byte, i uint32) {
	bitmap[i/8] |= 1 << (i % 8)
}

func clearBit(bitmap []byte, i uint32) {
	bitmap[i/8] &^= 1 << (i % 8)
}

func bitSet(bitmap []byte, i uint32) bool {
	return bitmap[i/8]&(1<<(i%8)) != 0
}

// findFreeBlocks scans for the first run of num contiguous clear bits
// and marks them set. It returns -1 if no such run exists.
func (f *FS) findFreeBlocks(num uint32) int64 {
	if num == 0 {
		return -1
	}
	run := uint32(0)
	start := uint32(0)
	for b := uint32(0); b < kconfig.FSBlocks; b++ {
		if !bitSet(f.sb.Bitmap[:], b) {
			if run == 0 {
				start = b
			}
			run++
			if run == num {
				for i := start; i < start+num; i++ {
					setBit(f.sb.Bitmap[:], i)
				}
				return int64(start)
			}
		} else {
			run = 0
		}
	}
	return -1
}

func (f *FS) findFile(name string) int {
	for i := uint32(0); i < f.sb.NumFiles; i++ {
		if cstr(f.sb.Files[i].Name[:]) == name {
			return int(i)
		}
	}
	return -1
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func numBlocksFor(size uint32) uint32 {
	return (size + kconfig.BlockSize - 1) / kconfig.BlockSize
}

// Create installs a new directory entry of the given size, allocating
// its block run. It rejects the request if the name does not fit the
// entry's name field with its NUL terminator, the directory table is
// full, the name already exists, or there is no free contiguous run
// large enough.
func (f *FS) Create(pid int32, name string, size uint32) bool {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)
	return f.createLocked(name, size)
}

func (f *FS) createLocked(name string, size uint32) bool {
	if len(name) >= kconfig.MaxFilenameLen {
		return false
	}
	if f.sb.NumFiles >= kconfig.MaxFiles {
		return false
	}
	if f.findFile(name) != -1 {
		return false
	}
	numBlocks := numBlocksFor(size)
	start := f.findFreeBlocks(numBlocks)
	if start == -1 {
		return false
	}

	e := &f.sb.Files[f.sb.NumFiles]
	*e = direntOnDisk{}
	copy(e.Name[:], name)
	e.Size = size
	e.StartBlock = uint32(start)
	e.Blocks = numBlocks
	e.Attrs = EntryAttrs{}.Pack()
	f.sb.NumFiles++
	return true
}

// Remove deletes a file: its block run is returned to the bitmap and
// its directory entry is compacted out of the table. It reports false
// if no file has that name.
func (f *FS) Remove(pid int32, name string) bool {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)

	idx := f.findFile(name)
	if idx == -1 {
		return false
	}
	e := &f.sb.Files[idx]
	for b := e.StartBlock; b < e.StartBlock+e.Blocks; b++ {
		clearBit(f.sb.Bitmap[:], b)
	}
	for i := uint32(idx); i+1 < f.sb.NumFiles; i++ {
		f.sb.Files[i] = f.sb.Files[i+1]
	}
	f.sb.Files[f.sb.NumFiles-1] = direntOnDisk{}
	f.sb.NumFiles--
	return true
}

// blockData returns the backing bytes for a data block, addressed
// immediately after the superblock region.
func (f *FS) blockData(block uint32) []byte {
	base := uint32(unsafe.Sizeof(superblockOnDisk{}))
	dataOff := base + block*kconfig.BlockSize
	return f.arena[dataOff : dataOff+kconfig.BlockSize]
}

// Read copies up to len(buf) bytes starting at offset into buf,
// clamped to the file's recorded size, and returns the number of
// bytes copied. It returns -1 if the file does not exist.
func (f *FS) Read(pid int32, name string, buf []byte, offset uint32) int {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)

	idx := f.findFile(name)
	if idx == -1 {
		return -1
	}
	e := &f.sb.Files[idx]
	if offset >= e.Size {
		return 0
	}
	toRead := uint32(len(buf))
	if offset+toRead > e.Size {
		toRead = e.Size - offset
	}

	var copied uint32
	for copied < toRead {
		block := e.StartBlock + (offset+copied)/kconfig.BlockSize
		blockOff := (offset + copied) % kconfig.BlockSize
		n := kconfig.BlockSize - blockOff
		remaining := toRead - copied
		if n > remaining {
			n = remaining
		}
		data := f.blockData(block)
		copy(buf[copied:copied+n], data[blockOff:blockOff+n])
		copied += n
	}
	return int(copied)
}

// Write copies data into the file at offset, creating the file (sized
// offset+len(data)) if it does not exist. If the write extends past
// the file's currently allocated block run, Write extends the
// allocation with the immediately following blocks; if any of them is
// taken, the write is rejected and the file is left unmodified.
func (f *FS) Write(pid int32, name string, data []byte, offset uint32) int {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)

	idx := f.findFile(name)
	if idx == -1 {
		if !f.createLocked(name, offset+uint32(len(data))) {
			return -1
		}
		idx = f.findFile(name)
	}
	e := &f.sb.Files[idx]

	newSize := offset + uint32(len(data))
	if newSize > e.Size {
		neededBlocks := numBlocksFor(newSize)
		if neededBlocks > e.Blocks {
			extra := neededBlocks - e.Blocks
			// only the blocks directly after the current run keep the
			// file contiguous
			if !f.extendContiguous(e.StartBlock+e.Blocks, extra) {
				return -1
			}
			e.Blocks += extra
		}
		e.Size = newSize
	}

	var copied uint32
	for copied < uint32(len(data)) {
		block := e.StartBlock + (offset+copied)/kconfig.BlockSize
		blockOff := (offset + copied) % kconfig.BlockSize
		n := kconfig.BlockSize - blockOff
		remaining := uint32(len(data)) - copied
		if n > remaining {
			n = remaining
		}
		dst := f.blockData(block)
		copy(dst[blockOff:blockOff+n], data[copied:copied+n])
		copied += n
	}
	return int(copied)
}

func (f *FS) extendContiguous(start, num uint32) bool {
	for b := start; b < start+num; b++ {
		if b >= kconfig.FSBlocks || bitSet(f.sb.Bitmap[:], b) {
			return false
		}
	}
	for b := start; b < start+num; b++ {
		setBit(f.sb.Bitmap[:], b)
	}
	return true
}

// List returns the names of every file currently in the directory
// table.
func (f *FS) List(pid int32) []string {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)

	names := make([]string, 0, f.sb.NumFiles)
	for i := uint32(0); i < f.sb.NumFiles; i++ {
		names = append(names, cstr(f.sb.Files[i].Name[:]))
	}
	return names
}

// ListBytes writes every file name into buf, each followed by a
// newline, then a terminating NUL, and returns the number of bytes
// before the NUL. Names that would not fit (including their newline
// and the NUL) are dropped.
func (f *FS) ListBytes(pid int32, buf []byte) int {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)

	n := 0
	for i := uint32(0); i < f.sb.NumFiles; i++ {
		name := cstr(f.sb.Files[i].Name[:])
		if n+len(name)+2 > len(buf) {
			break
		}
		n += copy(buf[n:], name)
		buf[n] = '\n'
		n++
	}
	if n < len(buf) {
		buf[n] = 0
	}
	return n
}

// Stat returns the recorded size and block count of a file.
func (f *FS) Stat(pid int32, name string) (size, blocks uint32, ok bool) {
	f.lock.Lock(pid)
	defer f.lock.Unlock(pid)
	idx := f.findFile(name)
	if idx == -1 {
		return 0, 0, false
	}
	return f.sb.Files[idx].Size, f.sb.Files[idx].Blocks, true
}

// BlockInUse reports whether the bitmap marks block b allocated, for
// invariant checks.
func (f *FS) BlockInUse(b uint32) bool {
	return bitSet(f.sb.Bitmap[:], b)
}

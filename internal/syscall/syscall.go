// Package syscall implements the kernel's fixed system-call surface:
// a single dispatch entry that takes a call number and up to four
// argument words and routes to the task, file-system, and UART
// primitives those calls expose to user programs and the shell.
//
// Every pointer argument is validated against the user-accessible
// address window before it is dereferenced; a pointer outside the
// window fails the call with the sentinel instead of letting user
// code read or clobber kernel state.
package syscall

import (
	"rvos/internal/elfload"
	"rvos/internal/fs"
	"rvos/internal/heap"
	"rvos/internal/kconfig"
	"rvos/internal/sched"
	"rvos/internal/task"
	"rvos/internal/uart"
)

// ErrSentinel is the "negative one" word returned for an unrecognized
// call number or a rejected argument.
const ErrSentinel int64 = -1

// Memory validates and resolves pointer arguments crossing the
// syscall boundary against the kernel/user address split.
type Memory interface {
	// View returns the n bytes at addr for read/write by the caller, or
	// ok=false if any part of [addr, addr+n) falls outside the
	// user-accessible window.
	View(addr uint64, n uint32) (buf []byte, ok bool)
	// CString reads a NUL-terminated string of at most max bytes
	// (including the NUL) starting at addr, or ok=false if addr is not
	// user-accessible or no NUL is found within max bytes.
	CString(addr uint64, max uint32) (s string, ok bool)
	// Raw returns the n bytes at addr without the user-window check,
	// for kernel-trusted callers such as the ELF loader writing a
	// program's own declared segments.
	Raw(addr uint64, n uint64) (buf []byte, ok bool)
}

// FlatMemory is a Memory backed by a single contiguous arena standing
// in for the identity-mapped physical address space. base is the
// physical address of arena[0].
type FlatMemory struct {
	arena []byte
	base  uint64
}

// NewFlatMemory wraps arena as the physical address range
// [base, base+len(arena)).
func NewFlatMemory(arena []byte, base uint64) *FlatMemory {
	return &FlatMemory{arena: arena, base: base}
}

func (m *FlatMemory) slice(addr uint64, n uint64) (buf []byte, ok bool) {
	if addr < m.base {
		return nil, false
	}
	off := addr - m.base
	end := off + n
	if end > uint64(len(m.arena)) || end < off {
		return nil, false
	}
	return m.arena[off:end], true
}

func (m *FlatMemory) inUserWindow(addr, n uint64) bool {
	if n == 0 {
		return addr >= kconfig.UserBase && addr <= kconfig.UserTop
	}
	end := addr + n
	return addr >= kconfig.UserBase && end <= kconfig.UserTop && end >= addr
}

// View implements Memory.
func (m *FlatMemory) View(addr uint64, n uint32) ([]byte, bool) {
	if !m.inUserWindow(addr, uint64(n)) {
		return nil, false
	}
	return m.slice(addr, uint64(n))
}

// CString implements Memory.
func (m *FlatMemory) CString(addr uint64, max uint32) (string, bool) {
	if !m.inUserWindow(addr, uint64(max)) {
		return "", false
	}
	buf, ok := m.slice(addr, uint64(max))
	if !ok {
		return "", false
	}
	for i, c := range buf {
		if c == 0 {
			return string(buf[:i]), true
		}
	}
	return "", false
}

// Raw implements Memory.
func (m *FlatMemory) Raw(addr uint64, n uint64) ([]byte, bool) {
	return m.slice(addr, n)
}

// Dispatcher routes syscall numbers to their handlers over a task
// table, scheduler, file system, UART driver, and the kernel heap
// (which stages exec's segment reads).
type Dispatcher struct {
	tasks *task.Table
	sched *sched.Scheduler
	fsys  *fs.FS
	tty   *uart.Driver
	kheap *heap.Heap
	mem   Memory
}

// New creates a Dispatcher wired to the given kernel subsystems.
func New(tasks *task.Table, scheduler *sched.Scheduler, fsys *fs.FS, tty *uart.Driver, kheap *heap.Heap, mem Memory) *Dispatcher {
	return &Dispatcher{tasks: tasks, sched: scheduler, fsys: fsys, tty: tty, kheap: kheap, mem: mem}
}

// Handle dispatches one syscall. Unknown numbers return ErrSentinel.
func (d *Dispatcher) Handle(num int64, a0, a1, a2, a3 uint64) int64 {
	switch num {
	case kconfig.SysExit:
		return d.sysExit(int32(a0))
	case kconfig.SysWrite:
		return d.sysWrite(int32(a0), a1, uint32(a2))
	case kconfig.SysRead:
		return d.sysRead(int32(a0), a1, uint32(a2))
	case kconfig.SysFork:
		return d.sysFork()
	case kconfig.SysExec:
		return d.sysExec(a0, a1)
	case kconfig.SysWait:
		return d.sysWait(int32(a0))
	case kconfig.SysOpen, kconfig.SysClose:
		return 0
	case kconfig.SysReadFS:
		return d.sysReadFS(a0, a1, uint32(a2))
	case kconfig.SysWriteFS:
		return d.sysWriteFS(a0, a1, uint32(a2))
	default:
		return ErrSentinel
	}
}

// sysExit terminates the calling task and yields. On real hardware
// this never returns to its caller, since the exited task is never
// scheduled again; the Go-level call still returns so Handle remains
// an ordinary function under the no-op test Switcher.
func (d *Dispatcher) sysExit(code int32) int64 {
	d.tasks.Exit(code)
	d.sched.Yield()
	return 0
}

const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

func (d *Dispatcher) sysWrite(fd int32, bufAddr uint64, n uint32) int64 {
	if fd != fdStdout && fd != fdStderr {
		return ErrSentinel
	}
	buf, ok := d.mem.View(bufAddr, n)
	if !ok {
		return ErrSentinel
	}
	for _, c := range buf {
		d.tty.PutChar(c)
	}
	return int64(n)
}

func (d *Dispatcher) sysRead(fd int32, bufAddr uint64, n uint32) int64 {
	if fd != fdStdin {
		return ErrSentinel
	}
	buf, ok := d.mem.View(bufAddr, n)
	if !ok {
		return ErrSentinel
	}
	for i := range buf {
		buf[i] = d.tty.GetChar()
	}
	return int64(n)
}

func (d *Dispatcher) sysFork() int64 {
	childPID, ok := d.tasks.Fork()
	if !ok {
		return ErrSentinel
	}
	slot := d.tasks.Lookup(childPID)
	d.sched.Enqueue(slot)
	return int64(childPID)
}

func (d *Dispatcher) sysExec(pathAddr, _ uint64) int64 {
	path, ok := d.mem.CString(pathAddr, kconfig.MaxFilenameLen)
	if !ok {
		return ErrSentinel
	}
	curPID := d.tasks.Get(d.tasks.Current()).PID

	reader := elfload.Reader(func(buf []byte, offset uint32) int {
		return d.fsys.Read(curPID, path, buf, offset)
	})
	loader := elfload.New(reader, d.kheap)
	entry, segments, err := loader.Load()
	if err != nil {
		return ErrSentinel
	}
	defer loader.Release(segments)

	for _, seg := range segments {
		dst, ok := d.mem.Raw(seg.VAddr, seg.MemSize)
		if !ok {
			return ErrSentinel
		}
		n := copy(dst, seg.Data)
		for i := n; i < len(dst); i++ {
			dst[i] = 0
		}
	}

	d.tasks.Exec(entry)
	return 0
}

func (d *Dispatcher) sysWait(pid int32) int64 {
	for {
		code, status := d.tasks.Wait(pid)
		switch status {
		case task.WaitReaped:
			return int64(code)
		case task.WaitNoChild:
			return ErrSentinel
		}
		d.sched.Yield()
	}
}

func (d *Dispatcher) sysReadFS(pathAddr, bufAddr uint64, n uint32) int64 {
	path, ok := d.mem.CString(pathAddr, kconfig.MaxFilenameLen)
	if !ok {
		return ErrSentinel
	}
	buf, ok := d.mem.View(bufAddr, n)
	if !ok {
		return ErrSentinel
	}
	curPID := d.tasks.Get(d.tasks.Current()).PID
	r := d.fsys.Read(curPID, path, buf, 0)
	return int64(r)
}

func (d *Dispatcher) sysWriteFS(pathAddr, bufAddr uint64, n uint32) int64 {
	path, ok := d.mem.CString(pathAddr, kconfig.MaxFilenameLen)
	if !ok {
		return ErrSentinel
	}
	buf, ok := d.mem.View(bufAddr, n)
	if !ok {
		return ErrSentinel
	}
	curPID := d.tasks.Get(d.tasks.Current()).PID
	w := d.fsys.Write(curPID, path, buf, 0)
	return int64(w)
}

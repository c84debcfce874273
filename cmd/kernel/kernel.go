// Command kernel is rvos's entry point: it performs the ordered
// bring-up (UART, heap, page pool, trap dispatcher, file system, task
// table, then the scheduler built over it, shell task) and hands
// control to the cooperative scheduler's first yield.
//
// Hardware-specific wiring (the physical UART, the memory-mapped
// regions, the real context switch and trap vector) lives in
// entry_riscv64.go; this file is architecture-independent so Boot can
// run under go test against plain byte-slice arenas.
package main

import (
	"reflect"

	"rvos/internal/fs"
	"rvos/internal/heap"
	"rvos/internal/kconfig"
	"rvos/internal/klog"
	"rvos/internal/page"
	"rvos/internal/sched"
	"rvos/internal/shell"
	"rvos/internal/syscall"
	"rvos/internal/task"
	"rvos/internal/trap"
	"rvos/internal/uart"
)

// Config bundles every caller-supplied resource Boot needs. On real
// hardware these are carved out of the "virt" machine's physical RAM
// and MMIO windows by entry_riscv64.go; under go test they are plain
// byte slices backing an in-process harness.
type Config struct {
	UART      *uart.Driver
	HeapArena []byte
	PageArena []byte
	FSArena   []byte
	UserArena []byte
	Switcher  sched.Switcher
	// Halt is invoked by Panic after logging. On real hardware it
	// should loop on a wait-for-interrupt instruction and never
	// return; tests supply a non-looping stub so a triggered panic
	// path can be observed instead of hanging the test binary.
	Halt func()
}

// Kernel holds every subsystem brought up by Boot.
type Kernel struct {
	UART     *uart.Driver
	Heap     *heap.Heap
	Pages    *page.Pool
	Trap     *trap.Dispatcher
	FS       *fs.FS
	Sched    *sched.Scheduler
	Tasks    *task.Table
	Syscalls *syscall.Dispatcher
	Shell    *shell.Shell
	ShellPID int32

	halt func()
}

// main satisfies the package main entry-point requirement for go
// build/test tooling. The real boot path never reaches it: hardware
// jumps straight into KernelMain (entry_riscv64.go) before the Go
// runtime's normal main.main call would occur.
func main() {}

// theKernel lets shellEntry (a zero-argument function, matching the
// calling convention a freshly created task's first resume expects:
// RA points straight at it, per task.Table.Create) reach the booted
// kernel. There is exactly one kernel per boot.
var theKernel *Kernel

func shellEntry() {
	theKernel.Shell.Run()
}

// entryAddr returns fn's compiled entry address, for installing a Go
// function as a task's first-resume program counter. reflect.Pointer
// is the runtime-supported way to obtain it without depending on the
// internal funcval layout.
func entryAddr(fn func()) uint64 {
	return uint64(reflect.ValueOf(fn).Pointer())
}

// Boot performs the ordered bring-up and returns the assembled
// kernel. Any failure before the shell task exists calls Panic
// directly instead of returning an error; there is no caller yet that
// could do anything with one.
func Boot(cfg Config) *Kernel {
	k := &Kernel{UART: cfg.UART, halt: cfg.Halt}
	theKernel = k

	if cfg.UART == nil {
		k.Panic("rvos: no UART configured")
		return k
	}

	klog.SetSink(cfg.UART)
	klog.Info("rvos: booting")

	k.Heap = heap.Init(cfg.HeapArena)
	klog.Info("rvos: heap initialized")

	k.Pages = page.Init(cfg.PageArena)
	klog.Info("rvos: page pool initialized")

	var yieldFn func()
	k.Trap = trap.New(trap.Hooks{
		Yield: func() {
			if yieldFn != nil {
				yieldFn()
			}
		},
		Fatal: func(f trap.Frame) {
			k.Panic("rvos: unhandled trap")
		},
	})
	klog.Hex("rvos: timer/trap dispatcher initialized, time", trap.Time())

	if uint32(len(cfg.FSArena)) < fs.ArenaSize() {
		k.Panic("rvos: file system arena too small")
		return k
	}
	k.FS = fs.Init(cfg.FSArena)
	klog.Info("rvos: file system mounted")

	k.Tasks = task.NewTable(k.Pages)
	k.Sched = sched.New(k.Tasks, cfg.Switcher)
	yieldFn = k.Sched.Yield
	klog.Info("rvos: scheduler and task table initialized (idle task = PID 0)")

	k.Syscalls = syscall.New(k.Tasks, k.Sched, k.FS, k.UART, k.Heap,
		syscall.NewFlatMemory(cfg.UserArena, kconfig.UserBase))

	shellPID, ok := k.Tasks.Create("shell", entryAddr(shellEntry))
	if !ok {
		k.Panic("rvos: failed to create shell task")
		return k
	}
	k.ShellPID = shellPID
	k.Sched.Enqueue(k.Tasks.Lookup(shellPID))

	k.Shell = shell.New(k.UART, k.FS, k.Tasks, k.Sched, shell.Stats{
		Ticks:          k.Trap.Ticks,
		HeapAllocated:  k.Heap.Allocated,
		PagesAllocated: k.Pages.Allocated,
	}, shellPID, k.shutdown)

	klog.Info("rvos: shell task created, entering first yield")
	return k
}

// FirstYield hands control to the cooperative scheduler. The boot
// stack is the idle task's (PID 0) context, so on real hardware this
// call returns only when a later yield finds the ready queue empty and
// switches back to the idle task.
func (k *Kernel) FirstYield() {
	k.Sched.Yield()
}

// Panic is the kernel's one fatal-error path: log the message, then
// halt.
func (k *Kernel) Panic(msg string) {
	klog.Fatal(msg)
	k.haltLoop()
}

// shutdown is wired to the shell's "exit" command. A firmware
// power-off call would go here; for now it halts the same way Panic
// does.
func (k *Kernel) shutdown() {
	klog.Info("rvos: shell exit -> shutdown")
	k.haltLoop()
}

func (k *Kernel) haltLoop() {
	if k.halt != nil {
		k.halt()
		return
	}
	for {
	}
}

package main

import (
	"strings"
	"testing"

	"rvos/internal/fs"
	"rvos/internal/kconfig"
	"rvos/internal/task"
	"rvos/internal/uart"
)

func newTestConfig() (Config, *uart.FakeMMIO) {
	mmio := uart.NewFakeMMIO()
	tty := uart.New(mmio)
	cfg := Config{
		UART:      tty,
		HeapArena: make([]byte, 64*1024),
		PageArena: make([]byte, 64*kconfig.PageSize),
		FSArena:   make([]byte, fs.ArenaSize()),
		UserArena: make([]byte, kconfig.UserTop-kconfig.UserBase),
		Switcher:  func(old, new *task.Regs) {},
		Halt:      func() {},
	}
	return cfg, mmio
}

func TestBootBringsUpEverySubsystem(t *testing.T) {
	cfg, _ := newTestConfig()
	k := Boot(cfg)

	if k.Heap == nil || k.Pages == nil || k.Trap == nil || k.FS == nil ||
		k.Sched == nil || k.Tasks == nil || k.Syscalls == nil || k.Shell == nil {
		t.Fatal("Boot left a subsystem nil")
	}
	if k.ShellPID == 0 {
		t.Fatal("shell task should not reuse the idle task's PID 0")
	}
	idle := k.Tasks.Get(k.Tasks.Current())
	if idle.PID != 0 || idle.State != task.Running {
		t.Fatalf("idle task state = %+v, want PID 0 Running", idle)
	}
}

func TestBootPanicsOnUndersizedFSArena(t *testing.T) {
	cfg, _ := newTestConfig()
	cfg.FSArena = make([]byte, 4)

	halted := false
	cfg.Halt = func() { halted = true }

	Boot(cfg)

	if !halted {
		t.Fatal("Boot with an undersized FS arena should have called Panic -> Halt")
	}
}

func TestFirstYieldRunsTheShellTask(t *testing.T) {
	cfg, _ := newTestConfig()
	k := Boot(cfg)

	k.FirstYield() // idle -> shell

	cur := k.Tasks.Get(k.Tasks.Current())
	if cur.PID != k.ShellPID {
		t.Fatalf("current task after first yield = PID %d, want shell PID %d", cur.PID, k.ShellPID)
	}
}

func TestShellEndToEndThroughBootWiring(t *testing.T) {
	cfg, mmio := newTestConfig()
	k := Boot(cfg)
	k.FirstYield() // idle -> shell; shellEntry is not actually invoked by
	// the no-op test Switcher (it never really transfers control), so
	// drive the shell directly the way the real context switch would
	// have, by calling Run's single-step primitive on the booted shell.
	mmio.RXQueue = append(mmio.RXQueue, []byte("echo hi > greet")...)
	mmio.RXQueue = append(mmio.RXQueue, '\r')
	k.Shell.Step()

	mmio.Written = nil
	mmio.RXQueue = append(mmio.RXQueue, []byte("cat greet")...)
	mmio.RXQueue = append(mmio.RXQueue, '\r')
	k.Shell.Step()

	if !strings.Contains(string(mmio.Written), "hi") {
		t.Fatalf("cat output = %q, want it to contain %q", mmio.Written, "hi")
	}
}

func TestSyscallDispatcherHandlesZeroLengthWrite(t *testing.T) {
	cfg, mmio := newTestConfig()
	k := Boot(cfg)

	n := k.Syscalls.Handle(kconfig.SysWrite, 1, uint64(kconfig.UserBase), 0, 0)
	if n != 0 {
		t.Fatalf("zero-length WRITE returned %d, want 0", n)
	}
	_ = mmio
}

func TestSchedulerWrapsAroundEntireTaskSet(t *testing.T) {
	cfg, _ := newTestConfig()
	k := Boot(cfg)

	otherPID, ok := k.Tasks.Create("worker", 0x2000)
	if !ok {
		t.Fatal("Create failed")
	}
	k.Sched.Enqueue(k.Tasks.Lookup(otherPID))

	k.FirstYield() // idle -> shell
	k.Sched.Yield() // shell -> worker
	if k.Tasks.Get(k.Tasks.Current()).PID != otherPID {
		t.Fatal("expected worker task to run after the shell yields")
	}
	k.Sched.Yield() // worker -> shell (FIFO, both re-enqueued once each)
	if k.Tasks.Get(k.Tasks.Current()).PID != k.ShellPID {
		t.Fatal("expected shell task to run again in FIFO order")
	}
}

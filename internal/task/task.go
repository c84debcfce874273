// Package task implements the kernel's task table: a fixed-size array
// of task control blocks addressed by slot index, PID assignment, and
// parent/child bookkeeping for fork/wait.
//
// Links between tasks (the all-tasks list, parent linkage) are integer
// slot indices and PIDs rather than pointers, so a slot is a stable
// handle for the lifetime of a boot and list surgery cannot leave a
// dangling pointer behind.
package task

import (
	"unsafe"

	"rvos/internal/kconfig"
	"rvos/internal/ksync"
	"rvos/internal/page"
)

// State is a task's scheduling state.
type State int

const (
	Free State = iota
	Ready
	Running
	Blocked
	Zombie
)

// Regs holds the callee-saved register set captured by a context
// switch: ra, sp, and s0-s11, per the RISC-V calling convention.
type Regs struct {
	RA uint64
	SP uint64
	S  [12]uint64
}

// Task is one task control block.
type Task struct {
	PID       int32
	PPID      int32
	Name      [kconfig.TaskNameLen]byte
	State     State
	Regs      Regs
	PC        uint64
	StackBase uint32 // offset into the page arena
	StackSize uint32
	PageTable uintptr // root page-table pointer; 0 while the kernel identity-maps
	ExitCode  int32
	Next      int32 // slot index of the next task in the all-tasks list, or -1
}

const noSlot = -1

// WaitStatus reports the outcome of a Wait poll.
type WaitStatus int

const (
	// WaitReaped means the child was a zombie and its slot is now free.
	WaitReaped WaitStatus = iota
	// WaitNotExited means the child exists but has not exited; the
	// caller should yield and retry.
	WaitNotExited
	// WaitNoChild means no child of the current task has that PID.
	WaitNoChild
)

// Table is the fixed-size task table. Slot scans, PID assignment, and
// all-tasks-list surgery are serialized by the table's spinlock; the
// lock is never held across a call into the page pool.
type Table struct {
	lock    ksync.SpinLock
	tasks   [kconfig.MaxTasks]Task
	pages   *page.Pool
	nextPID int32
	head    int32 // slot index of the head of the all-tasks list
	current int32 // slot index of the running task
}

// NewTable creates an empty task table backed by pages for task
// stacks, and installs the idle task in slot 0 with PID 0, already
// Running. The idle task has no stack of its own; it runs on the
// boot stack.
func NewTable(pages *page.Pool) *Table {
	t := &Table{pages: pages, nextPID: 1, head: noSlot, current: 0}
	for i := range t.tasks {
		t.tasks[i].State = Free
		t.tasks[i].Next = noSlot
	}
	idle := &t.tasks[0]
	idle.PID = 0
	idle.PPID = 0
	copy(idle.Name[:], "idle")
	idle.State = Running
	idle.Next = noSlot
	t.head = 0
	t.current = 0
	return t
}

func reusable(s State) bool {
	return s == Free || s == Zombie
}

// Create allocates a task control block and a kernel stack for entry,
// returning the new task's PID. It reports false if the table is full
// or the stack page allocation fails.
func (t *Table) Create(name string, entry uint64) (pid int32, ok bool) {
	stackOff, allocated := t.allocStack()
	if !allocated {
		return 0, false
	}

	t.lock.Lock()

	slot := -1
	for i := 1; i < len(t.tasks); i++ {
		if reusable(t.tasks[i].State) {
			slot = i
			break
		}
	}
	if slot == -1 {
		t.lock.Unlock()
		t.freeStack(stackOff, kconfig.KernelStackSize)
		return 0, false
	}

	tk := &t.tasks[slot]
	*tk = Task{}
	tk.PID = t.nextPID
	t.nextPID++
	tk.PPID = t.tasks[t.current].PID
	copy(tk.Name[:len(tk.Name)-1], name)
	tk.State = Ready
	tk.StackBase = stackOff
	tk.StackSize = kconfig.KernelStackSize
	tk.PC = entry
	// RA is set to entry so the first context switch into this task
	// "returns" straight into it on a fresh stack.
	tk.Regs = Regs{SP: stackTop(stackOff, kconfig.KernelStackSize), RA: entry}
	tk.Next = t.head
	t.head = int32(slot)
	pid = tk.PID

	t.lock.Unlock()
	return pid, true
}

func (t *Table) allocStack() (offset uint32, ok bool) {
	pagesNeeded := kconfig.KernelStackSize / kconfig.PageSize
	var base uint32
	for i := 0; i < pagesNeeded; i++ {
		off, ok := t.pages.Alloc(true)
		if !ok {
			return 0, false
		}
		if i == 0 {
			base = off
		}
	}
	return base, true
}

func (t *Table) freeStack(base, size uint32) {
	for off := base; off < base+size; off += kconfig.PageSize {
		t.pages.Free(off)
	}
}

func stackTop(base uint32, size uint32) uint64 {
	return uint64(base) + uint64(size)
}

// Lookup returns the slot index of the task with the given PID, or -1
// if none exists.
func (t *Table) Lookup(pid int32) int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.lookup(pid)
}

func (t *Table) lookup(pid int32) int {
	for i := range t.tasks {
		if t.tasks[i].PID == pid && t.tasks[i].State != Free {
			return i
		}
	}
	return -1
}

// Get returns a pointer to the task control block at slot.
func (t *Table) Get(slot int) *Task {
	return &t.tasks[slot]
}

// Current returns the slot index of the running task.
func (t *Table) Current() int {
	return int(t.current)
}

// SetCurrent installs slot as the running task, used by the scheduler
// after a context switch decision.
func (t *Table) SetCurrent(slot int) {
	t.current = int32(slot)
}

// All returns the slot index of every task on the all-tasks list, in
// list order, for `ps`. Exited tasks are unlinked by Exit, so zombies
// awaiting Wait are not included.
func (t *Table) All() []int {
	t.lock.Lock()
	defer t.lock.Unlock()

	var out []int
	slot := t.head
	for slot != noSlot {
		out = append(out, int(slot))
		slot = t.tasks[slot].Next
	}
	return out
}

// Exit marks the current task zombie with the given exit code, unlinks
// it from the all-tasks list, and releases its stack pages. The slot
// keeps the exit code until a parent reaps it with Wait.
func (t *Table) Exit(code int32) {
	t.lock.Lock()
	cur := &t.tasks[t.current]
	cur.State = Zombie
	cur.ExitCode = code
	t.unlink(t.current)
	stackBase, stackSize := cur.StackBase, cur.StackSize
	t.lock.Unlock()

	if stackSize > 0 {
		t.freeStack(stackBase, stackSize)
	}
}

func (t *Table) unlink(slot int32) {
	if t.head == slot {
		t.head = t.tasks[slot].Next
		return
	}
	cur := t.head
	for cur != noSlot {
		next := t.tasks[cur].Next
		if next == slot {
			t.tasks[cur].Next = t.tasks[slot].Next
			return
		}
		cur = next
	}
}

// Wait polls for the child with the given PID. When the child is a
// zombie it is reaped: its exit code is captured and its slot becomes
// Free. When the child exists but has not exited, the caller is
// expected to yield and call Wait again.
func (t *Table) Wait(childPID int32) (exitCode int32, status WaitStatus) {
	t.lock.Lock()
	defer t.lock.Unlock()

	slot := t.lookup(childPID)
	if slot == -1 {
		return 0, WaitNoChild
	}
	child := &t.tasks[slot]
	if child.PPID != t.tasks[t.current].PID {
		return 0, WaitNoChild
	}
	if child.State != Zombie {
		return 0, WaitNotExited
	}
	exitCode = child.ExitCode
	child.State = Free
	child.Next = noSlot
	return exitCode, WaitReaped
}

// Fork duplicates the current task's register state AND its stack
// contents into a new task, then demultiplexes the return value: the
// parent's Regs are left untouched (its syscall return path delivers
// the child's PID), while the child's saved s0 slot is zeroed so its
// synthesized first resume observes 0.
func (t *Table) Fork() (childPID int32, ok bool) {
	parent := &t.tasks[t.current]

	stackOff, allocated := t.allocStack()
	if !allocated {
		return 0, false
	}

	t.lock.Lock()

	slot := -1
	for i := 1; i < len(t.tasks); i++ {
		if reusable(t.tasks[i].State) {
			slot = i
			break
		}
	}
	if slot == -1 {
		t.lock.Unlock()
		t.freeStack(stackOff, kconfig.KernelStackSize)
		return 0, false
	}

	child := &t.tasks[slot]
	*child = Task{}
	child.PID = t.nextPID
	t.nextPID++
	child.PPID = parent.PID
	copy(child.Name[:len(child.Name)-1], append([]byte("forked:"), parent.Name[:]...))
	child.State = Ready
	child.StackBase = stackOff
	child.StackSize = kconfig.KernelStackSize
	child.PC = parent.PC
	child.Regs = parent.Regs
	if parent.StackSize > 0 {
		child.Regs.SP = translateSP(stackOff, parent.Regs.SP, parent.StackBase)
	} else {
		// the idle task runs on the boot stack; its fork child gets a
		// fresh stack with SP at the top
		child.Regs.SP = stackTop(stackOff, kconfig.KernelStackSize)
	}
	child.Regs.S[0] = 0 // the child observes fork() == 0
	child.PageTable = parent.PageTable
	child.Next = t.head
	t.head = int32(slot)
	childPID = child.PID

	t.lock.Unlock()

	if parent.StackSize > 0 {
		t.copyStack(parent.StackBase, stackOff, parent.StackSize)
	}
	return childPID, true
}

// translateSP maps a parent stack pointer to the same relative
// position within the child's freshly copied stack.
func translateSP(childBase uint32, parentSP uint64, parentBase uint32) uint64 {
	delta := parentSP - uint64(parentBase)
	return uint64(childBase) + delta
}

// Exec rewrites the current task's program counter to entry and resets
// its saved stack pointer to the top of its already-allocated kernel
// stack. It does not touch PID, name, or parent linkage; the caller
// resolves entry via the ELF loader first.
func (t *Table) Exec(entry uint64) {
	cur := &t.tasks[t.current]
	cur.PC = entry
	cur.Regs.RA = entry
	cur.Regs.SP = stackTop(cur.StackBase, cur.StackSize)
}

func (t *Table) copyStack(srcOff, dstOff, size uint32) {
	src := t.pages.Ptr(srcOff)
	dst := t.pages.Ptr(dstOff)
	srcSlice := unsafe.Slice((*byte)(src), size)
	dstSlice := unsafe.Slice((*byte)(dst), size)
	copy(dstSlice, srcSlice)
}

// Package sched implements the cooperative scheduler: a FIFO ready
// queue over the task table and the context switch that moves the CPU
// from one task's stack to another's.
//
// Tasks are enqueued at the tail and dequeued at the head, so in a set
// of tasks that only yield, every task runs once per round. The
// register save/restore itself is behind the Switcher seam: on riscv64
// it is the assembly in switch_riscv64.s; hosted test binaries supply
// a stand-in so the queue and yield logic run under go test.
package sched

import (
	"rvos/internal/ksync"
	"rvos/internal/task"
)

// Switcher performs the actual register save/restore between two
// tasks.
type Switcher func(old, new *task.Regs)

// Scheduler holds the ready queue (task slot indices) and performs
// cooperative yields over a task.Table. The queue is guarded by its
// own spinlock; no Scheduler operation holds it across a call into
// another subsystem.
type Scheduler struct {
	table   *task.Table
	lock    ksync.SpinLock
	ready   []int
	switchF Switcher
}

// New creates a scheduler over table. The idle task (slot 0, set up by
// task.NewTable) is not placed on the ready queue; it only runs when
// the queue is empty.
func New(table *task.Table, switchF Switcher) *Scheduler {
	return &Scheduler{table: table, switchF: switchF}
}

// Enqueue places a ready task's slot index at the tail of the ready
// queue.
func (s *Scheduler) Enqueue(slot int) {
	s.lock.Lock()
	s.ready = append(s.ready, slot)
	s.lock.Unlock()
}

// Len reports how many tasks are currently waiting to run.
func (s *Scheduler) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.ready)
}

// dequeue pops the head of the ready queue, or returns -1 if empty.
func (s *Scheduler) dequeue() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.ready) == 0 {
		return -1
	}
	slot := s.ready[0]
	s.ready = s.ready[1:]
	return slot
}

// Yield demotes the current task to Ready and enqueues it (unless it
// has already exited), picks the next ready task (or the idle task if
// none is ready), and performs the context switch into it.
func (s *Scheduler) Yield() {
	curSlot := s.table.Current()
	cur := s.table.Get(curSlot)

	if cur.State == task.Running {
		cur.State = task.Ready
		if curSlot != 0 { // idle task is never enqueued
			s.Enqueue(curSlot)
		}
	}

	nextSlot := s.dequeue()
	if nextSlot == -1 {
		nextSlot = 0 // fall back to idle
	}

	next := s.table.Get(nextSlot)
	next.State = task.Running
	s.table.SetCurrent(nextSlot)

	if s.switchF != nil {
		s.switchF(&cur.Regs, &next.Regs)
	}
}

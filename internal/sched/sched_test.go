package sched

import (
	"testing"

	"rvos/internal/kconfig"
	"rvos/internal/page"
	"rvos/internal/task"
)

func newTestSched(t *testing.T) (*Scheduler, *task.Table) {
	t.Helper()
	arena := make([]byte, 64*kconfig.PageSize)
	pool := page.Init(arena)
	tb := task.NewTable(pool)
	var switches [][2]int32
	s := New(tb, func(old, new *task.Regs) {
		switches = append(switches, [2]int32{int32(old.SP), int32(new.SP)})
	})
	return s, tb
}

func TestYieldFallsBackToIdleWhenReadyQueueEmpty(t *testing.T) {
	s, tb := newTestSched(t)
	s.Yield()
	if tb.Current() != 0 {
		t.Fatalf("current slot = %d, want 0 (idle)", tb.Current())
	}
}

func TestYieldRunsReadyTasksInFIFOOrder(t *testing.T) {
	s, tb := newTestSched(t)

	pidA, _ := tb.Create("a", 0x1000)
	pidB, _ := tb.Create("b", 0x2000)
	s.Enqueue(tb.Lookup(pidA))
	s.Enqueue(tb.Lookup(pidB))

	s.Yield() // idle yields to A
	if tb.Get(tb.Current()).PID != pidA {
		t.Fatalf("expected task A to run first, got PID %d", tb.Get(tb.Current()).PID)
	}

	s.Yield() // A yields to B
	if tb.Get(tb.Current()).PID != pidB {
		t.Fatalf("expected task B to run second, got PID %d", tb.Get(tb.Current()).PID)
	}

	s.Yield() // B yields back to A (idle was never re-enqueued, A was re-enqueued after its yield)
	if tb.Get(tb.Current()).PID != pidA {
		t.Fatalf("expected task A to run third (FIFO fairness), got PID %d", tb.Get(tb.Current()).PID)
	}
}

func TestYieldDoesNotReenqueueExitedTask(t *testing.T) {
	s, tb := newTestSched(t)
	pidA, _ := tb.Create("a", 0x1000)
	s.Enqueue(tb.Lookup(pidA))

	s.Yield() // idle -> A
	tb.Exit(0)
	s.Yield() // A (zombie, not Running) -> should not re-enqueue A; falls back to idle

	if tb.Current() != 0 {
		t.Fatalf("current slot = %d, want 0 (idle); exited task must not be rescheduled", tb.Current())
	}
	if s.Len() != 0 {
		t.Fatalf("ready queue length = %d, want 0", s.Len())
	}
}

func TestIdleNeverEnqueuedDirectly(t *testing.T) {
	s, tb := newTestSched(t)
	pidA, _ := tb.Create("a", 0x1000)
	s.Enqueue(tb.Lookup(pidA))

	s.Yield() // idle -> A; idle must not appear on the ready queue
	for _, slot := range s.ready {
		if slot == 0 {
			t.Fatal("idle task slot must never be placed on the ready queue")
		}
	}
	_ = tb
}

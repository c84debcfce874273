package trap

import (
	"bytes"
	"testing"

	"rvos/internal/klog"
)

func TestTimerInterruptTicksAndYields(t *testing.T) {
	var buf bytes.Buffer
	klog.SetSink(&buf)

	var ticked, yielded bool
	d := New(Hooks{
		Tick:  func() { ticked = true },
		Yield: func() { yielded = true },
	})

	d.Handle(ScauseSupervisorTimer, 0x8000_1000)

	if !ticked || !yielded {
		t.Fatalf("ticked=%v yielded=%v, want both true", ticked, yielded)
	}
	if d.Ticks() != 1 {
		t.Fatalf("Ticks() = %d, want 1", d.Ticks())
	}
}

func TestTicksAreMonotonic(t *testing.T) {
	klog.SetSink(&bytes.Buffer{})
	d := New(Hooks{})
	for i := 0; i < 10; i++ {
		d.Handle(ScauseSupervisorTimer, 0)
	}
	if d.Ticks() != 10 {
		t.Fatalf("Ticks() = %d, want 10", d.Ticks())
	}
}

func TestTimeNeverDecreases(t *testing.T) {
	prev := Time()
	for i := 0; i < 100; i++ {
		cur := Time()
		if cur < prev {
			t.Fatalf("Time went backward: %d after %d", cur, prev)
		}
		prev = cur
	}
}

func TestUnrecognizedCauseIsFatal(t *testing.T) {
	var buf bytes.Buffer
	klog.SetSink(&buf)

	var gotFrame Frame
	fatalCalled := false
	d := New(Hooks{
		Fatal: func(f Frame) {
			fatalCalled = true
			gotFrame = f
		},
	})

	const badCause = 0x0000_0000_0000_0002
	d.Handle(badCause, 0xDEAD_BEEF)

	if !fatalCalled {
		t.Fatal("expected Fatal hook to be invoked for an unrecognized cause")
	}
	if gotFrame.Cause != badCause || gotFrame.EPC != 0xDEAD_BEEF {
		t.Fatalf("frame = %+v, want cause=%x epc=%x", gotFrame, badCause, 0xDEAD_BEEF)
	}
	if buf.Len() == 0 {
		t.Fatal("expected a fatal trap to be logged")
	}
}

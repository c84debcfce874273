package uart

import "testing"

func TestWritePutsBytesOnTheWire(t *testing.T) {
	mmio := NewFakeMMIO()
	d := New(mmio)
	d.Init()

	n, err := d.Write([]byte("hi\n"))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != 3 {
		t.Fatalf("Write returned %d, want 3", n)
	}

	want := "hi\n\r"
	if string(mmio.Written) != want {
		t.Fatalf("written = %q, want %q", mmio.Written, want)
	}
}

func TestGetCharReadsQueuedByte(t *testing.T) {
	mmio := NewFakeMMIO()
	mmio.RXQueue = []byte{'x'}
	d := New(mmio)

	c := d.GetChar()
	if c != 'x' {
		t.Fatalf("GetChar() = %q, want 'x'", c)
	}
}

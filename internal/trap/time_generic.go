//go:build !riscv64

package trap

import "sync/atomic"

// hosted stand-in for the time CSR: a counter that advances on every
// read, preserving monotonicity for tests.
var fakeTime atomic.Uint64

func rdtime() uint64 {
	return fakeTime.Add(1)
}

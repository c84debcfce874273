//go:build riscv64

package sched

import (
	"unsafe"

	"rvos/internal/task"
)

//go:noescape
func contextSwitchAsm(old, new unsafe.Pointer)

// RealSwitcher returns the hardware-backed Switcher for use on the
// actual target, wired to switch_riscv64.s.
func RealSwitcher() Switcher {
	return func(old, new *task.Regs) {
		contextSwitchAsm(unsafe.Pointer(old), unsafe.Pointer(new))
	}
}

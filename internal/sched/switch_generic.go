//go:build !riscv64

package sched

import "rvos/internal/task"

// RealSwitcher returns a development-host stand-in for the riscv64
// assembly context switch: it does nothing, since there is no real
// RISC-V stack underneath a hosted test binary whose registers could
// be saved or to which control could be transferred. It exists so internal/sched's ready-queue and
// yield logic can be exercised under `go test` on any GOARCH.
func RealSwitcher() Switcher {
	return func(old, new *task.Regs) {
		_, _ = old, new
	}
}

//go:build riscv64

package main

import (
	"unsafe"

	"rvos/internal/fs"
	"rvos/internal/kconfig"
	"rvos/internal/sched"
	"rvos/internal/trap"
	"rvos/internal/uart"
)

// Statically reserved regions for the heap and page pool. Sized
// generously for an educational single-user shell; see kconfig for
// the per-subsystem tunables these regions serve.
const (
	heapArenaSize  = 1 << 20 // 1 MiB
	pagePoolPages  = 1024    // 4 MiB of page-pool capacity
	pageArenaSize  = pagePoolPages * kconfig.PageSize
	userArenaBytes = kconfig.UserTop - kconfig.UserBase
)

var (
	heapArena [heapArenaSize]byte
	pageArena [pageArenaSize]byte
)

// KernelMain is the entry point called from the boot assembly once
// BSS has been zeroed. It never returns.
//
//go:noinline
func KernelMain(hartID, dtb uint64) {
	tty := uart.NewPhysical()
	tty.Init()

	fsArena := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(kconfig.FSBase))), fs.ArenaSize())
	userArena := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(kconfig.UserBase))), userArenaBytes)

	k := Boot(Config{
		UART:      tty,
		HeapArena: heapArena[:],
		PageArena: pageArena[:],
		FSArena:   fsArena,
		UserArena: userArena,
		Switcher:  sched.RealSwitcher(),
		Halt:      haltWFI,
	})

	trap.Install(k.Trap)

	k.FirstYield()

	// Reached only when the scheduler switches back to the idle task
	// (this stack) because no other task is ready. The idle task does
	// not yield again from here; it parks the hart on WFI.
	for {
		haltWFI()
	}
}

//go:noinline
func haltWFI() {
	for {
		wfi()
	}
}

//go:noescape
func wfi()

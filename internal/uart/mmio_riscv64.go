//go:build riscv64

package uart

import (
	"unsafe"

	"rvos/internal/kconfig"
)

// physicalMMIO reads and writes UART registers at the fixed physical
// base address on the QEMU "virt" machine via direct byte access.
type physicalMMIO struct {
	base uintptr
}

// NewPhysical returns the real hardware-backed UART driver at the
// platform's documented base address.
func NewPhysical() *Driver {
	return New(physicalMMIO{base: kconfig.UARTBase})
}

func (m physicalMMIO) Out(offset uintptr, v byte) {
	p := (*byte)(unsafe.Pointer(m.base + offset))
	*p = v
}

func (m physicalMMIO) In(offset uintptr) byte {
	p := (*byte)(unsafe.Pointer(m.base + offset))
	return *p
}

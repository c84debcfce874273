//go:build riscv64

package trap

// rdtime reads the time CSR; defined in time_riscv64.s.
//
//go:noescape
func rdtime() uint64

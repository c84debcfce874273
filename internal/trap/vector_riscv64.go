//go:build riscv64

package trap

//go:noescape
func installVector(handler uintptr)

//go:noescape
func trapEntryPC() uintptr

// active is the Dispatcher that trapEntry's dispatchTrap callback
// invokes. There is one trap vector per hart and this kernel runs on
// a single hart, so a package-level singleton is sufficient.
var active *Dispatcher

// Install points stvec at the trap entry trampoline (trapEntry, in
// entry_riscv64.s) and registers d as the dispatcher it calls into.
func Install(d *Dispatcher) {
	active = d
	installVector(trapEntryPC())
}

// dispatchTrap is called from trapEntry with the values read out of
// scause/sepc.
//
//go:nosplit
func dispatchTrap(cause, epc uint64) {
	if active != nil {
		active.Handle(cause, epc)
	}
}

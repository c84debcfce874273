// Package uart implements the 16550-compatible UART driver consumed
// by internal/klog and internal/shell. The register access itself is
// behind the MMIO interface, so the same driver runs against the
// physical device on hardware and an in-memory register file in
// tests.
package uart

// Register byte offsets from the UART base.
const (
	RBR = 0x00 // receiver buffer register (read)
	THR = 0x00 // transmitter holding register (write)
	IER = 0x01
	IIR = 0x02
	FCR = 0x02
	LCR = 0x03
	MCR = 0x04
	LSR = 0x05
	MSR = 0x06
	SCR = 0x07
)

const (
	lsrDataReady        = 0x01
	lsrTransmitterEmpty = 0x20
)

// MMIO abstracts the single byte-wide register read/write the driver
// needs, so the real implementation (riscv64, backed by volatile
// loads/stores at a physical address) and a test double (an in-memory
// byte array standing in for the registers) share one Driver type.
type MMIO interface {
	Out(offset uintptr, v byte)
	In(offset uintptr) byte
}

// Driver is a 16550-compatible UART.
type Driver struct {
	mmio MMIO
}

// New wraps mmio as a UART driver.
func New(mmio MMIO) *Driver {
	return &Driver{mmio: mmio}
}

// Init configures 8N1 with the FIFO enabled and interrupts off.
func (d *Driver) Init() {
	d.mmio.Out(IER, 0x00)
	d.mmio.Out(LCR, 0x03) // 8 data bits, no parity, 1 stop bit
	d.mmio.Out(FCR, 0x01) // enable FIFO
	d.mmio.Out(MCR, 0x00)
}

// PutChar blocks until the transmitter is empty, then writes c. A
// newline is followed by a carriage return for the attached terminal.
func (d *Driver) PutChar(c byte) {
	for d.mmio.In(LSR)&lsrTransmitterEmpty == 0 {
	}
	d.mmio.Out(THR, c)
	if c == '\n' {
		for d.mmio.In(LSR)&lsrTransmitterEmpty == 0 {
		}
		d.mmio.Out(THR, '\r')
	}
}

// Write implements io.Writer so a Driver can be installed directly as
// an internal/klog.Sink.
func (d *Driver) Write(p []byte) (int, error) {
	for _, c := range p {
		d.PutChar(c)
	}
	return len(p), nil
}

// GetChar busy-waits on the data-ready bit until a byte is available
// and returns it.
func (d *Driver) GetChar() byte {
	for d.mmio.In(LSR)&lsrDataReady == 0 {
	}
	return d.mmio.In(RBR)
}

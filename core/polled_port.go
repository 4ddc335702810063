package core

import "tinygo.org/x/drivers"

// PolledPort adapts a blocking drivers.SPI bus to the SPIPort interface for
// controllers without a usable per-byte interrupt (PIO state machines,
// bit-banged buses, test doubles).
//
// WriteData clocks the byte immediately and latches the received value;
// the completion is delivered later from the foreground by Service, which
// keeps the handler out of the caller's critical section.
type PolledPort struct {
	bus     drivers.SPI
	handler func()
	rx      byte
	ready   bool // A transfer finished and its completion is not delivered yet

	// Transfers counts bytes clocked through the bus
	Transfers uint32
}

// NewPolledPort creates a port on bus
func NewPolledPort(bus drivers.SPI) *PolledPort {
	return &PolledPort{bus: bus}
}

// WriteData transfers b on the bus
func (p *PolledPort) WriteData(b byte) {
	rx, err := p.bus.Transfer(b)
	if err != nil {
		// The wire has no error reporting; keep the chain moving with a dummy byte
		DebugPrintln("[SPI] polled transfer failed: " + err.Error())
		rx = 0xFF
	}
	p.rx = rx
	p.ready = true
	p.Transfers++
}

// ReadData returns the byte received by the last transfer
func (p *PolledPort) ReadData() byte {
	return p.rx
}

// SetCompletionHandler registers the per-byte completion handler
func (p *PolledPort) SetCompletionHandler(fn func()) {
	p.handler = fn
}

// Busy reports whether a completion is waiting for Service
func (p *PolledPort) Busy() bool {
	return p.ready
}

// Service delivers latched completions until the transfer chain stops.
// Call it from the foreground loop. Returns the number delivered.
func (p *PolledPort) Service() int {
	n := 0
	for p.ready {
		p.ready = false
		n++
		if p.handler != nil {
			p.handler()
		}
	}
	return n
}

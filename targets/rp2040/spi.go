//go:build rp2040 || rp2350

package main

import (
	"device/rp"
	"machine"
	"runtime/interrupt"
	"sync"

	"spilink/core"
)

// RP2040/RP2350 SPI bus configurations
// Bus IDs below core.SPIBusPIO use a hardware SPI controller. PIO buses
// are in spi_pio.go and bit-banged buses in spi_soft.go.

type spiBusConfig struct {
	spi  *machine.SPI // SPI controller (SPI0 or SPI1)
	sck  machine.Pin  // Clock pin
	sdo  machine.Pin  // Controller out (MOSI)
	sdi  machine.Pin  // Controller in (MISO)
	name string       // Human-readable name
}

var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	0: {spi: machine.SPI0, sck: machine.GPIO2, sdo: machine.GPIO3, sdi: machine.GPIO0, name: "spi0a"},
	1: {spi: machine.SPI0, sck: machine.GPIO6, sdo: machine.GPIO7, sdi: machine.GPIO4, name: "spi0b"},
	2: {spi: machine.SPI0, sck: machine.GPIO18, sdo: machine.GPIO19, sdi: machine.GPIO16, name: "spi0c"},
	5: {spi: machine.SPI1, sck: machine.GPIO10, sdo: machine.GPIO11, sdi: machine.GPIO8, name: "spi1a"},
	6: {spi: machine.SPI1, sck: machine.GPIO14, sdo: machine.GPIO15, sdi: machine.GPIO12, name: "spi1b"},
}

// irqPort drives one SPI controller a byte at a time from its receive
// interrupt. Every transmitted byte clocks one byte into the RX FIFO, so a
// non-empty FIFO means the transfer in flight has finished.
type irqPort struct {
	bus     *rp.SPI0_Type
	handler func()
}

// One port per controller, reachable from the interrupt handlers
var irqPorts [2]irqPort

func (p *irqPort) WriteData(b byte) {
	p.bus.SSPDR.Set(uint32(b))
}

func (p *irqPort) ReadData() byte {
	return byte(p.bus.SSPDR.Get())
}

func (p *irqPort) SetCompletionHandler(fn func()) {
	p.handler = fn
}

// handleInterrupt delivers one completion per received byte
func (p *irqPort) handleInterrupt() {
	for p.bus.SSPSR.HasBits(rp.SPI0_SSPSR_RNE) {
		if p.handler == nil {
			// No channel attached to this port: discard
			p.bus.SSPDR.Get()
			continue
		}
		p.handler()
	}
	p.bus.SSPICR.Set(rp.SPI0_SSPICR_RTIC)
}

// enable drains stale data and unmasks the receive and receive timeout
// interrupts. The timeout interrupt catches a single byte sitting below
// the FIFO level threshold.
func (p *irqPort) enable() {
	for p.bus.SSPSR.HasBits(rp.SPI0_SSPSR_RNE) {
		p.bus.SSPDR.Get()
	}
	p.bus.SSPICR.Set(rp.SPI0_SSPICR_RTIC | rp.SPI0_SSPICR_RORIC)
	p.bus.SSPIMSC.Set(rp.SPI0_SSPIMSC_RXIM | rp.SPI0_SSPIMSC_RTIM)
}

// RP2040SPIDriver implements core.SPIDriver for the hardware controllers
// and the PIO fallback
type RP2040SPIDriver struct {
	mu sync.Mutex

	spi0IRQ interrupt.Interrupt
	spi1IRQ interrupt.Interrupt
	pio     *pioBuses
	soft    *softBuses
}

// NewRP2040SPIDriver creates a new RP2040 SPI driver
func NewRP2040SPIDriver() *RP2040SPIDriver {
	d := &RP2040SPIDriver{pio: newPIOBuses(), soft: newSoftBuses()}
	d.spi0IRQ = interrupt.New(rp.IRQ_SPI0_IRQ, func(interrupt.Interrupt) {
		irqPorts[0].handleInterrupt()
	})
	d.spi1IRQ = interrupt.New(rp.IRQ_SPI1_IRQ, func(interrupt.Interrupt) {
		irqPorts[1].handleInterrupt()
	})
	return d
}

// ConfigureBus sets up an SPI bus and returns its data port
func (d *RP2040SPIDriver) ConfigureBus(config core.SPIConfig) (core.SPIPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !core.ValidMode(config.Mode) {
		return nil, core.ErrInvalidMode
	}

	switch {
	case config.BusID >= core.SPIBusSoft:
		return d.soft.configure(config)
	case config.BusID >= core.SPIBusPIO:
		return d.pio.configure(config)
	}

	busConfig, exists := rp2040SPIBuses[config.BusID]
	if !exists {
		return nil, core.ErrInvalidBus
	}

	err := busConfig.spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       busConfig.sck,
		SDO:       busConfig.sdo,
		SDI:       busConfig.sdi,
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}

	var port *irqPort
	var irq interrupt.Interrupt
	if busConfig.spi == machine.SPI0 {
		port, irq = &irqPorts[0], d.spi0IRQ
	} else {
		port, irq = &irqPorts[1], d.spi1IRQ
	}
	port.bus = busConfig.spi.Bus
	port.enable()
	irq.SetPriority(0x40)
	irq.Enable()

	return port, nil
}

// service delivers completions for the polled PIO and bit-banged buses
func (d *RP2040SPIDriver) service() {
	d.pio.service()
	d.soft.service()
}

// GetBusInfo returns information about available SPI buses
func (d *RP2040SPIDriver) GetBusInfo() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for id, config := range rp2040SPIBuses {
		info[id] = config.name
	}
	for id, name := range d.pio.info() {
		info[id] = name
	}
	for id, name := range d.soft.info() {
		info[id] = name
	}
	return info
}

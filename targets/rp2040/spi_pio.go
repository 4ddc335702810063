//go:build rp2040 || rp2350

package main

import (
	"machine"

	pio "github.com/tinygo-org/pio/rp2-pio"
	"github.com/tinygo-org/pio/rp2-pio/piolib"

	"spilink/core"
)

// PIO SPI bus pin assignments, indexed from core.SPIBusPIO
type pioBusConfig struct {
	sck  machine.Pin
	sdo  machine.Pin
	sdi  machine.Pin
	name string
}

var rp2040PIOBuses = map[core.SPIBusID]pioBusConfig{
	core.SPIBusPIO + 0: {sck: machine.GPIO10, sdo: machine.GPIO11, sdi: machine.GPIO12, name: "pio0_spi_a"},
	core.SPIBusPIO + 1: {sck: machine.GPIO18, sdo: machine.GPIO19, sdi: machine.GPIO20, name: "pio0_spi_b"},
}

// pioBuses hands out PIO state machines running the SPI program.
// PIO SPI raises no per-byte interrupt, so each bus is wrapped in a
// core.PolledPort that the main loop services.
type pioBuses struct {
	ports map[core.SPIBusID]*core.PolledPort
}

func newPIOBuses() *pioBuses {
	return &pioBuses{ports: make(map[core.SPIBusID]*core.PolledPort)}
}

func (b *pioBuses) configure(config core.SPIConfig) (core.SPIPort, error) {
	if port, ok := b.ports[config.BusID]; ok {
		return port, nil
	}

	busConfig, exists := rp2040PIOBuses[config.BusID]
	if !exists {
		return nil, core.ErrInvalidBus
	}

	sm, err := pio.PIO0.ClaimStateMachine()
	if err != nil {
		return nil, err
	}

	// The PIO program only implements CPOL=0
	spi, err := piolib.NewSPI(sm, machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       busConfig.sck,
		SDO:       busConfig.sdo,
		SDI:       busConfig.sdi,
		Mode:      uint8(config.Mode),
	})
	if err != nil {
		return nil, err
	}

	port := core.NewPolledPort(spi)
	b.ports[config.BusID] = port
	return port, nil
}

// service delivers completions for every configured PIO bus
func (b *pioBuses) service() {
	for _, port := range b.ports {
		port.Service()
	}
}

func (b *pioBuses) info() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for id, config := range rp2040PIOBuses {
		info[id] = config.name
	}
	return info
}

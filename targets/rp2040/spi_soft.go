//go:build rp2040 || rp2350

package main

import (
	"errors"

	"spilink/core"
)

var (
	errInvalidPin       = errors.New("invalid GPIO pin")
	errPinNotConfigured = errors.New("GPIO pin not configured")
)

// Bit-banged SPI bus pin assignments, indexed from core.SPIBusSoft
type softBusConfig struct {
	sclk core.GPIOPin
	mosi core.GPIOPin
	miso core.GPIOPin
	name string
}

var rp2040SoftBuses = map[core.SPIBusID]softBusConfig{
	core.SPIBusSoft + 0: {sclk: 26, mosi: 27, miso: 28, name: "soft_spi_a"},
}

// softBuses runs SPI on plain GPIO pins for wiring no controller or PIO
// program can reach. Like the PIO buses they complete from Service.
type softBuses struct {
	ports map[core.SPIBusID]*core.PolledPort
}

func newSoftBuses() *softBuses {
	return &softBuses{ports: make(map[core.SPIBusID]*core.PolledPort)}
}

func (b *softBuses) configure(config core.SPIConfig) (core.SPIPort, error) {
	if port, ok := b.ports[config.BusID]; ok {
		return port, nil
	}

	busConfig, exists := rp2040SoftBuses[config.BusID]
	if !exists {
		return nil, core.ErrInvalidBus
	}

	bus, err := core.NewSoftSPI(core.MustGPIO(), busConfig.sclk, busConfig.mosi, busConfig.miso, config.Mode, config.Rate)
	if err != nil {
		return nil, err
	}

	port := core.NewPolledPort(bus)
	b.ports[config.BusID] = port
	return port, nil
}

func (b *softBuses) service() {
	for _, port := range b.ports {
		port.Service()
	}
}

func (b *softBuses) info() map[core.SPIBusID]string {
	info := make(map[core.SPIBusID]string)
	for id, config := range rp2040SoftBuses {
		info[id] = config.name
	}
	return info
}

//go:build rp2040 || rp2350

package main

import (
	"machine"
	"strconv"
	"time"

	"spilink/core"
)

const (
	flashBus = core.SPIBusID(0)  // spi0a, interrupt driven
	auxBus   = core.SPIBusPIO    // PIO fallback, polled
	softBus  = core.SPIBusSoft   // Bit-banged on GPIO26-28, polled
	spiRate  = uint32(1_000_000) // 1MHz

	attachTimeoutUS = 50_000    // Free a channel left attached for 50ms
	pollInterval    = 1_000     // Channel bookkeeping every 1ms
	probeInterval   = 1_000_000 // JEDEC ID probe every second
)

// JEDEC "read identification": opcode then three dummy bytes
var jedecReadID = []byte{0x9F, 0x00, 0x00, 0x00}

// probe periodically reads the JEDEC ID of the device on a channel
type probe struct {
	name  string
	ch    *core.Channel
	ex    *core.Exchange
	timer core.Timer
}

func newProbe(name string, ch *core.Channel) *probe {
	p := &probe{name: name, ch: ch}
	p.timer = core.Timer{
		WakeTime: core.GetTime() + probeInterval,
		Handler:  p.start,
	}
	return p
}

// start begins a new exchange unless the previous one is still running
func (p *probe) start(t *core.Timer) uint8 {
	if p.ex == nil {
		p.ex = core.NewExchange(p.ch, jedecReadID)
	}
	t.WakeTime += probeInterval
	return core.SF_RESCHEDULE
}

// step advances the running exchange from the main loop
func (p *probe) step() {
	if p.ex == nil || !p.ex.Step() {
		return
	}
	rx := p.ex.Received()
	if len(rx) == len(jedecReadID) {
		uptimeMS := core.TimerToUS(core.GetUptime()) / 1000
		core.DebugPrintln("[" + p.name + "] jedec id: " + core.HexBytes(rx[1:]) +
			" uptime=" + strconv.FormatUint(uint64(uptimeMS), 10) + "ms")
	}
	p.ex = nil
}

var errorCount uint32

func main() {
	core.SetDebugWriter(func(s string) { println(s) })
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()

	UpdateSystemTime()
	core.TimerInit()

	core.SetGPIODriver(NewRPGPIODriver())

	driver := NewRP2040SPIDriver()
	core.SetSPIDriver(driver)

	var probes []*probe
	for i, bus := range []core.SPIBusID{flashBus, auxBus, softBus} {
		port, err := core.MustSPI().ConfigureBus(core.SPIConfig{BusID: bus, Mode: 0, Rate: spiRate})
		if err != nil {
			core.DebugPrintln("spi bus " + driver.GetBusInfo()[bus] + ": " + err.Error())
			continue
		}

		ch := core.NewChannel(uint8(i), port)
		ch.SetAttachTimeout(attachTimeoutUS)
		core.ScheduleTimer(ch.PollTimer(core.TimerFromUS(pollInterval)))

		p := newProbe(driver.GetBusInfo()[bus], ch)
		core.ScheduleTimer(&p.timer)
		probes = append(probes, p)
	}

	machine.LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					errorCount++
					core.DumpTimingRing()
				}
			}()

			UpdateSystemTime()
			core.ProcessTimers()
			driver.service()

			busy := false
			for _, p := range probes {
				p.step()
				busy = busy || p.ex != nil
			}
			machine.LED.Set(busy)
		}()

		// Yield to other goroutines
		time.Sleep(10 * time.Microsecond)
	}
}

//go:build rp2040 || rp2350

package main

import (
	"runtime/volatile"
	"unsafe"

	"spilink/core"
)

// RP2040/RP2350 Timer peripheral, a free running 1MHz counter
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x0C // Raw timer low word
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// UpdateSystemTime feeds the core tick counter from the hardware timer.
// core.TimerFreq matches the 1MHz counter, so ticks are microseconds.
func UpdateSystemTime() {
	core.SetTime(timerRAWL.Get())
}

//go:build tinygo

package core

import "runtime/interrupt"

// State is the saved interrupt state returned by disableInterrupts
type State = interrupt.State

// disableInterrupts disables interrupts and returns the previous state
func disableInterrupts() interrupt.State {
	return interrupt.Disable()
}

// restoreInterrupts restores the interrupt state
func restoreInterrupts(state interrupt.State) {
	interrupt.Restore(state)
}

// lockRing masks interrupts around event ring access
func lockRing() State {
	return disableInterrupts()
}

func unlockRing(state State) {
	restoreInterrupts(state)
}

// criticalSection masks the transfer complete interrupt while held.
// Nesting is allowed, and entering from the handler itself is harmless.
type criticalSection struct{}

func (criticalSection) enter() State {
	return disableInterrupts()
}

func (criticalSection) exit(state State) {
	restoreInterrupts(state)
}

//go:build !tinygo

package core

import "sync"

// State is a placeholder for interrupt state on regular Go
type State uintptr

// disableInterrupts is a no-op on regular Go (for testing)
func disableInterrupts() State {
	return 0
}

// restoreInterrupts is a no-op on regular Go (for testing)
func restoreInterrupts(state State) {
	// No-op
}

// ringMu guards the event ring, written by handlers on other goroutines
var ringMu sync.Mutex

func lockRing() State {
	ringMu.Lock()
	return 0
}

func unlockRing(State) {
	ringMu.Unlock()
}

// criticalSection serializes a channel against its completion handler.
// Off target the handler runs on another goroutine (serial bridge reader,
// test simulators), so a mutex stands in for masking the interrupt.
type criticalSection struct {
	mu sync.Mutex
}

func (cs *criticalSection) enter() State {
	cs.mu.Lock()
	return 0
}

func (cs *criticalSection) exit(State) {
	cs.mu.Unlock()
}

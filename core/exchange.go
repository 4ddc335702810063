package core

// exchange phases
const (
	phaseAttach = iota
	phaseQueue
	phaseWait
	phaseRelease
	phaseDone
)

// Exchange is a cooperative client that runs one full-duplex transfer of
// any length over a Channel without blocking.
//
// Each Step does whatever the channel allows right now: it retries Attach
// while the channel is busy, queues as much of the remaining data as fits,
// collects the received bytes once a chunk is complete, and releases the
// channel when everything has been clocked.
type Exchange struct {
	ch    *Channel
	tx    []byte
	rx    []byte
	sent  int
	recv  int
	phase int

	// Attempts counts Attach calls refused because the channel was busy
	Attempts int
	// Restarts counts transfers started over after losing the channel
	Restarts int
}

// NewExchange prepares a transfer of tx on ch. The received bytes are
// collected into a slice of the same length, available from Received.
func NewExchange(ch *Channel, tx []byte) *Exchange {
	return &Exchange{
		ch: ch,
		tx: tx,
		rx: make([]byte, len(tx)),
	}
}

// Step advances the exchange and reports whether it has finished
func (e *Exchange) Step() bool {
	switch e.phase {
	case phaseAttach:
		if len(e.tx) == 0 {
			e.phase = phaseDone
			return true
		}
		if !e.ch.Attach() {
			e.Attempts++
			return false
		}
		e.phase = phaseQueue
		fallthrough
	case phaseQueue:
		chunk := e.tx[e.sent:]
		left := e.ch.Enqueue(chunk)
		if left == len(chunk) {
			// Reservation lost to the attach watchdog or a state recovery
			e.restart()
			return false
		}
		e.sent += len(chunk) - left
		e.phase = phaseWait
		return false
	case phaseWait:
		switch e.ch.State() {
		case StateComplete:
		case StateIdle:
			// Reset under us: the chunk in flight is lost, start over
			e.restart()
			return false
		default:
			return false
		}
		e.recv += e.ch.Read(e.rx[e.recv:e.sent])
		if e.sent < len(e.tx) {
			e.phase = phaseQueue
			return false
		}
		e.phase = phaseRelease
		fallthrough
	case phaseRelease:
		if e.ch.Release() {
			e.phase = phaseDone
			return true
		}
		if e.ch.State() == StateIdle {
			// Reset after the last byte was read; nothing is lost
			e.phase = phaseDone
			return true
		}
		return false
	default:
		return true
	}
}

// restart drops any partial progress and competes for the channel again
func (e *Exchange) restart() {
	e.sent = 0
	e.recv = 0
	e.phase = phaseAttach
	e.Restarts++
}

// Done reports whether the exchange has finished
func (e *Exchange) Done() bool {
	return e.phase == phaseDone
}

// Received returns the bytes clocked in so far
func (e *Exchange) Received() []byte {
	return e.rx[:e.recv]
}

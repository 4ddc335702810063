// SPI channel support
// Mediates one hardware shift register between foreground clients and the
// per-byte transfer complete interrupt.
package core

// ChannelCapacity is the size of the shared transmit/receive ring
const ChannelCapacity = 10

// Channel is an interrupt-driven SPI transfer queue for a single peripheral.
//
// The ring holds both directions: every byte clocked out is replaced in its
// slot by the byte clocked in for it, so after a transfer the slots between
// the read and write cursors hold the received data in order.
//
// Foreground methods and ByteComplete may run concurrently; all shared
// fields are only touched inside the channel's critical section.
type Channel struct {
	ID uint8 // Identifier used in the event ring

	cs   criticalSection
	port SPIPort

	state   ChannelState
	buf     [ChannelCapacity]byte
	rd      uint8 // Next unread received byte
	wr      uint8 // Next byte to clock out / receive into
	pending uint8 // Bytes still to transmit
	unread  uint8 // Received bytes not yet read in this session

	// Attach watchdog, disabled when attachTimeout is zero
	attachTimeout  uint32 // Timer ticks
	attachDeadline uint32
	now            func() uint32
}

// NewChannel creates an idle channel on port and registers its completion handler
func NewChannel(id uint8, port SPIPort) *Channel {
	c := &Channel{
		ID:   id,
		port: port,
		now:  GetTime,
	}
	c.Init()
	if port != nil {
		port.SetCompletionHandler(c.ByteComplete)
	}
	return c
}

// Init resets the channel to idle with an empty ring and zeroed cursors
func (c *Channel) Init() {
	state := c.cs.enter()
	defer c.cs.exit(state)

	c.reset()
}

func (c *Channel) reset() {
	c.state = StateIdle
	c.rd = 0
	c.wr = 0
	c.pending = 0
	c.unread = 0
}

// SetAttachTimeout arms a watchdog that returns a client stuck in the
// attached state to idle after us microseconds. Zero disables it.
func (c *Channel) SetAttachTimeout(us uint32) {
	state := c.cs.enter()
	defer c.cs.exit(state)

	c.attachTimeout = TimerFromUS(us)
}

// Attach reserves the peripheral for the caller.
// It only succeeds from the idle state. The caller is not identified: every
// successful Attach must be paired with a Release by the same client.
func (c *Channel) Attach() bool {
	state := c.cs.enter()
	defer c.cs.exit(state)

	if c.state != StateIdle {
		return false
	}
	c.state = StateAttached
	c.attachDeadline = c.now() + c.attachTimeout
	RecordTiming(EvtAttach, c.ID, c.attachDeadline, 0, 0)
	return true
}

// Release hands the peripheral back once every queued byte has been transferred
func (c *Channel) Release() bool {
	state := c.cs.enter()
	defer c.cs.exit(state)

	if c.state != StateComplete || c.pending != 0 {
		return false
	}
	c.state = StateIdle
	RecordTiming(EvtRelease, c.ID, c.now(), uint32(c.unread), 0)
	return true
}

// Enqueue appends data to the ring and starts the transfer when the channel
// is reserved but not yet sending.
//
// Each call starts a new read session: received bytes not yet read are
// dropped. Bytes that do not fit are not queued; the transfer still starts
// for the ones that did. Returns the number of bytes from data not queued.
// Nothing is queued unless a client holds the channel.
func (c *Channel) Enqueue(data []byte) int {
	state := c.cs.enter()
	defer c.cs.exit(state)

	switch c.state {
	case StateAttached, StateSending, StateComplete:
	default:
		return len(data)
	}

	c.rd = c.wr
	c.unread = 0

	queued := 0
	slot := wrap(c.wr + c.pending)
	for queued < len(data) && c.pending < ChannelCapacity {
		c.buf[slot] = data[queued]
		slot = wrap(slot + 1)
		c.pending++
		queued++
	}

	remaining := len(data) - queued
	if remaining > 0 {
		RecordTiming(EvtOverflow, c.ID, c.now(), uint32(queued), uint32(remaining))
	}

	if (c.state == StateAttached || c.state == StateComplete) && c.pending > 0 {
		c.state = StateSending
		RecordTiming(EvtStart, c.ID, c.now(), uint32(c.pending), uint32(c.wr))
		c.port.WriteData(c.buf[c.wr])
	}

	return remaining
}

// ByteComplete is the transfer complete handler, called once per byte by
// the port (in interrupt context on hardware). It stores the byte clocked
// in over the slot just sent and chains the next pending byte.
func (c *Channel) ByteComplete() {
	state := c.cs.enter()
	defer c.cs.exit(state)

	if c.state != StateSending || c.pending == 0 {
		// Spurious completion, e.g. a byte still in flight across a reset.
		// Pop it so the port stops signalling.
		if c.port != nil {
			c.port.ReadData()
		}
		return
	}

	c.buf[c.wr] = c.port.ReadData()
	c.wr = wrap(c.wr + 1)
	c.pending--
	c.unread++

	if c.pending > 0 {
		c.port.WriteData(c.buf[c.wr])
		return
	}
	c.state = StateComplete
	RecordTiming(EvtComplete, c.ID, c.now(), uint32(c.unread), uint32(c.wr))
}

// Read copies received bytes of the current session into p.
// Returns 0 unless the channel is in the complete state.
func (c *Channel) Read(p []byte) int {
	state := c.cs.enter()
	defer c.cs.exit(state)

	if c.state != StateComplete {
		return 0
	}

	n := 0
	for n < len(p) && c.unread > 0 {
		p[n] = c.buf[c.rd]
		c.rd = wrap(c.rd + 1)
		c.unread--
		n++
	}
	return n
}

// IsComplete reports whether all queued bytes have been transferred
func (c *Channel) IsComplete() bool {
	state := c.cs.enter()
	defer c.cs.exit(state)

	return c.state == StateComplete
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	state := c.cs.enter()
	defer c.cs.exit(state)

	return c.state
}

// Pending returns the number of bytes still to transmit
func (c *Channel) Pending() int {
	state := c.cs.enter()
	defer c.cs.exit(state)

	return int(c.pending)
}

// Buffered returns the number of received bytes not yet read
func (c *Channel) Buffered() int {
	state := c.cs.enter()
	defer c.cs.exit(state)

	return int(c.unread)
}

// Poll advances the passive state bookkeeping. It performs no I/O and is
// meant to be called periodically from the foreground loop.
func (c *Channel) Poll() {
	state := c.cs.enter()
	defer c.cs.exit(state)

	switch c.state {
	case StateIdle, StateComplete:
	case StateAttached:
		if c.attachTimeout != 0 && timerIsBefore(c.attachDeadline, c.now()) {
			RecordTiming(EvtTimeout, c.ID, c.now(), c.attachDeadline, 0)
			c.state = StateIdle
		}
	case StateSending:
		if c.pending == 0 {
			c.state = StateComplete
			RecordTiming(EvtComplete, c.ID, c.now(), uint32(c.unread), uint32(c.wr))
		}
	default:
		// Corrupt state: any transfer bookkeeping is lost
		RecordTiming(EvtRecover, c.ID, c.now(), uint32(c.state), uint32(c.pending))
		DebugAsync("[SPI] channel " + itoa(int(c.ID)) + " recovered from " + c.state.String())
		c.reset()
	}
}

// PollTimer returns a scheduler timer that polls the channel every
// interval ticks
func (c *Channel) PollTimer(interval uint32) *Timer {
	return &Timer{
		WakeTime: GetTime() + interval,
		Handler: func(t *Timer) uint8 {
			c.Poll()
			t.WakeTime += interval
			return SF_RESCHEDULE
		},
	}
}

// wrap folds a ring position back into [0, ChannelCapacity)
func wrap(i uint8) uint8 {
	if i >= ChannelCapacity {
		i -= ChannelCapacity
	}
	return i
}

// timerIsBefore reports whether tick a is strictly before tick b,
// tolerating counter wraparound
func timerIsBefore(a, b uint32) bool {
	return int32(a-b) < 0
}

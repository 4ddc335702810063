package core

import (
	"bytes"
	"math/rand"
	"testing"
)

// fakePort simulates a peripheral: each WriteData starts a transfer that
// finishes when the test calls fire, like the hardware raising the
// transfer complete interrupt.
type fakePort struct {
	handler  func()
	sent     []byte
	replies  []byte // Bytes clocked in, in order; the inverse of the sent byte once exhausted
	rx       byte
	inFlight bool

	overlapped int // WriteData calls made while a transfer was still in flight
}

func newFakePort(replies ...byte) *fakePort {
	return &fakePort{replies: replies}
}

func (p *fakePort) WriteData(b byte) {
	if p.inFlight {
		p.overlapped++
	}
	p.sent = append(p.sent, b)
	p.inFlight = true
	if len(p.replies) > 0 {
		p.rx = p.replies[0]
		p.replies = p.replies[1:]
	} else {
		p.rx = ^b
	}
}

func (p *fakePort) ReadData() byte {
	return p.rx
}

func (p *fakePort) SetCompletionHandler(fn func()) {
	p.handler = fn
}

// fire finishes the transfer in flight, if any
func (p *fakePort) fire() bool {
	if !p.inFlight {
		return false
	}
	p.inFlight = false
	p.handler()
	return true
}

// drain fires until the channel stops chaining bytes
func (p *fakePort) drain() int {
	n := 0
	for p.fire() {
		n++
	}
	return n
}

func checkCursors(t *testing.T, ch *Channel) {
	t.Helper()
	if ch.rd >= ChannelCapacity || ch.wr >= ChannelCapacity {
		t.Errorf("Cursor out of range: rd=%d wr=%d", ch.rd, ch.wr)
	}
	if ch.pending > ChannelCapacity {
		t.Errorf("Pending %d exceeds capacity", ch.pending)
	}
	if ch.state == StateComplete && ch.pending != 0 {
		t.Errorf("Complete with %d bytes pending", ch.pending)
	}
}

func TestChannelTransferScenario(t *testing.T) {
	port := newFakePort(0xAA, 0xBB, 0xCC, 0xDD)
	ch := NewChannel(0, port)

	if ch.State() != StateIdle {
		t.Fatalf("New channel should be idle, got %s", ch.State())
	}

	if !ch.Attach() {
		t.Fatal("Attach on idle channel failed")
	}

	left := ch.Enqueue([]byte{0x01, 0x02, 0x03, 0x04})
	if left != 0 {
		t.Errorf("Expected all 4 bytes queued, %d left over", left)
	}
	if ch.State() != StateSending {
		t.Errorf("Expected sending after enqueue, got %s", ch.State())
	}
	if ch.Pending() != 4 {
		t.Errorf("Expected 4 pending, got %d", ch.Pending())
	}

	for i := 0; i < 4; i++ {
		if ch.IsComplete() {
			t.Fatalf("Complete after only %d of 4 transfers", i)
		}
		if !port.fire() {
			t.Fatalf("No transfer in flight before completion %d", i+1)
		}
		checkCursors(t, ch)
	}

	if !ch.IsComplete() {
		t.Fatalf("Expected complete after 4 transfers, got %s", ch.State())
	}
	if ch.Pending() != 0 {
		t.Errorf("Expected 0 pending, got %d", ch.Pending())
	}
	if port.inFlight {
		t.Error("Transfer still in flight after the last byte")
	}
	if !bytes.Equal(port.sent, []byte{0x01, 0x02, 0x03, 0x04}) {
		t.Errorf("Clocked out %x, expected 01020304", port.sent)
	}

	out := make([]byte, 4)
	n := ch.Read(out)
	if n != 4 {
		t.Fatalf("Expected to read 4 bytes, read %d", n)
	}
	if !bytes.Equal(out, []byte{0xAA, 0xBB, 0xCC, 0xDD}) {
		t.Errorf("Read %x, expected aabbccdd", out)
	}

	if !ch.Release() {
		t.Fatal("Release after complete transfer failed")
	}
	if ch.State() != StateIdle {
		t.Errorf("Expected idle after release, got %s", ch.State())
	}
	if port.overlapped != 0 {
		t.Errorf("%d bytes written while another was in flight", port.overlapped)
	}
}

func TestChannelEnqueueOverflow(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)
	ch.Attach()

	data := make([]byte, 12)
	for i := range data {
		data[i] = byte(i + 1)
	}

	left := ch.Enqueue(data)
	if left != 2 {
		t.Errorf("Expected 2 bytes not queued, got %d", left)
	}
	if ch.Pending() != ChannelCapacity {
		t.Errorf("Expected %d pending, got %d", ChannelCapacity, ch.Pending())
	}
	checkCursors(t, ch)

	// A full ring refuses everything
	if left := ch.Enqueue([]byte{0xEE}); left != 1 {
		t.Errorf("Enqueue on full ring queued data, %d left", left)
	}

	if n := port.drain(); n != ChannelCapacity {
		t.Errorf("Expected %d transfers, got %d", ChannelCapacity, n)
	}
	if !ch.IsComplete() {
		t.Fatalf("Expected complete, got %s", ch.State())
	}

	// The received data fills the whole ring and must still be readable
	out := make([]byte, 16)
	n := ch.Read(out)
	if n != ChannelCapacity {
		t.Fatalf("Expected to read %d bytes, read %d", ChannelCapacity, n)
	}
	for i := 0; i < n; i++ {
		if out[i] != ^data[i] {
			t.Errorf("Byte %d: got %#x, expected %#x", i, out[i], ^data[i])
		}
	}
}

func TestChannelAttachExclusive(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)

	if !ch.Attach() {
		t.Fatal("First attach failed")
	}
	if ch.Attach() {
		t.Error("Second attach succeeded while attached")
	}

	ch.Enqueue([]byte{1})
	if ch.Attach() {
		t.Error("Attach succeeded while sending")
	}

	port.drain()
	if ch.Attach() {
		t.Error("Attach succeeded while complete")
	}

	ch.Release()
	if !ch.Attach() {
		t.Error("Attach failed after release")
	}
}

func TestChannelReleaseRequiresComplete(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)

	if ch.Release() {
		t.Error("Release succeeded on idle channel")
	}

	ch.Attach()
	if ch.Release() {
		t.Error("Release succeeded while attached")
	}
	if ch.State() != StateAttached {
		t.Errorf("Failed release changed state to %s", ch.State())
	}

	ch.Enqueue([]byte{1, 2, 3})
	port.fire()
	if ch.Release() {
		t.Error("Release succeeded with bytes pending")
	}
	if ch.State() != StateSending || ch.Pending() != 2 {
		t.Errorf("Failed release changed state: %s pending=%d", ch.State(), ch.Pending())
	}

	port.drain()
	if !ch.Release() {
		t.Error("Release failed after transfer complete")
	}
}

func TestChannelReadBounds(t *testing.T) {
	port := newFakePort(10, 20, 30, 40, 50)
	ch := NewChannel(0, port)

	out := make([]byte, 8)
	if n := ch.Read(out); n != 0 {
		t.Errorf("Read on idle channel returned %d", n)
	}

	ch.Attach()
	ch.Enqueue([]byte{1, 2, 3, 4, 5})
	port.fire()
	if n := ch.Read(out); n != 0 {
		t.Errorf("Read while sending returned %d", n)
	}
	port.drain()

	// Smaller buffer than available
	n := ch.Read(out[:2])
	if n != 2 || out[0] != 10 || out[1] != 20 {
		t.Errorf("Partial read: got %d bytes %v", n, out[:n])
	}
	if ch.Buffered() != 3 {
		t.Errorf("Expected 3 unread bytes, got %d", ch.Buffered())
	}

	// Larger buffer than available never runs past the write cursor
	n = ch.Read(out)
	if n != 3 || !bytes.Equal(out[:3], []byte{30, 40, 50}) {
		t.Errorf("Remaining read: got %d bytes %v", n, out[:n])
	}
	if n := ch.Read(out); n != 0 {
		t.Errorf("Read past received data returned %d", n)
	}
	if n := ch.Read(nil); n != 0 {
		t.Errorf("Zero length read returned %d", n)
	}
}

func TestChannelWrapAround(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)
	ch.Attach()

	// Three sessions of 7 bytes walk both cursors around the ring twice
	for session := 0; session < 3; session++ {
		data := make([]byte, 7)
		for i := range data {
			data[i] = byte(session*16 + i)
		}
		if left := ch.Enqueue(data); left != 0 {
			t.Fatalf("Session %d: %d bytes not queued", session, left)
		}
		port.drain()
		checkCursors(t, ch)

		out := make([]byte, 7)
		if n := ch.Read(out); n != 7 {
			t.Fatalf("Session %d: read %d bytes", session, n)
		}
		for i := range out {
			if out[i] != ^data[i] {
				t.Errorf("Session %d byte %d: got %#x, expected %#x", session, i, out[i], ^data[i])
			}
		}
	}
	if !bytes.Equal(port.sent[14:], []byte{32, 33, 34, 35, 36, 37, 38}) {
		t.Errorf("Third session clocked out %v", port.sent[14:])
	}
}

func TestChannelEnqueueWhileSending(t *testing.T) {
	port := newFakePort(0xA0, 0xA1, 0xA2, 0xA3, 0xA4)
	ch := NewChannel(0, port)
	ch.Attach()

	ch.Enqueue([]byte{1, 2, 3})
	port.fire()

	// Appending restarts the read session but must not restart the transfer
	if left := ch.Enqueue([]byte{4, 5}); left != 0 {
		t.Errorf("Expected both bytes queued, %d left", left)
	}
	if len(port.sent) != 2 {
		t.Errorf("Enqueue while sending wrote to the port: sent %v", port.sent)
	}
	if ch.Pending() != 4 {
		t.Errorf("Expected 4 pending, got %d", ch.Pending())
	}

	if n := port.drain(); n != 4 {
		t.Errorf("Expected 4 more transfers, got %d", n)
	}
	if !bytes.Equal(port.sent, []byte{1, 2, 3, 4, 5}) {
		t.Errorf("Clocked out %v, expected 1..5", port.sent)
	}
	if port.overlapped != 0 {
		t.Errorf("%d bytes written while another was in flight", port.overlapped)
	}

	out := make([]byte, 8)
	n := ch.Read(out)
	if !bytes.Equal(out[:n], []byte{0xA1, 0xA2, 0xA3, 0xA4}) {
		t.Errorf("Read %x, expected bytes received after the second enqueue", out[:n])
	}
}

func TestChannelEnqueueRequiresAttach(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)

	if left := ch.Enqueue([]byte{1, 2, 3}); left != 3 {
		t.Errorf("Enqueue on idle channel queued data, %d left", left)
	}
	if ch.Pending() != 0 || len(port.sent) != 0 {
		t.Errorf("Idle enqueue touched the ring: pending=%d sent=%v", ch.Pending(), port.sent)
	}
	if ch.State() != StateIdle {
		t.Errorf("Idle enqueue changed state to %s", ch.State())
	}

	ch.Attach()
	if left := ch.Enqueue(nil); left != 0 {
		t.Errorf("Empty enqueue reported %d left", left)
	}
	if ch.State() != StateAttached {
		t.Errorf("Empty enqueue started a transfer: %s", ch.State())
	}
}

func TestChannelSpuriousCompletion(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)

	ch.ByteComplete()
	if ch.Pending() != 0 || ch.State() != StateIdle || ch.wr != 0 {
		t.Errorf("Spurious completion changed channel: %s pending=%d wr=%d", ch.State(), ch.Pending(), ch.wr)
	}

	ch.Attach()
	ch.Enqueue([]byte{1})
	port.drain()
	ch.ByteComplete()
	if ch.Pending() != 0 || ch.Buffered() != 1 {
		t.Errorf("Completion after complete changed channel: pending=%d unread=%d", ch.Pending(), ch.Buffered())
	}
}

func TestChannelPollRecovery(t *testing.T) {
	ClearTimingRing()
	port := newFakePort()
	ch := NewChannel(3, port)
	ch.Attach()
	ch.Enqueue([]byte{1, 2})

	ch.state = ChannelState(0x5A)
	if ch.State().Valid() {
		t.Fatal("Corrupt state reported valid")
	}

	ch.Poll()
	if ch.State() != StateIdle {
		t.Fatalf("Poll did not recover corrupt state, got %s", ch.State())
	}
	if ch.Pending() != 0 || ch.rd != 0 || ch.wr != 0 {
		t.Errorf("Recovery left bookkeeping: pending=%d rd=%d wr=%d", ch.Pending(), ch.rd, ch.wr)
	}
	if !ch.Attach() {
		t.Error("Attach failed after recovery")
	}

	events := TimingEvents()
	if len(events) == 0 || events[len(events)-2].EventType != EvtRecover {
		t.Errorf("Recovery not recorded, events: %+v", events)
	}
	if events[len(events)-2].ID != 3 || events[len(events)-2].Value1 != 0x5A {
		t.Errorf("Recovery event has wrong details: %+v", events[len(events)-2])
	}
}

func TestChannelPollSending(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)

	ch.Poll()
	if ch.State() != StateIdle {
		t.Errorf("Poll changed idle channel to %s", ch.State())
	}

	ch.Attach()
	ch.Enqueue([]byte{1})
	ch.Poll()
	if ch.State() != StateSending {
		t.Errorf("Poll completed a transfer still in flight: %s", ch.State())
	}

	// Bookkeeping path: sending with nothing pending
	ch.pending = 0
	ch.Poll()
	if ch.State() != StateComplete {
		t.Errorf("Poll did not complete an empty sending channel: %s", ch.State())
	}
}

func TestChannelAttachTimeout(t *testing.T) {
	start := uint32(0xFFFFFE00) // Deadline wraps past zero
	SetTime(start)
	defer SetTime(0)

	port := newFakePort()
	ch := NewChannel(0, port)
	ch.SetAttachTimeout(1000)

	ch.Attach()
	SetTime(start + 1000)
	ch.Poll()
	if ch.State() != StateAttached {
		t.Fatalf("Watchdog fired at the deadline: %s", ch.State())
	}

	SetTime(start + 1001)
	ch.Poll()
	if ch.State() != StateIdle {
		t.Fatalf("Watchdog did not release stuck client: %s", ch.State())
	}

	// Only the attached state is watched
	ch.Attach()
	ch.Enqueue([]byte{1})
	SetTime(start + 5000)
	ch.Poll()
	if ch.State() != StateSending {
		t.Errorf("Watchdog interrupted a transfer: %s", ch.State())
	}
}

func TestChannelAttachNoTimeout(t *testing.T) {
	SetTime(100)
	defer SetTime(0)

	ch := NewChannel(0, newFakePort())
	ch.Attach()
	SetTime(100 + 10000000)
	ch.Poll()
	if ch.State() != StateAttached {
		t.Errorf("Attach expired without a timeout configured: %s", ch.State())
	}
}

func TestChannelInit(t *testing.T) {
	port := newFakePort()
	ch := NewChannel(0, port)
	ch.Attach()
	ch.Enqueue([]byte{1, 2, 3})
	port.fire()

	ch.Init()
	if ch.State() != StateIdle || ch.Pending() != 0 || ch.Buffered() != 0 || ch.rd != 0 || ch.wr != 0 {
		t.Errorf("Init left state %s pending=%d unread=%d rd=%d wr=%d",
			ch.State(), ch.Pending(), ch.Buffered(), ch.rd, ch.wr)
	}
}

// Every attach, enqueue, complete, read, release cycle must return exactly
// the bytes the peripheral clocked in, whatever the cursors' starting point.
func TestChannelRandomSessions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	port := newFakePort()
	ch := NewChannel(0, port)

	for round := 0; round < 200; round++ {
		size := rng.Intn(16)
		data := make([]byte, size)
		replies := make([]byte, size)
		rng.Read(data)
		rng.Read(replies)
		port.replies = append([]byte(nil), replies...)

		if !ch.Attach() {
			t.Fatalf("Round %d: attach failed in %s", round, ch.State())
		}
		left := ch.Enqueue(data)
		queued := min(size, ChannelCapacity)
		if left != size-queued {
			t.Fatalf("Round %d: %d of %d left, expected %d", round, left, size, size-queued)
		}
		if ch.Pending() != queued {
			t.Fatalf("Round %d: pending %d, expected %d", round, ch.Pending(), queued)
		}

		if n := port.drain(); n != queued {
			t.Fatalf("Round %d: %d transfers, expected %d", round, n, queued)
		}
		checkCursors(t, ch)

		if queued == 0 {
			// Nothing was sent, so the client never reaches complete
			ch.Init()
			continue
		}
		if !ch.IsComplete() {
			t.Fatalf("Round %d: not complete after %d transfers", round, queued)
		}

		out := make([]byte, rng.Intn(12)+1)
		got := []byte{}
		for {
			n := ch.Read(out)
			if n > len(out) {
				t.Fatalf("Round %d: read %d into %d byte buffer", round, n, len(out))
			}
			if n == 0 {
				break
			}
			got = append(got, out[:n]...)
		}
		if !bytes.Equal(got, replies[:queued]) {
			t.Fatalf("Round %d: read %x, expected %x", round, got, replies[:queued])
		}
		if !ch.Release() {
			t.Fatalf("Round %d: release failed", round)
		}
	}
	if port.overlapped != 0 {
		t.Errorf("%d bytes written while another was in flight", port.overlapped)
	}
}

func TestChannelPollTimer(t *testing.T) {
	SetTime(0)
	ch := NewChannel(0, newFakePort())
	timer := ch.PollTimer(100)
	ScheduleTimer(timer)
	defer CancelTimer(timer)

	ch.state = StateInvalid

	SetTime(50)
	ProcessTimers()
	if ch.State() != StateInvalid {
		t.Fatal("Poll timer ran early")
	}

	SetTime(100)
	ProcessTimers()
	if ch.State() != StateIdle {
		t.Fatalf("Poll timer did not run, state %s", ch.State())
	}
	if timer.WakeTime != 200 {
		t.Errorf("Expected poll rescheduled at 200, got %d", timer.WakeTime)
	}
}

func TestChannelStateString(t *testing.T) {
	tests := []struct {
		state ChannelState
		want  string
	}{
		{StateIdle, "idle"},
		{StateAttached, "attached"},
		{StateSending, "sending"},
		{StateComplete, "complete"},
		{ChannelState(9), "invalid(9)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State %d: got %q, want %q", tt.state, got, tt.want)
		}
	}
}

// fifoPort models a controller RX FIFO: a finished byte stays queued and
// keeps the interrupt asserted until ReadData pops it
type fifoPort struct {
	handler func()
	fifo    []byte
}

func (p *fifoPort) WriteData(b byte) {
	p.fifo = append(p.fifo, ^b)
}

func (p *fifoPort) ReadData() byte {
	if len(p.fifo) == 0 {
		return 0
	}
	b := p.fifo[0]
	p.fifo = p.fifo[1:]
	return b
}

func (p *fifoPort) SetCompletionHandler(fn func()) {
	p.handler = fn
}

// interrupt runs the handler while the FIFO is not empty, giving up after limit calls
func (p *fifoPort) interrupt(limit int) int {
	calls := 0
	for len(p.fifo) > 0 && calls < limit {
		p.handler()
		calls++
	}
	return calls
}

func TestChannelResetDrainsInFlightByte(t *testing.T) {
	for _, tc := range []struct {
		name  string
		reset func(ch *Channel)
	}{
		{"init", func(ch *Channel) { ch.Init() }},
		{"recovery", func(ch *Channel) {
			ch.state = StateInvalid
			ch.Poll()
		}},
	} {
		port := &fifoPort{}
		ch := NewChannel(0, port)
		ch.Attach()
		ch.Enqueue([]byte{1, 2})
		tc.reset(ch)

		if calls := port.interrupt(5); calls != 1 || len(port.fifo) != 0 {
			t.Errorf("%s: %d handler calls left %d FIFO entries", tc.name, calls, len(port.fifo))
		}
		if ch.State() != StateIdle || ch.Buffered() != 0 {
			t.Errorf("%s: stale byte changed the channel: %s, %d unread", tc.name, ch.State(), ch.Buffered())
		}

		// The channel is usable again
		ch.Attach()
		ch.Enqueue([]byte{0x0F})
		port.interrupt(5)
		out := make([]byte, 1)
		if n := ch.Read(out); n != 1 || out[0] != 0xF0 {
			t.Errorf("%s: read %x after reset, expected f0", tc.name, out[:n])
		}
	}
}

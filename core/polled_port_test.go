package core

import (
	"bytes"
	"errors"
	"testing"
)

// xorBus is a drivers.SPI peripheral that answers every byte with b^mask
type xorBus struct {
	mask  byte
	fail  bool
	count int
}

func (b *xorBus) Tx(w, r []byte) error {
	for i := range w {
		rx, err := b.Transfer(w[i])
		if err != nil {
			return err
		}
		if i < len(r) {
			r[i] = rx
		}
	}
	return nil
}

func (b *xorBus) Transfer(c byte) (byte, error) {
	b.count++
	if b.fail {
		return 0, errors.New("bus fault")
	}
	return c ^ b.mask, nil
}

func TestPolledPortTransfer(t *testing.T) {
	bus := &xorBus{mask: 0x5A}
	port := NewPolledPort(bus)
	ch := NewChannel(1, port)

	ch.Attach()
	ch.Enqueue([]byte{0x00, 0x01, 0xFF, 0x5A})

	if !port.Busy() {
		t.Fatal("Expected a latched completion after enqueue")
	}
	if bus.count != 1 {
		t.Errorf("Expected one byte clocked before service, got %d", bus.count)
	}
	if ch.IsComplete() {
		t.Fatal("Complete before the completion was serviced")
	}

	if n := port.Service(); n != 4 {
		t.Errorf("Expected 4 completions delivered, got %d", n)
	}
	if port.Busy() {
		t.Error("Port still busy after service")
	}
	if !ch.IsComplete() {
		t.Fatalf("Expected complete, got %s", ch.State())
	}
	if port.Transfers != 4 {
		t.Errorf("Expected 4 transfers, got %d", port.Transfers)
	}

	out := make([]byte, 4)
	n := ch.Read(out)
	if !bytes.Equal(out[:n], []byte{0x5A, 0x5B, 0xA5, 0x00}) {
		t.Errorf("Read %x, expected 5a5ba500", out[:n])
	}

	if n := port.Service(); n != 0 {
		t.Errorf("Service with nothing latched delivered %d", n)
	}
}

func TestPolledPortBusFault(t *testing.T) {
	bus := &xorBus{fail: true}
	port := NewPolledPort(bus)
	ch := NewChannel(1, port)

	ch.Attach()
	ch.Enqueue([]byte{1, 2})
	port.Service()

	if !ch.IsComplete() {
		t.Fatalf("Faulting bus stalled the channel in %s", ch.State())
	}
	out := make([]byte, 2)
	if n := ch.Read(out); n != 2 || out[0] != 0xFF || out[1] != 0xFF {
		t.Errorf("Expected dummy bytes, got %x", out[:n])
	}
}

// Package bridge drives an SPI channel from a desktop through a USB-serial
// SPI adapter speaking the SPIDriver byte protocol.
//
// Every byte transfer is one two-byte command answered by the byte clocked
// in, so the adapter's reply doubles as the transfer complete interrupt:
// Run reads replies on its own goroutine and fires the completion handler.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// SPIDriver adapter commands
const (
	cmdEcho     = 'e'  // Echo the following byte
	cmdSelect   = 's'  // Assert chip select
	cmdUnselect = 'u'  // Release chip select
	cmdTransfer = 0x80 // Write and read 1-64 bytes: 0x80 + count-1, then the bytes
)

const syncByte = 0x55

var (
	ErrNoSync = errors.New("bridge: adapter did not echo sync byte")
	ErrClosed = errors.New("bridge: closed")
)

// Bridge implements core.SPIPort on a serial SPI adapter
type Bridge struct {
	port    io.ReadWriter
	handler func()
	rx      byte // Last byte clocked in, only touched by the Run goroutine

	mu        sync.Mutex
	err       error
	transfers uint32
}

// New creates a bridge on an open serial port
func New(port io.ReadWriter) *Bridge {
	return &Bridge{port: port}
}

// Sync checks that the adapter answers. Call it before Run.
func (b *Bridge) Sync() error {
	if _, err := b.port.Write([]byte{cmdEcho, syncByte}); err != nil {
		return fmt.Errorf("bridge: sync write: %w", err)
	}
	var reply [1]byte
	if _, err := io.ReadFull(b.port, reply[:]); err != nil {
		return fmt.Errorf("bridge: sync read: %w", err)
	}
	if reply[0] != syncByte {
		return ErrNoSync
	}
	return nil
}

// Select asserts the adapter's chip select for the attached peripheral
func (b *Bridge) Select() error {
	return b.command(cmdSelect)
}

// Deselect releases the adapter's chip select
func (b *Bridge) Deselect() error {
	return b.command(cmdUnselect)
}

func (b *Bridge) command(c byte) error {
	if _, err := b.port.Write([]byte{c}); err != nil {
		return fmt.Errorf("bridge: command %q: %w", c, err)
	}
	return nil
}

// WriteData sends one byte transfer to the adapter. The reply arrives on
// the Run goroutine.
func (b *Bridge) WriteData(x byte) {
	_, err := b.port.Write([]byte{cmdTransfer, x})

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if b.err == nil {
			b.err = fmt.Errorf("bridge: transfer write: %w", err)
		}
		return
	}
	b.transfers++
}

// ReadData returns the byte clocked in by the last finished transfer
func (b *Bridge) ReadData() byte {
	return b.rx
}

// SetCompletionHandler registers the per-byte completion handler.
// Call it before Run.
func (b *Bridge) SetCompletionHandler(fn func()) {
	b.handler = fn
}

// Run delivers one completion per reply byte until the port fails or is
// closed. It returns the read error, ErrClosed on a clean end of stream.
func (b *Bridge) Run() error {
	var buf [64]byte
	for {
		n, err := b.port.Read(buf[:])
		for _, x := range buf[:n] {
			b.rx = x
			if b.handler != nil {
				b.handler()
			}
		}
		if err == io.EOF || errors.Is(err, io.ErrClosedPipe) {
			b.setErr(ErrClosed)
			return ErrClosed
		}
		if err != nil {
			err = fmt.Errorf("bridge: read: %w", err)
			b.setErr(err)
			return err
		}
	}
}

func (b *Bridge) setErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err == nil {
		b.err = err
	}
}

// Err returns the first error seen on the port
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Transfers returns the number of byte transfers sent to the adapter
func (b *Bridge) Transfers() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfers
}

package serial

import (
	"io"
)

// Port is an open serial connection to an SPI bridge adapter.
// Implementations: native (github.com/tarm/serial) and in-memory test doubles.
type Port interface {
	io.ReadWriteCloser
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate; the SPIDriver adapter runs at 460800
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the configuration for an SPIDriver adapter on device
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        460800,
		ReadTimeout: 0,
	}
}

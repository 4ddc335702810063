package core

import "errors"

// SPIBusID identifies a hardware SPI bus configuration
type SPIBusID uint8

// Bus ID ranges. IDs below SPIBusPIO select a hardware SPI controller.
const (
	SPIBusPIO  SPIBusID = 0x80 // First bus served by a PIO state machine
	SPIBusSoft SPIBusID = 0xC0 // First bit-banged bus on GPIO pins
)

// SPIMode represents SPI clock polarity and phase (0-3)
// Mode 0: CPOL=0, CPHA=0 (clock idle low, sample on rising edge)
// Mode 1: CPOL=0, CPHA=1 (clock idle low, sample on falling edge)
// Mode 2: CPOL=1, CPHA=0 (clock idle high, sample on falling edge)
// Mode 3: CPOL=1, CPHA=1 (clock idle high, sample on rising edge)
type SPIMode uint8

// SPIConfig holds the configuration for an SPI bus
type SPIConfig struct {
	BusID SPIBusID // Hardware bus identifier
	Mode  SPIMode  // SPI mode (0-3)
	Rate  uint32   // Clock rate in Hz
}

var (
	ErrInvalidBus  = errors.New("invalid SPI bus ID")
	ErrInvalidMode = errors.New("invalid SPI mode")
)

// SPIPort is the data register side of one configured SPI peripheral.
// Clock, mode and chip select are set up before the port is handed out.
type SPIPort interface {
	// WriteData loads b into the transmit register, starting one byte transfer.
	// It must not call the completion handler before returning.
	WriteData(b byte)

	// ReadData returns the byte clocked in by the last finished transfer
	// and acknowledges it
	ReadData() byte

	// SetCompletionHandler registers the function invoked once per
	// finished byte transfer. The handler calls ReadData exactly once.
	SetCompletionHandler(fn func())
}

// SPIDriver is the abstract SPI interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type SPIDriver interface {
	// ConfigureBus sets up an SPI bus with the specified parameters and
	// returns its data port
	ConfigureBus(config SPIConfig) (SPIPort, error)

	// GetBusInfo returns a map of bus IDs to human-readable descriptions
	GetBusInfo() map[SPIBusID]string
}

// Global singleton used by core code
var spiDriver SPIDriver

// SetSPIDriver is called by target-specific code to register its SPI driver
func SetSPIDriver(d SPIDriver) {
	spiDriver = d
}

// MustSPI returns the configured SPI driver or panics if missing
func MustSPI() SPIDriver {
	if spiDriver == nil {
		panic("SPI driver not configured")
	}
	return spiDriver
}

// ValidMode reports whether m is one of the four standard SPI modes
func ValidMode(m SPIMode) bool {
	return m <= 3
}

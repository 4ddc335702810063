package core

import "time"

// SoftSPI is a bit-banged SPI bus on three GPIO pins. It implements
// drivers.SPI so it can back a PolledPort like any other blocking bus.
type SoftSPI struct {
	gpio GPIODriver
	sclk GPIOPin
	mosi GPIOPin
	miso GPIOPin

	cpol  bool // Clock idle level
	cpha  bool // Sample on the second edge
	clock bool // Current clock level

	halfPeriod time.Duration
}

// NewSoftSPI configures the pins and parks the clock at its idle level.
// A zero rate selects 100kHz.
func NewSoftSPI(gpio GPIODriver, sclk, mosi, miso GPIOPin, mode SPIMode, rate uint32) (*SoftSPI, error) {
	if !ValidMode(mode) {
		return nil, ErrInvalidMode
	}

	s := &SoftSPI{
		gpio: gpio,
		sclk: sclk,
		mosi: mosi,
		miso: miso,
		cpol: mode&2 != 0,
		cpha: mode&1 != 0,
	}

	// Two clock transitions per bit
	if rate > 0 {
		s.halfPeriod = time.Duration(500000000/rate) * time.Nanosecond
	} else {
		s.halfPeriod = 5 * time.Microsecond
	}

	if err := gpio.ConfigureOutput(sclk); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureOutput(mosi); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureInputPullUp(miso); err != nil {
		return nil, err
	}

	s.clock = s.cpol
	if err := gpio.SetPin(sclk, s.clock); err != nil {
		return nil, err
	}
	if err := gpio.SetPin(mosi, false); err != nil {
		return nil, err
	}
	return s, nil
}

// Tx clocks out w while reading into r. The shorter slice is padded with
// zero bytes out and discarded bytes in.
func (s *SoftSPI) Tx(w, r []byte) error {
	n := max(len(w), len(r))
	for i := 0; i < n; i++ {
		var out byte
		if i < len(w) {
			out = w[i]
		}
		in, err := s.Transfer(out)
		if err != nil {
			return err
		}
		if i < len(r) {
			r[i] = in
		}
	}
	return nil
}

// Transfer clocks one byte MSB first and returns the byte read back
func (s *SoftSPI) Transfer(b byte) (byte, error) {
	var rx byte
	for bit := 7; bit >= 0; bit-- {
		if err := s.gpio.SetPin(s.mosi, b&(1<<bit) != 0); err != nil {
			return 0, err
		}

		if !s.cpha {
			if err := s.sample(&rx, bit); err != nil {
				return 0, err
			}
		}

		if err := s.toggleClock(); err != nil {
			return 0, err
		}
		time.Sleep(s.halfPeriod)

		if s.cpha {
			if err := s.sample(&rx, bit); err != nil {
				return 0, err
			}
		}

		if err := s.toggleClock(); err != nil {
			return 0, err
		}
		time.Sleep(s.halfPeriod)
	}
	return rx, nil
}

func (s *SoftSPI) sample(rx *byte, bit int) error {
	level, err := s.gpio.GetPin(s.miso)
	if err != nil {
		return err
	}
	if level {
		*rx |= 1 << bit
	}
	return nil
}

func (s *SoftSPI) toggleClock() error {
	s.clock = !s.clock
	return s.gpio.SetPin(s.sclk, s.clock)
}

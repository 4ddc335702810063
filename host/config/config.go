// Package config loads the host tool configuration
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config describes the adapter connection and channel tuning of the host tool
type Config struct {
	Device        string `json:"device"`          // Serial device of the SPI adapter
	Baud          int    `json:"baud"`            // Serial baud rate
	ReadTimeoutMS int    `json:"read_timeout_ms"` // Serial read timeout, 0 blocks

	ChannelID       uint8  `json:"channel_id"`        // ID recorded in the event ring
	AttachTimeoutUS uint32 `json:"attach_timeout_us"` // Attach watchdog, 0 disables
	PollIntervalUS  uint32 `json:"poll_interval_us"`  // Channel bookkeeping period
	WaitTimeoutMS   int    `json:"wait_timeout_ms"`   // How long a command waits for completion

	Verbose bool `json:"verbose"`
}

// LoadConfig parses a JSON configuration and fills in defaults
func LoadConfig(jsonData []byte) (*Config, error) {
	var config Config

	if err := json.Unmarshal(jsonData, &config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

// Load reads a JSON configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	config, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return config, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	config := &Config{}
	applyDefaults(config)
	return config
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *Config) {
	if config.Device == "" {
		config.Device = "/dev/ttyUSB0"
	}
	if config.Baud == 0 {
		config.Baud = 460800 // SPIDriver fixed rate
	}
	if config.PollIntervalUS == 0 {
		config.PollIntervalUS = 1000
	}
	if config.WaitTimeoutMS == 0 {
		config.WaitTimeoutMS = 1000
	}
}

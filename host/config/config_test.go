package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig([]byte(`{}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Device != "/dev/ttyUSB0" {
		t.Errorf("Expected default device, got %q", config.Device)
	}
	if config.Baud != 460800 {
		t.Errorf("Expected default baud 460800, got %d", config.Baud)
	}
	if config.PollIntervalUS != 1000 {
		t.Errorf("Expected default poll interval 1000, got %d", config.PollIntervalUS)
	}
	if config.WaitTimeoutMS != 1000 {
		t.Errorf("Expected default wait timeout 1000, got %d", config.WaitTimeoutMS)
	}
	if config.AttachTimeoutUS != 0 {
		t.Errorf("Attach watchdog should default to off, got %d", config.AttachTimeoutUS)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	config, err := LoadConfig([]byte(`{
		"device": "/dev/ttyACM1",
		"baud": 115200,
		"channel_id": 7,
		"attach_timeout_us": 25000,
		"verbose": true
	}`))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := &Config{
		Device:          "/dev/ttyACM1",
		Baud:            115200,
		ChannelID:       7,
		AttachTimeoutUS: 25000,
		PollIntervalUS:  1000,
		WaitTimeoutMS:   1000,
		Verbose:         true,
	}
	if diff := cmp.Diff(want, config); diff != "" {
		t.Errorf("Config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	if _, err := LoadConfig([]byte(`{"baud": "fast"}`)); err == nil {
		t.Error("Expected error for mistyped field")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spilink.json")
	if err := os.WriteFile(path, []byte(`{"device": "COM4"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	config, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Device != "COM4" {
		t.Errorf("Expected device COM4, got %q", config.Device)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file")
	}
}

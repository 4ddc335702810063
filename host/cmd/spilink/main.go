package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"spilink/core"
	"spilink/host/bridge"
	"spilink/host/config"
	"spilink/host/serial"
)

var (
	configPath = flag.String("config", "", "JSON configuration file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	verbose    = flag.Bool("verbose", false, "Enable verbose output")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Verbose)
	if cfg.Verbose {
		core.SetDebugWriter(func(s string) { log.Debug().Msg(s) })
		core.SetDebugEnabled(true)
		core.InitAsyncDebug()
	}

	fmt.Println("SPI Link - SPI channel over a serial adapter")
	fmt.Println("============================================")

	fmt.Printf("Connecting to adapter on %s...\n", cfg.Device)
	port, err := serial.Open(&serial.Config{
		Device:      cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeoutMS,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()

	b := bridge.New(port)
	if err := b.Sync(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if err := b.Select(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer b.Deselect()

	fmt.Println("Connected successfully!")
	log.Debug().Str("device", cfg.Device).Int("baud", cfg.Baud).Uint8("channel", cfg.ChannelID).
		Uint32("attach_timeout_us", cfg.AttachTimeoutUS).Msg("channel ready")

	ch := core.NewChannel(cfg.ChannelID, b)
	ch.SetAttachTimeout(cfg.AttachTimeoutUS)

	go func() {
		if err := b.Run(); err != nil && !errors.Is(err, bridge.ErrClosed) {
			log.Error().Err(err).Str("device", cfg.Device).Msg("adapter reader stopped")
		}
	}()
	go runClock(ch, cfg.PollIntervalUS)

	s := &session{
		ch:   ch,
		out:  os.Stdout,
		wait: time.Duration(cfg.WaitTimeoutMS) * time.Millisecond,

		portErr: b.Err,
	}
	if err := repl(s, os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input: %v\n", err)
		os.Exit(1)
	}
}

// newLogger writes human-readable log lines to stderr, debug level only
// when verbose
func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMicro}).
		Level(level).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

// runClock feeds wall time into the core timer and runs the channel's
// poll timer, which drives the attach watchdog and state recovery
func runClock(ch *core.Channel, intervalUS uint32) {
	start := time.Now()
	tick := func() {
		core.SetTime(uint32(time.Since(start).Microseconds()))
	}
	tick()
	core.TimerInit()
	core.ScheduleTimer(ch.PollTimer(core.TimerFromUS(intervalUS)))

	ticker := time.NewTicker(time.Duration(intervalUS) * time.Microsecond)
	defer ticker.Stop()
	for range ticker.C {
		tick()
		core.ProcessTimers()
	}
}

// repl reads commands until EOF or quit
func repl(s *session, in io.Reader) error {
	fmt.Fprintln(s.out, "Enter commands (type 'help' for available commands, 'quit' to exit):")
	scanner := bufio.NewScanner(in)

	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		quit, err := s.exec(line)
		if err != nil {
			fmt.Fprintf(s.out, "Error: %v\n", err)
			continue
		}
		if quit {
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		}
	}

	return scanner.Err()
}

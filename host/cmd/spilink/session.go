package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"spilink/core"
)

var errWaitTimeout = errors.New("timed out waiting for transfer")

// session runs interactive commands against one channel
type session struct {
	ch   *core.Channel
	out  io.Writer
	wait time.Duration

	// service delivers completions for polled ports; nil when the port
	// completes on its own goroutine
	service func()

	// portErr reports a failure that stops completions from arriving
	portErr func() error
}

// exec runs one command line and reports whether the user asked to quit
func (s *session) exec(line string) (bool, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, fmt.Errorf("parse %q: %w", line, err)
	}
	if len(args) == 0 {
		return false, nil
	}

	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit", "q":
		return true, nil

	case "help", "?":
		s.printHelp()

	case "attach":
		if s.ch.Attach() {
			fmt.Fprintln(s.out, "attached")
		} else {
			fmt.Fprintf(s.out, "busy (%s)\n", s.ch.State())
		}

	case "send":
		data, err := parseBytes(args)
		if err != nil {
			return false, err
		}
		left := s.ch.Enqueue(data)
		fmt.Fprintf(s.out, "queued %d, not queued %d\n", len(data)-left, left)

	case "wait":
		if err := s.waitComplete(); err != nil {
			return false, err
		}
		fmt.Fprintln(s.out, "complete")

	case "read":
		n := core.ChannelCapacity
		if len(args) > 0 {
			v, err := strconv.Atoi(args[0])
			if err != nil || v < 0 {
				return false, fmt.Errorf("invalid read length %q", args[0])
			}
			n = v
		}
		buf := make([]byte, n)
		got := s.ch.Read(buf)
		fmt.Fprintf(s.out, "read %d: %s\n", got, core.HexBytes(buf[:got]))

	case "release":
		if s.ch.Release() {
			fmt.Fprintln(s.out, "released")
		} else {
			fmt.Fprintf(s.out, "refused (%s, %d pending)\n", s.ch.State(), s.ch.Pending())
		}

	case "status":
		fmt.Fprintf(s.out, "state=%s pending=%d unread=%d\n", s.ch.State(), s.ch.Pending(), s.ch.Buffered())

	case "init":
		s.ch.Init()
		fmt.Fprintf(s.out, "state=%s\n", s.ch.State())

	case "poll":
		s.ch.Poll()
		fmt.Fprintf(s.out, "state=%s\n", s.ch.State())

	case "xfer":
		data, err := parseBytes(args)
		if err != nil {
			return false, err
		}
		rx, err := s.exchange(data)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "rx %d: %s\n", len(rx), core.HexBytes(rx))

	case "trace":
		for _, evt := range core.TimingEvents() {
			fmt.Fprintf(s.out, "%-9s ch=%d clock=%d v1=%d v2=%d\n",
				core.EventName(evt.EventType), evt.ID, evt.Clock, evt.Value1, evt.Value2)
		}

	default:
		return false, fmt.Errorf("unknown command %q (type 'help' for available commands)", cmd)
	}
	return false, nil
}

// waitComplete blocks until the channel completes or the wait times out
func (s *session) waitComplete() error {
	deadline := time.Now().Add(s.wait)
	for {
		if s.service != nil {
			s.service()
		}
		if s.ch.IsComplete() {
			return nil
		}
		if err := s.checkPort(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w (%s, %d pending)", errWaitTimeout, s.ch.State(), s.ch.Pending())
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// exchange runs a full attach-to-release transfer of any length
func (s *session) exchange(data []byte) ([]byte, error) {
	ex := core.NewExchange(s.ch, data)
	deadline := time.Now().Add(s.wait)
	for !ex.Step() {
		if s.service != nil {
			s.service()
		}
		if err := s.checkPort(); err != nil {
			return ex.Received(), err
		}
		if time.Now().After(deadline) {
			return ex.Received(), fmt.Errorf("%w after %d of %d bytes", errWaitTimeout, len(ex.Received()), len(data))
		}
		time.Sleep(100 * time.Microsecond)
	}
	return ex.Received(), nil
}

// checkPort fails a wait the port can no longer complete
func (s *session) checkPort() error {
	if s.portErr == nil {
		return nil
	}
	if err := s.portErr(); err != nil {
		return fmt.Errorf("adapter failed (%s, %d pending, 'init' resets): %w", s.ch.State(), s.ch.Pending(), err)
	}
	return nil
}

// parseBytes converts hex byte arguments ("9f", "0x9F") and text
// arguments ("text:hello world") into a byte slice
func parseBytes(args []string) ([]byte, error) {
	var data []byte
	for _, arg := range args {
		if text, ok := strings.CutPrefix(arg, "text:"); ok {
			data = append(data, text...)
			continue
		}
		digits := strings.TrimPrefix(strings.ToLower(arg), "0x")
		v, err := strconv.ParseUint(digits, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q", arg)
		}
		data = append(data, byte(v))
	}
	if len(data) == 0 {
		return nil, errors.New("no data given")
	}
	return data, nil
}

func (s *session) printHelp() {
	fmt.Fprintln(s.out, "\nAvailable commands:")
	fmt.Fprintln(s.out, "  attach           - Reserve the channel")
	fmt.Fprintln(s.out, "  send <bytes>     - Queue bytes and start the transfer (hex or text:...)")
	fmt.Fprintln(s.out, "  wait             - Wait for the transfer to complete")
	fmt.Fprintln(s.out, "  read [n]         - Read up to n received bytes")
	fmt.Fprintln(s.out, "  release          - Release the channel")
	fmt.Fprintln(s.out, "  status           - Show channel state")
	fmt.Fprintln(s.out, "  poll             - Run channel bookkeeping")
	fmt.Fprintln(s.out, "  init             - Reset the channel to idle")
	fmt.Fprintln(s.out, "  xfer <bytes>     - Attach, transfer any length, read and release")
	fmt.Fprintln(s.out, "  trace            - Show the event ring")
	fmt.Fprintln(s.out, "  quit/exit/q      - Exit the program")
	fmt.Fprintln(s.out)
}

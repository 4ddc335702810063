package core

// ChannelState is the attach/transfer state of an SPI channel
type ChannelState uint8

const (
	StateIdle     ChannelState = iota // Peripheral free, no client holds it
	StateAttached                     // Reserved by a client, nothing queued yet
	StateSending                      // Bytes queued or in flight
	StateComplete                     // All queued bytes transferred, still reserved

	// StateInvalid and every value above it mark a corrupt state.
	// Poll recovers from it by forcing the channel back to StateIdle.
	StateInvalid
)

// Valid reports whether s is one of the four defined states
func (s ChannelState) Valid() bool {
	return s < StateInvalid
}

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAttached:
		return "attached"
	case StateSending:
		return "sending"
	case StateComplete:
		return "complete"
	default:
		return "invalid(" + itoa(int(s)) + ")"
	}
}

package swarm

import "time"

// Tunable constants from spec.md §6, kept bit-for-bit.
const (
	// MaxConns caps how many peers may hold a live transport at once,
	// across both outbound dials and inbound adoptions.
	MaxConns = 100

	// HandshakeTimeoutOut is the deadline for an outbound dial to receive
	// the remote's handshake, counted from connect completion.
	HandshakeTimeoutOut = 25 * time.Second
)

// BackoffSchedule is the fixed, bounded sequence of delays between
// successive reconnection attempts (spec.md §4.1). Exhausting it is
// terminal: once every delay has been used, the next failure destroys the
// peer instead of re-queuing it.
var BackoffSchedule = []time.Duration{
	1000 * time.Millisecond,
	5000 * time.Millisecond,
	15000 * time.Millisecond,
	30000 * time.Millisecond,
	60000 * time.Millisecond,
	120000 * time.Millisecond,
	300000 * time.Millisecond,
	600000 * time.Millisecond,
}

package swarm

import (
	"github.com/benbjohnson/clock"
	"github.com/havenstead/swarmcore/transport"
	"github.com/havenstead/swarmcore/wire"
	"go.uber.org/multierr"
)

// peerState enumerates the lifecycle stages spec.md §3 lists for Peer.
// It is kept alongside the nil-ness of conn/wire/timeout (rather than
// replacing those checks) so metrics and tests can assert a peer's exact
// stage without racing on several nil checks at once.
type peerState int

const (
	stateQueued peerState = iota
	stateDialing
	stateConnectedPreHandshake
	stateActive
	stateAwaitingReconnect
	stateDestroyed
)

// peer holds the state for one remote endpoint (spec.md §3 "Peer
// entity"). Peer and Swarm are co-located in this package because Peer
// declares a back-reference field to its Swarm (left nil by Add and
// OnIncoming, whose handlers capture the Swarm instead) and Go forbids the resulting
// import cycle if they lived in separate packages — the same resolution
// go-torrent/peer uses for Peer and PeerManager.
type peer struct {
	key           string
	addr          *string
	conn          transport.Conn
	wire          wire.Wire
	swarm         *Swarm
	timeout       *clock.Timer
	backoffTimer  *clock.Timer
	retries       int
	sentHandshake bool
	destroyed     bool
	state         peerState

	// heldSlot is true while this peer occupies one unit of the swarm's
	// admission-control semaphore; connEnded guards onConnEnded so a
	// peer whose transport already ended doesn't release the slot twice.
	heldSlot  bool
	connEnded bool
}

// detach tears down this peer's transport and wire without touching the
// swarm's peer table, leaving the peer record intact for a
// backoff-scheduled redial. It is idempotent and aggregates any
// teardown errors so callers emptying many peers at once (Swarm.Destroy)
// can report them together instead of losing all but the last.
func (p *peer) detach() error {
	var err error
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
	if p.conn != nil {
		err = multierr.Append(err, p.conn.Close())
		p.conn = nil
	}
	if p.wire != nil {
		err = multierr.Append(err, p.wire.Destroy())
		p.wire = nil
	}
	p.sentHandshake = false
	return err
}

// Package swarm implements the per-info-hash connection manager at the
// center of this module: the bounded, backpressured pool of peer
// connections described by SPEC_FULL.md §4.1-§4.2. It owns both the
// Swarm and (unexported) Peer entities; see peer.go for why they share
// one package.
package swarm

import (
	"context"
	"errors"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/havenstead/swarmcore/addr"
	"github.com/havenstead/swarmcore/infohash"
	"github.com/havenstead/swarmcore/metrics"
	"github.com/havenstead/swarmcore/pool"
	"github.com/havenstead/swarmcore/speed"
	"github.com/havenstead/swarmcore/transport"
	"github.com/havenstead/swarmcore/wire"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrSwarmDestroyed is returned by operations attempted on a Swarm after
// Destroy has run.
var ErrSwarmDestroyed = errors.New("swarm: destroyed")

// errInfoHashMismatch is the descriptive error spec.md §7 calls for when
// an outbound peer's handshake carries a different info-hash than ours.
var errInfoHashMismatch = errors.New("swarm: remote handshake info-hash does not match")

// Swarm maintains every peer participating in one torrent's exchange,
// identified by its info-hash (spec.md §3 "Swarm entity"). It is one
// synchronization domain, guarded by a single mutex, per spec.md §5.
type Swarm struct {
	mu sync.Mutex

	infoHash      infohash.Hash
	peerID        infohash.PeerID
	handshakeOpts wire.HandshakeOpts

	port int

	downloaded    uint64
	uploaded      uint64
	downloadSpeed *speed.Speedometer
	uploadSpeed   *speed.Speedometer

	wires []wire.Wire
	queue []*peer
	peers map[string]*peer

	paused         bool
	destroyed      bool
	listeningFired bool
	listenCallback func(port int)

	pool    *pool.Pool
	manager *pool.Manager

	sem      *semaphore.Weighted
	maxConns int64

	clk         clock.Clock
	dialer      transport.Dialer
	wireFactory func(transport.Conn) wire.Wire

	handler Handler
	log     *zap.Logger

	backoffJitter bool
	portMapping   bool

	metrics *metrics.Collector
}

// New constructs a Swarm for infoHash, immediately usable for Add once
// Listen has been called (or never, for a swarm that only dials out and
// never demultiplexes inbound connections). Counters, speedometers, and
// flags start zeroed per spec.md §4.1 "Construction".
func New(infoHash infohash.Hash, peerID infohash.PeerID, handshakeOpts wire.HandshakeOpts, opts ...Option) *Swarm {
	s := &Swarm{
		infoHash:      infoHash,
		peerID:        peerID,
		handshakeOpts: handshakeOpts,
		downloadSpeed: speed.New(),
		uploadSpeed:   speed.New(),
		peers:         make(map[string]*peer),
		handler:       NoopHandler{},
		log:           zap.NewNop(),
		clk:           clock.New(),
		dialer:        transport.TCPDialer{},
		maxConns:      MaxConns,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.manager == nil {
		s.manager = pool.NewManager()
	}
	if s.wireFactory == nil {
		s.wireFactory = func(c transport.Conn) wire.Wire {
			return wire.NewTCPWire(c, HandshakeTimeoutOut)
		}
	}
	s.sem = semaphore.NewWeighted(s.maxConns)
	return s
}

// Add enqueues addr for an eventual outbound dial. It is a no-op if the
// swarm is destroyed, a peer keyed by addr already exists, or addr fails
// validation (spec.md §4.1 "add(addr)"): all three are silent per the
// spec, matching a caller that does not want to special-case malformed
// tracker responses.
func (s *Swarm) Add(address string) {
	if !addr.Validate(address) {
		return
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	if _, exists := s.peers[address]; exists {
		s.mu.Unlock()
		return
	}
	a := address
	p := &peer{key: address, addr: &a, state: stateQueued}
	s.peers[address] = p
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	s.drain()
}

// Remove tears down and forgets the peer keyed by address, then drains
// so a queued peer may take the freed slot.
func (s *Swarm) Remove(address string) {
	s.mu.Lock()
	p, ok := s.peers[address]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := s.removePeer(p); err != nil {
		s.log.Warn("peer teardown error", zap.String("addr", address), zap.Error(err))
	}
	s.drain()
}

// removePeer implements spec.md §4.1 "_remove(addr)": it deletes the
// peer from the table, drops it from the queue if still waiting, cancels
// any timer, and destroys its wire/conn if it has one.
func (s *Swarm) removePeer(p *peer) error {
	s.mu.Lock()
	delete(s.peers, p.key)
	s.dequeueLocked(p)
	s.removeWireLocked(p.wire)
	heldSlot := p.heldSlot
	p.heldSlot = false
	p.destroyed = true
	p.state = stateDestroyed
	s.mu.Unlock()

	err := p.detach()
	if p.backoffTimer != nil {
		p.backoffTimer.Stop()
		p.backoffTimer = nil
	}
	if heldSlot {
		s.sem.Release(1)
	}
	return err
}

func (s *Swarm) dequeueLocked(p *peer) {
	for i, q := range s.queue {
		if q == p {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			return
		}
	}
}

// removeWireLocked drops w from s.wires if present. Caller holds s.mu.
func (s *Swarm) removeWireLocked(w wire.Wire) {
	if w == nil {
		return
	}
	for i, existing := range s.wires {
		if existing == w {
			s.wires = append(s.wires[:i], s.wires[i+1:]...)
			return
		}
	}
}

// Pause prevents new outbound dials; it does not affect incoming
// connections or in-flight transfers (spec.md §4.1 "pause()").
func (s *Swarm) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume re-enables outbound dials and immediately drains the queue.
func (s *Swarm) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.drain()
}

// Destroy marks the swarm destroyed, removes every peer, detaches from
// its Pool, and asynchronously fires exactly one Close event (spec.md
// §4.1 "destroy()").
func (s *Swarm) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	peers := make([]*peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	p := s.pool
	s.mu.Unlock()

	var err error
	for _, pr := range peers {
		err = multierr.Append(err, s.removePeer(pr))
	}

	if p != nil {
		p.RemoveSwarm(s.infoHash)
	}

	go s.handler.OnClose()
	return err
}

// InfoHash implements pool.SwarmHandler.
func (s *Swarm) InfoHash() infohash.Hash { return s.infoHash }

// Ratio, NumQueued, NumConns, NumPeers, Downloaded, Uploaded implement
// the derived properties of spec.md §3/§6.
func (s *Swarm) Ratio() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.downloaded == 0 {
		return 0
	}
	return float64(s.uploaded) / float64(s.downloaded)
}

func (s *Swarm) NumQueued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Swarm) NumConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.peers {
		if p.conn != nil {
			n++
		}
	}
	return n
}

func (s *Swarm) NumPeers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wires)
}

func (s *Swarm) Downloaded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloaded
}

func (s *Swarm) Uploaded() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded
}

func (s *Swarm) DownloadSpeed() int { return s.downloadSpeed.Rate() }
func (s *Swarm) UploadSpeed() int   { return s.uploadSpeed.Rate() }

func (s *Swarm) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

func (s *Swarm) fireError(err error) {
	s.log.Warn("swarm error", zap.Error(err))
	s.handler.OnError(err)
}

func (s *Swarm) fireWire(w wire.Wire, addrStr string) {
	s.handler.OnWire(w, addrStr)
}

func (s *Swarm) dialCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), HandshakeTimeoutOut)
}


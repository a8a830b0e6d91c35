package swarm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/havenstead/swarmcore/pool"
	"go.uber.org/zap"
)

// Listen binds the swarm to port (0 for an ephemeral one, per spec.md
// §4.1 "listen(port?, cb?)") through its pool.Manager, and registers the
// swarm with the resulting Pool so inbound handshakes for this info-hash
// get routed here. On failure it fires an Error event and returns the
// same error. Optional cb is called once, on the first Listening event.
func (s *Swarm) Listen(port int, cb func(port int)) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrSwarmDestroyed
	}
	s.listenCallback = cb
	manager := s.manager
	s.mu.Unlock()

	var p *pool.Pool
	var err error
	if port == 0 {
		p, err = manager.AcquireEphemeral(pool.WithLogger(s.log))
	} else {
		p, err = manager.Acquire(port, pool.WithLogger(s.log))
	}
	if err != nil {
		wrapped := fmt.Errorf("swarm: listen: %w", err)
		s.fireError(wrapped)
		return wrapped
	}

	if err := p.AddSwarm(s); err != nil {
		s.fireError(err)
		return err
	}

	s.mu.Lock()
	s.pool = p
	s.port = p.Port()
	boundPort := s.port
	mapping := s.portMapping
	s.mu.Unlock()

	if mapping {
		go s.mapPort(boundPort)
	}

	return nil
}

// OnListening implements pool.SwarmHandler. It fires at most once per
// swarm (spec.md §5 "listening is delivered once per swarm, before any
// wire event for that swarm"), since the Pool only calls it once after
// AddSwarm for a pool that is already listening.
func (s *Swarm) OnListening(port int) {
	s.mu.Lock()
	if s.listeningFired {
		s.mu.Unlock()
		return
	}
	s.listeningFired = true
	cb := s.listenCallback
	s.mu.Unlock()

	s.handler.OnListening(port)
	if cb != nil {
		cb(port)
	}
}

// OnPoolError implements pool.SwarmHandler: it fires when the Pool this
// swarm is registered on stops serving because its listener's Accept
// failed. A bind failure never reaches it; Listen reports that itself.
func (s *Swarm) OnPoolError(err error) {
	s.fireError(fmt.Errorf("swarm: pool error: %w", err))
}

// OnIncoming implements pool.SwarmHandler (spec.md §4.1 "_onincoming").
// The Pool has already demultiplexed the connection to this swarm by
// info-hash and received the remote's handshake; OnIncoming records the
// peer, sends our own handshake, and promotes it straight to active.
func (s *Swarm) OnIncoming(ip pool.IncomingPeer) {
	key := ip.Addr
	if key == "" {
		key = uuid.NewString()
	}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		ip.Wire.Destroy()
		return
	}
	if _, exists := s.peers[key]; exists {
		s.mu.Unlock()
		ip.Wire.Destroy()
		return
	}
	if !s.sem.TryAcquire(1) {
		s.mu.Unlock()
		s.log.Debug("rejecting incoming peer over MaxConns", zap.String("addr", ip.Addr))
		ip.Wire.Destroy()
		return
	}

	var addrPtr *string
	if ip.Addr != "" {
		a := ip.Addr
		addrPtr = &a
	}
	p := &peer{
		key:      key,
		addr:     addrPtr,
		conn:     ip.Conn,
		wire:     ip.Wire,
		state:    stateConnectedPreHandshake,
		heldSlot: true,
	}
	s.peers[key] = p
	s.mu.Unlock()

	if err := ip.Wire.Handshake([20]byte(s.infoHash), [20]byte(s.peerID), s.handshakeOpts); err != nil {
		s.onConnEnded(p, err)
		return
	}
	p.sentHandshake = true

	s.onWire(p, ip.PeerID)
}

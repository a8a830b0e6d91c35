// Package pool implements the per-port TCP listener that demultiplexes
// incoming handshakes across the swarms sharing that port (spec.md §4.3).
// Pool never imports the swarm package — it calls back into a registered
// swarm through the SwarmHandler interface declared here, the same
// one-directional dependency the teacher's server package has on
// peer.PeerManager.
package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/havenstead/swarmcore/infohash"
	"github.com/havenstead/swarmcore/transport"
	"github.com/havenstead/swarmcore/wire"
	"go.uber.org/zap"
)

const (
	// HandshakeTimeoutIn is shorter than Swarm's outbound timeout: an
	// incoming peer dialed us first and must show intent quickly.
	HandshakeTimeoutIn = 5 * time.Second
	BindRetries         = 5
	BindRetryDelay      = 1 * time.Second
)

var (
	ErrDuplicateInfoHash = errors.New("pool: info-hash already registered on this port")
	ErrNotListening      = errors.New("pool: bind failed after retries")
)

// IncomingPeer is what a Pool hands a SwarmHandler once it has
// demultiplexed an inbound handshake to the right swarm. It deliberately
// carries no swarm-owned type so this package never needs to import
// swarm.
type IncomingPeer struct {
	Addr       string
	Conn       transport.Conn
	Wire       wire.Wire
	PeerID     [20]byte
	Extensions [8]byte
}

// SwarmHandler is the narrow callback surface a *swarm.Swarm implements
// so a Pool can route traffic to it without a circular import.
type SwarmHandler interface {
	InfoHash() infohash.Hash
	OnIncoming(p IncomingPeer)
	OnPoolError(err error)
	OnListening(port int)
}

// Pool owns one listening TCP port and the swarms registered on it.
type Pool struct {
	mu        sync.Mutex
	listener  transport.Listener
	listening bool
	swarms    map[string]SwarmHandler
	conns     mapset.Set
	retries   int
	log       *zap.Logger

	listenFunc       func(port int) (transport.Listener, error)
	wireFactory      func(transport.Conn) wire.Wire
	handshakeTimeout time.Duration
	onClose          func()
	bindRetries      int
	bindRetryDelay   time.Duration
}

// Option configures a Pool at construction.
type Option func(*Pool)

func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithListenFunc overrides how the Pool binds its port; tests use this to
// avoid a real socket.
func WithListenFunc(f func(port int) (transport.Listener, error)) Option {
	return func(p *Pool) { p.listenFunc = f }
}

// WithWireFactory overrides how the Pool wraps an accepted connection in
// a wire.Wire; defaults to wire.NewTCPWire.
func WithWireFactory(f func(transport.Conn) wire.Wire) Option {
	return func(p *Pool) { p.wireFactory = f }
}

// WithOnClose registers a callback fired once, after Close has torn down
// the listener and pending connections. Manager uses this to drop its
// own reference to a Pool once it closes itself.
func WithOnClose(f func()) Option {
	return func(p *Pool) { p.onClose = f }
}

// withBindRetries overrides the default BindRetries/BindRetryDelay.
// Manager.AcquireEphemeral uses a zero-retry Pool while probing
// candidate ports, since a taken ephemeral candidate should fail fast
// rather than wait through the full EADDRINUSE backoff meant for a
// caller's one deliberately chosen port.
func withBindRetries(retries int, delay time.Duration) Option {
	return func(p *Pool) {
		p.bindRetries = retries
		p.bindRetryDelay = delay
	}
}

// New binds port (0 for ephemeral), retrying up to BindRetries times at
// BindRetryDelay on bind failure, and returns a Pool ready to accept
// connections once Serve is started.
func New(port int, opts ...Option) (*Pool, error) {
	p := &Pool{
		swarms:           make(map[string]SwarmHandler),
		conns:            mapset.NewSet(),
		log:              zap.NewNop(),
		handshakeTimeout: HandshakeTimeoutIn,
		bindRetries:      BindRetries,
		bindRetryDelay:   BindRetryDelay,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.listenFunc == nil {
		p.listenFunc = func(port int) (transport.Listener, error) {
			return transport.Listen(port)
		}
	}
	if p.wireFactory == nil {
		p.wireFactory = func(c transport.Conn) wire.Wire {
			return wire.NewTCPWire(c, p.handshakeTimeout)
		}
	}

	var err error
	for attempt := 0; attempt <= p.bindRetries; attempt++ {
		p.listener, err = p.listenFunc(port)
		if err == nil {
			p.listening = true
			return p, nil
		}
		p.retries++
		p.log.Warn("bind failed, retrying", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < p.bindRetries {
			time.Sleep(p.bindRetryDelay)
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNotListening, err)
}

// Port returns the bound port.
func (p *Pool) Port() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listener.Port()
}

// Serve runs the accept loop until Close is called. Callers typically run
// this in its own goroutine.
func (p *Pool) Serve() {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			p.mu.Lock()
			listening := p.listening
			p.mu.Unlock()
			if !listening {
				return
			}
			p.log.Warn("accept failed", zap.Error(err))
			p.notifyAllError(fmt.Errorf("pool: accept failed: %w", err))
			return
		}
		go p.handleIncoming(conn)
	}
}

func (p *Pool) notifyAllError(err error) {
	p.mu.Lock()
	handlers := make([]SwarmHandler, 0, len(p.swarms))
	for _, sh := range p.swarms {
		handlers = append(handlers, sh)
	}
	p.mu.Unlock()
	for _, sh := range handlers {
		sh.OnPoolError(err)
	}
}

// handleIncoming attaches a Wire to a freshly accepted connection, waits
// for either the remote's handshake or HandshakeTimeoutIn to elapse, and
// routes a successful handshake to the matching swarm.
func (p *Pool) handleIncoming(conn transport.Conn) {
	p.mu.Lock()
	p.conns.Add(conn)
	p.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	finish := func() {
		once.Do(func() {
			p.mu.Lock()
			p.conns.Remove(conn)
			p.mu.Unlock()
			close(done)
		})
	}

	w := p.wireFactory(conn)
	w.SetHandlers(wire.Handlers{
		OnHandshake: func(infoHash, peerID [20]byte, extensions [8]byte) {
			p.routeHandshake(conn, w, infoHash, peerID, extensions)
			finish()
		},
		OnError: func(error) { w.Destroy(); finish() },
		OnEnd:   func() { w.Destroy(); finish() },
		OnClose: finish,
	})

	timer := time.AfterFunc(p.handshakeTimeout, func() { w.Destroy() })
	w.ReceiveHandshake()
	<-done
	timer.Stop()
}

func (p *Pool) routeHandshake(conn transport.Conn, w wire.Wire, rawInfoHash, peerID [20]byte, extensions [8]byte) {
	infoHashHex := infohash.Hash(rawInfoHash).String()

	p.mu.Lock()
	sh, ok := p.swarms[infoHashHex]
	p.mu.Unlock()

	if !ok {
		p.log.Debug("no swarm for incoming handshake", zap.String("infoHash", infoHashHex))
		w.Destroy()
		return
	}

	sh.OnIncoming(IncomingPeer{
		Addr:       conn.RemoteAddrString(),
		Conn:       conn,
		Wire:       w,
		PeerID:     peerID,
		Extensions: extensions,
	})
}

// AddSwarm registers sh under its info-hash. A second registration of the
// same info-hash on this port fails with ErrDuplicateInfoHash and leaves
// the first registration untouched.
func (p *Pool) AddSwarm(sh SwarmHandler) error {
	p.mu.Lock()
	hexHash := sh.InfoHash().String()
	if _, exists := p.swarms[hexHash]; exists {
		p.mu.Unlock()
		return ErrDuplicateInfoHash
	}
	p.swarms[hexHash] = sh
	listening := p.listening
	port := 0
	if p.listener != nil {
		port = p.listener.Port()
	}
	p.mu.Unlock()

	if listening {
		go sh.OnListening(port)
	}
	return nil
}

// RemoveSwarm deregisters the swarm with the given info-hash. When the
// last swarm leaves, the Pool closes its listener and force-closes any
// pending pre-handshake connections before returning, per spec.md §4.3.
func (p *Pool) RemoveSwarm(hash infohash.Hash) {
	p.mu.Lock()
	delete(p.swarms, hash.String())
	empty := len(p.swarms) == 0
	p.mu.Unlock()

	if empty {
		p.Close()
	}
}

// NumSwarms reports how many swarms currently share this pool.
func (p *Pool) NumSwarms() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.swarms)
}

// Close force-closes every pending incoming connection and stops the
// listener. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.listening {
		p.mu.Unlock()
		return nil
	}
	p.listening = false
	pending := p.conns.ToSlice()
	p.conns.Clear()
	listener := p.listener
	p.mu.Unlock()

	for _, c := range pending {
		c.(transport.Conn).Close()
	}
	var err error
	if listener != nil {
		err = listener.Close()
	}
	if p.onClose != nil {
		p.onClose()
	}
	return err
}

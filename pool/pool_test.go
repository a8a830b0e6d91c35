package pool

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/havenstead/swarmcore/infohash"
	"github.com/havenstead/swarmcore/transport"
	"github.com/havenstead/swarmcore/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu     sync.Mutex
	port   int
	conns  chan transport.Conn
	closed bool
}

func newFakeListener(port int) *fakeListener {
	return &fakeListener{port: port, conns: make(chan transport.Conn, 8)}
}

func (l *fakeListener) Accept() (transport.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, errors.New("listener closed")
	}
	return c, nil
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.conns)
	}
	return nil
}

func (l *fakeListener) Port() int { return l.port }

// fakeConn wraps a net.Pipe half to satisfy transport.Conn for tests.
type fakeConn struct {
	net.Conn
	remote string
}

func (c *fakeConn) RemoteAddrString() string { return c.remote }

type fakeSwarmHandler struct {
	hash      infohash.Hash
	incoming  chan IncomingPeer
	errs      chan error
	listening chan int
}

func newFakeSwarmHandler(hash infohash.Hash) *fakeSwarmHandler {
	return &fakeSwarmHandler{
		hash:      hash,
		incoming:  make(chan IncomingPeer, 4),
		errs:      make(chan error, 4),
		listening: make(chan int, 4),
	}
}

func (f *fakeSwarmHandler) InfoHash() infohash.Hash   { return f.hash }
func (f *fakeSwarmHandler) OnIncoming(p IncomingPeer) { f.incoming <- p }
func (f *fakeSwarmHandler) OnPoolError(err error)     { f.errs <- err }
func (f *fakeSwarmHandler) OnListening(port int)      { f.listening <- port }

func mustHash(t *testing.T, raw string) infohash.Hash {
	t.Helper()
	h, err := infohash.ParseBytes([]byte(raw))
	require.NoError(t, err)
	return h
}

func TestPoolDuplicateInfoHashRejected(t *testing.T) {
	ln := newFakeListener(6881)
	p, err := New(6881, WithListenFunc(func(int) (transport.Listener, error) { return ln, nil }))
	require.NoError(t, err)

	hash := mustHash(t, "aaaaaaaaaaaaaaaaaaaa")
	a := newFakeSwarmHandler(hash)
	b := newFakeSwarmHandler(hash)

	require.NoError(t, p.AddSwarm(a))
	assert.ErrorIs(t, p.AddSwarm(b), ErrDuplicateInfoHash)
	assert.Equal(t, 1, p.NumSwarms())
}

func TestPoolRemovingLastSwarmCloses(t *testing.T) {
	ln := newFakeListener(6882)
	p, err := New(6882, WithListenFunc(func(int) (transport.Listener, error) { return ln, nil }))
	require.NoError(t, err)

	hash := mustHash(t, "bbbbbbbbbbbbbbbbbbbb")
	sh := newFakeSwarmHandler(hash)
	require.NoError(t, p.AddSwarm(sh))

	p.RemoveSwarm(hash)

	ln.mu.Lock()
	closed := ln.closed
	ln.mu.Unlock()
	assert.True(t, closed)
}

func TestPoolRoutesMatchingHandshakeToRegisteredSwarm(t *testing.T) {
	ln := newFakeListener(6883)
	mock := wire.NewMockWire()
	p, err := New(6883,
		WithListenFunc(func(int) (transport.Listener, error) { return ln, nil }),
		WithWireFactory(func(c transport.Conn) wire.Wire { return mock }),
	)
	require.NoError(t, err)

	hashA := mustHash(t, "aaaaaaaaaaaaaaaaaaaa")
	shA := newFakeSwarmHandler(hashA)
	require.NoError(t, p.AddSwarm(shA))

	go p.Serve()
	defer p.Close()

	a, b := net.Pipe()
	_ = b
	ln.conns <- &fakeConn{Conn: a, remote: "1.1.1.1:1"}

	// give handleIncoming a moment to attach the mock's handlers.
	time.Sleep(20 * time.Millisecond)

	mock.FireHandshake(hashA, [20]byte{9}, [8]byte{})

	select {
	case got := <-shA.incoming:
		assert.Equal(t, "1.1.1.1:1", got.Addr)
	case <-time.After(time.Second):
		t.Fatal("swarm never received matching handshake")
	}
}

func TestPoolDropsHandshakeForUnknownInfoHash(t *testing.T) {
	ln := newFakeListener(6884)
	mock := wire.NewMockWire()
	p, err := New(6884,
		WithListenFunc(func(int) (transport.Listener, error) { return ln, nil }),
		WithWireFactory(func(c transport.Conn) wire.Wire { return mock }),
	)
	require.NoError(t, err)

	go p.Serve()
	defer p.Close()

	a, b := net.Pipe()
	_ = b
	ln.conns <- &fakeConn{Conn: a, remote: "2.2.2.2:2"}
	time.Sleep(20 * time.Millisecond)

	unknown := mustHash(t, "zzzzzzzzzzzzzzzzzzzz")
	mock.FireHandshake(unknown, [20]byte{}, [8]byte{})

	time.Sleep(20 * time.Millisecond)
	assert.True(t, mock.Destroyed)
}

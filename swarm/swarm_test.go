package swarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/havenstead/swarmcore/infohash"
	"github.com/havenstead/swarmcore/pool"
	"github.com/havenstead/swarmcore/transport"
	"github.com/havenstead/swarmcore/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustHash(t *testing.T, raw string) infohash.Hash {
	t.Helper()
	h, err := infohash.ParseBytes([]byte(raw))
	require.NoError(t, err)
	return h
}

func mustPeerID(t *testing.T, raw string) infohash.PeerID {
	t.Helper()
	id, err := infohash.ParsePeerID(raw)
	require.NoError(t, err)
	return id
}

// fakeDialer hands out a pre-scripted sequence of connections (such as a
// no-op Conn) or errors, one per DialContext call, mirroring how
// go-torrent/peer/peer_test.go substitutes dial outcomes via a package
// variable rather than a real socket.
type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	calls   int
}

type dialResult struct {
	conn transport.Conn
	err  error
}

func (d *fakeDialer) DialContext(ctx context.Context, addr string) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls >= len(d.results) {
		return nil, errors.New("fakeDialer: no more scripted results")
	}
	r := d.results[d.calls]
	d.calls++
	return r.conn, r.err
}

type noopConn struct {
	transport.Conn
	closed bool
}

func (c *noopConn) Close() error  { c.closed = true; return nil }
func (c *noopConn) RemoteAddrString() string { return "" }

func newDialer(results ...dialResult) *fakeDialer {
	return &fakeDialer{results: results}
}

func TestSwarmOutboundHappyPath(t *testing.T) {
	mock := wire.NewMockWire()
	dialer := newDialer(dialResult{conn: &noopConn{}})

	s := New(mustHash(t, "11111111111111111111"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{},
		WithDialer(dialer),
		WithWireFactory(func(transport.Conn) wire.Wire { return mock }),
	)

	s.Add("127.0.0.1:6881")

	require.Eventually(t, func() bool {
		return len(mock.Handshakes) == 1
	}, time.Second, 5*time.Millisecond)

	mock.FireHandshake([20]byte(s.infoHash), [20]byte{9}, [8]byte{})

	require.Eventually(t, func() bool {
		return s.NumPeers() == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, s.NumPeers())
	assert.Equal(t, 0, s.NumQueued())
}

func TestSwarmCrossedHandshakeDestroysConnection(t *testing.T) {
	mock := wire.NewMockWire()
	dialer := newDialer(dialResult{conn: &noopConn{}})

	s := New(mustHash(t, "aaaaaaaaaaaaaaaaaaaa"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{},
		WithDialer(dialer),
		WithWireFactory(func(transport.Conn) wire.Wire { return mock }),
		WithClock(clock.NewMock()),
	)

	s.Add("127.0.0.1:6881")
	require.Eventually(t, func() bool { return len(mock.Handshakes) == 1 }, time.Second, 5*time.Millisecond)

	mock.FireHandshake(mustHash(t, "bbbbbbbbbbbbbbbbbbbb"), [20]byte{9}, [8]byte{})

	require.Eventually(t, func() bool { return mock.Destroyed }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, s.NumPeers())
}

func TestSwarmBackoffUsesScheduleAndIsTerminal(t *testing.T) {
	mockClock := clock.NewMock()
	dialErr := errors.New("connection refused")

	results := make([]dialResult, 0, len(BackoffSchedule)+1)
	for i := 0; i <= len(BackoffSchedule); i++ {
		results = append(results, dialResult{err: dialErr})
	}
	dialer := newDialer(results...)

	s := New(mustHash(t, "11111111111111111111"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{},
		WithDialer(dialer),
		WithClock(mockClock),
	)

	s.Add("127.0.0.1:6881")

	for want := 1; want <= len(BackoffSchedule); want++ {
		require.Eventually(t, func() bool {
			s.mu.Lock()
			defer s.mu.Unlock()
			p, ok := s.peers["127.0.0.1:6881"]
			return ok && p.retries >= want && p.backoffTimer != nil
		}, time.Second, 5*time.Millisecond)
		mockClock.Add(BackoffSchedule[want-1])
	}

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		_, exists := s.peers["127.0.0.1:6881"]
		return !exists
	}, time.Second, 5*time.Millisecond)
}

func TestSwarmCapEnforcement(t *testing.T) {
	results := make([]dialResult, 5)
	for i := range results {
		results[i] = dialResult{conn: &noopConn{}}
	}
	dialer := newDialer(results...)

	s := New(mustHash(t, "11111111111111111111"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{},
		WithDialer(dialer),
		WithWireFactory(func(transport.Conn) wire.Wire { return wire.NewMockWire() }),
		withMaxConns(2),
	)

	for i := 0; i < 5; i++ {
		s.Add(addrFor(i))
	}

	require.Eventually(t, func() bool {
		return s.NumConns() <= 2 && s.NumQueued() >= 3
	}, time.Second, 5*time.Millisecond)
}

func addrFor(i int) string {
	ports := []string{"6881", "6882", "6883", "6884", "6885"}
	return "127.0.0.1:" + ports[i]
}

func TestSwarmDestroyIsCleanAndIdempotent(t *testing.T) {
	mock := wire.NewMockWire()
	dialer := newDialer(dialResult{conn: &noopConn{}})

	s := New(mustHash(t, "11111111111111111111"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{},
		WithDialer(dialer),
		WithWireFactory(func(transport.Conn) wire.Wire { return mock }),
	)

	s.Add("127.0.0.1:6881")
	require.Eventually(t, func() bool { return len(mock.Handshakes) == 1 }, time.Second, 5*time.Millisecond)
	mock.FireHandshake([20]byte(s.infoHash), [20]byte{9}, [8]byte{})
	require.Eventually(t, func() bool { return s.NumPeers() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Destroy())
	require.NoError(t, s.Destroy())

	assert.Equal(t, 0, s.NumPeers())
	assert.True(t, mock.Destroyed)
}

func TestSwarmDuplicateAddAddsExactlyOnePeer(t *testing.T) {
	dialer := newDialer(dialResult{err: errors.New("refused")}, dialResult{err: errors.New("refused")})
	s := New(mustHash(t, "11111111111111111111"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{},
		WithDialer(dialer),
		WithClock(clock.NewMock()),
	)

	s.Add("127.0.0.1:6881")
	s.Add("127.0.0.1:6881")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Len(t, s.peers, 1)
}

func TestSwarmRatioIsZeroWithoutDownload(t *testing.T) {
	s := New(mustHash(t, "11111111111111111111"), mustPeerID(t, "22222222222222222222"), wire.HandshakeOpts{})
	assert.Equal(t, float64(0), s.Ratio())
}

var _ pool.SwarmHandler = (*Swarm)(nil)

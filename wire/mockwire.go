package wire

import (
	"sync"
	"time"
)

// MockWire is a test double satisfying Wire without touching the
// network; swarm and pool tests drive peer promotion and teardown
// through it directly, in the spirit of go-torrent/peer/peer_test.go's
// hand-written mocks (that file mocks net.Conn; we go one layer up and
// mock the Wire contract itself since the codec is out of this module's
// scope).
type MockWire struct {
	mu           sync.Mutex
	handlers     Handlers
	Handshakes   [][3]interface{} // infoHash, peerID, opts captured per call
	Destroyed    bool
	HandshakeErr error
	DestroyErr   error
	lastMsgSent  time.Time
}

func NewMockWire() *MockWire {
	return &MockWire{}
}

func (m *MockWire) SetHandlers(h Handlers) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = h
}

func (m *MockWire) Handshake(infoHash, peerID [20]byte, opts HandshakeOpts) error {
	m.mu.Lock()
	m.Handshakes = append(m.Handshakes, [3]interface{}{infoHash, peerID, opts})
	m.lastMsgSent = time.Now()
	err := m.HandshakeErr
	m.mu.Unlock()
	return err
}

// ReceiveHandshake is a no-op: tests drive an inbound handshake by
// calling FireHandshake directly, same as they do for an outbound one.
func (m *MockWire) ReceiveHandshake() {}

func (m *MockWire) Destroy() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Destroyed {
		return nil
	}
	m.Destroyed = true
	if m.handlers.OnClose != nil {
		m.handlers.OnClose()
	}
	return m.DestroyErr
}

func (m *MockWire) LastMessageSent() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastMsgSent
}

// FireHandshake simulates the remote peer's handshake arriving.
func (m *MockWire) FireHandshake(infoHash, peerID [20]byte, extensions [8]byte) {
	m.mu.Lock()
	h := m.handlers.OnHandshake
	m.mu.Unlock()
	if h != nil {
		h(infoHash, peerID, extensions)
	}
}

// FireEnd simulates the remote end of the connection closing cleanly.
func (m *MockWire) FireEnd() {
	m.mu.Lock()
	h := m.handlers.OnEnd
	m.mu.Unlock()
	if h != nil {
		h()
	}
}

// FireError simulates a transport-level error.
func (m *MockWire) FireError(err error) {
	m.mu.Lock()
	h := m.handlers.OnError
	m.mu.Unlock()
	if h != nil {
		h(err)
	}
}

// FireDownload/FireUpload simulate bytes transferred.
func (m *MockWire) FireDownload(n int) {
	m.mu.Lock()
	h := m.handlers.OnDownload
	m.mu.Unlock()
	if h != nil {
		h(n)
	}
}

func (m *MockWire) FireUpload(n int) {
	m.mu.Lock()
	h := m.handlers.OnUpload
	m.mu.Unlock()
	if h != nil {
		h(n)
	}
}

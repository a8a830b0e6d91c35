package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/havenstead/swarmcore/transport"
)

// Protocol is the fixed BitTorrent protocol string exchanged during the
// handshake (spec.md §6, "Wire format (bit-exact)").
const Protocol = "BitTorrent protocol"

// handshakeWire is the 1+19+8+20+20 byte on-wire handshake layout,
// adapted unchanged from go-torrent/wire/wire.go's Handshake struct.
type handshakeWire struct {
	Len      uint8
	Protocol [19]byte
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

const handshakeLen = 1 + 19 + 8 + 20 + 20

// tcpWire is the default Wire implementation: it performs the bit-exact
// handshake over a transport.Conn and then fires OnEnd/OnError/OnClose on
// whatever happens to the connection afterward. It does not decode any
// message past the handshake — piece/choke/interest framing is the
// excluded wire-protocol codec (spec.md §1) and is the caller's job once
// it has a handshaken Wire.
type tcpWire struct {
	conn    transport.Conn
	timeout time.Duration

	mu              sync.Mutex
	handlers        Handlers
	sentHandshake   bool
	receiveStarted  bool
	lastMessageSent time.Time
	destroyed       bool
}

// NewTCPWire wraps an already-connected transport.Conn. timeout bounds
// both the handshake read and any write.
func NewTCPWire(conn transport.Conn, timeout time.Duration) Wire {
	return &tcpWire{conn: conn, timeout: timeout}
}

func (w *tcpWire) SetHandlers(h Handlers) {
	w.mu.Lock()
	w.handlers = h
	w.mu.Unlock()
}

func (w *tcpWire) LastMessageSent() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastMessageSent
}

func (w *tcpWire) Handshake(infoHash, peerID [20]byte, opts HandshakeOpts) error {
	w.mu.Lock()
	if w.sentHandshake {
		w.mu.Unlock()
		return fmt.Errorf("wire: handshake already sent")
	}
	w.sentHandshake = true
	w.mu.Unlock()

	b := &bytes.Buffer{}
	binary.Write(b, binary.BigEndian, uint8(19))
	b.WriteString(Protocol)
	binary.Write(b, binary.BigEndian, opts.Extensions)
	b.Write(infoHash[:])
	b.Write(peerID[:])

	if err := w.send(b.Bytes()); err != nil {
		return err
	}

	w.startReceive()
	return nil
}

// ReceiveHandshake implements Wire: it starts the same read loop
// Handshake kicks off after sending, but without sending anything
// first, for a listener that must read before it can address a reply.
func (w *tcpWire) ReceiveHandshake() {
	w.startReceive()
}

// startReceive launches readHandshake at most once per wire, whether it
// was kicked off by an inbound ReceiveHandshake or an outbound
// Handshake's wait for the reply. A reply to our own Handshake after an
// inbound ReceiveHandshake already read the remote's handshake would
// otherwise race two goroutines reading the same conn.
func (w *tcpWire) startReceive() {
	w.mu.Lock()
	if w.receiveStarted {
		w.mu.Unlock()
		return
	}
	w.receiveStarted = true
	w.mu.Unlock()
	go w.readHandshake()
}

func (w *tcpWire) send(msg []byte) error {
	w.conn.SetWriteDeadline(time.Now().Add(w.timeout))
	_, err := w.conn.Write(msg)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.lastMessageSent = time.Now()
	w.mu.Unlock()
	return nil
}

func (w *tcpWire) readHandshake() {
	w.conn.SetReadDeadline(time.Now().Add(w.timeout))
	data := make([]byte, handshakeLen)
	if _, err := io.ReadFull(w.conn, data); err != nil {
		w.fireError(err)
		return
	}

	var h handshakeWire
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, &h); err != nil {
		w.fireError(err)
		return
	}
	if h.Len != 19 || string(h.Protocol[:]) != Protocol {
		w.fireError(fmt.Errorf("wire: unrecognized protocol handshake"))
		return
	}

	w.mu.Lock()
	onHandshake := w.handlers.OnHandshake
	w.mu.Unlock()
	if onHandshake != nil {
		onHandshake(h.InfoHash, h.PeerID, h.Reserved)
	}

	// No further framing is understood below this layer; once the
	// handshake is delivered, the rest of the connection belongs to
	// whatever codec the caller layers on top. Watch only for the
	// connection dying so we can still fire the terminal event.
	w.watchClose()
}

func (w *tcpWire) watchClose() {
	buf := make([]byte, 1)
	w.conn.SetReadDeadline(time.Time{})
	_, err := w.conn.Read(buf)
	if err != nil {
		if err == io.EOF {
			w.fireEnd()
		} else {
			w.fireError(err)
		}
	}
}

func (w *tcpWire) fireError(err error) {
	w.mu.Lock()
	onError := w.handlers.OnError
	w.mu.Unlock()
	if onError != nil {
		onError(err)
	}
}

func (w *tcpWire) fireEnd() {
	w.mu.Lock()
	onEnd := w.handlers.OnEnd
	w.mu.Unlock()
	if onEnd != nil {
		onEnd()
	}
}

func (w *tcpWire) Destroy() error {
	w.mu.Lock()
	if w.destroyed {
		w.mu.Unlock()
		return nil
	}
	w.destroyed = true
	onClose := w.handlers.OnClose
	w.mu.Unlock()

	err := w.conn.Close()
	if onClose != nil {
		onClose()
	}
	return err
}

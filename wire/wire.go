// Package wire defines the duplex-stream peer-protocol contract the
// swarm core consumes (spec.md §4.4). The core never interprets anything
// past this interface: framing, choke/interest, piece request/response,
// and extensions are the concern of whatever Wire implementation a host
// process supplies. tcpwire.go ships one concrete implementation — a
// bit-exact handshake reader/writer — so the module is usable standalone.
package wire

import "time"

// HandshakeOpts carries the BEP-3 reserved-byte extension flags a caller
// wants advertised; the core treats it as opaque and simply forwards it.
type HandshakeOpts struct {
	Extensions [8]byte
}

// Handlers is the set of callbacks a Wire fires. More than one of
// End/Error/Close/Finish may fire for the same connection (tcpWire, for
// instance, fires Close from Destroy and Error from the read the close
// interrupts), so terminal handlers must be idempotent. This replaces a
// generic event emitter per spec.md §9.
type Handlers struct {
	OnHandshake func(infoHash, peerID [20]byte, extensions [8]byte)
	OnDownload  func(n int)
	OnUpload    func(n int)
	OnEnd       func()
	OnError     func(err error)
	OnClose     func()
	OnFinish    func()
}

// Wire is the external contract the swarm core dials, attaches handlers
// to, and tears down through. Implementations must make Handshake and
// Destroy safe to call from any goroutine.
type Wire interface {
	// SetHandlers registers the callbacks fired for protocol-level
	// events. Must be called before Handshake.
	SetHandlers(h Handlers)

	// Handshake sends our handshake exactly once per wire, and also
	// begins waiting for the remote's. A second call is a programmer
	// error; tcpWire returns an error for it.
	Handshake(infoHash, peerID [20]byte, opts HandshakeOpts) error

	// ReceiveHandshake begins waiting for the remote's handshake without
	// sending ours first. A listener accepting inbound connections needs
	// this: it must demultiplex on the remote's info-hash before it
	// knows which swarm's handshake to send back (spec.md §4.3). Callers
	// that dial out use Handshake instead, which covers both directions.
	ReceiveHandshake()

	// Destroy forces termination; implementations must fire OnClose
	// (directly or via the underlying transport's close) even if no
	// handshake was ever exchanged.
	Destroy() error

	// LastMessageSent supports keep-alive scheduling by a caller that
	// layers a full wire protocol atop Handshake.
	LastMessageSent() time.Time
}

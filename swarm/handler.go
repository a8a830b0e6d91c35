package swarm

import "github.com/havenstead/swarmcore/wire"

// Handler receives the events a Swarm emits (spec.md §4.1 "Events
// emitted"). A Swarm is constructed with exactly one Handler; a host
// wanting multiple observers wraps its own fan-out Handler, per spec.md
// §9 "one consumer per swarm is the normal case".
type Handler interface {
	OnListening(port int)
	OnWire(w wire.Wire, addr string)
	OnDownload(n int)
	OnUpload(n int)
	OnError(err error)
	OnClose()
}

// NoopHandler discards every event; it is the default Handler for a
// Swarm constructed without WithHandler.
type NoopHandler struct{}

func (NoopHandler) OnListening(int)           {}
func (NoopHandler) OnWire(wire.Wire, string)  {}
func (NoopHandler) OnDownload(int)            {}
func (NoopHandler) OnUpload(int)              {}
func (NoopHandler) OnError(error)             {}
func (NoopHandler) OnClose()                  {}

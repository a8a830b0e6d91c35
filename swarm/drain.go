package swarm

import (
	"math/rand"
	"time"

	"github.com/havenstead/swarmcore/wire"
	"go.uber.org/zap"
)

// drain implements spec.md §4.1 "_drain (admission control)": while
// capacity and pause state allow it, pop the head of the queue (FIFO)
// and start an outbound dial for it. It returns as soon as the cap is
// hit, the swarm is paused, or the queue empties, so a caller can call
// it unconditionally after anything that might have freed a slot.
func (s *Swarm) drain() {
	for {
		s.mu.Lock()
		if s.destroyed || s.paused {
			s.mu.Unlock()
			return
		}
		if !s.sem.TryAcquire(1) {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.sem.Release(1)
			s.mu.Unlock()
			return
		}
		p := s.queue[0]
		s.queue = s.queue[1:]
		if p.backoffTimer != nil {
			p.backoffTimer.Stop()
			p.backoffTimer = nil
		}
		p.state = stateDialing
		p.heldSlot = true
		p.connEnded = false
		addrStr := ""
		if p.addr != nil {
			addrStr = *p.addr
		}
		s.mu.Unlock()

		go s.dial(p, addrStr)
	}
}

// dial opens an outbound connection for p and arms the outbound
// handshake deadline. Connect failure and handshake timeout both funnel
// into onConnEnded, which applies the backoff/permanent-destroy decision
// uniformly regardless of how the connection ended.
func (s *Swarm) dial(p *peer, addrStr string) {
	ctx, cancel := s.dialCtx()
	defer cancel()

	conn, err := s.dialer.DialContext(ctx, addrStr)
	if err != nil {
		s.log.Debug("dial failed", zap.String("addr", addrStr), zap.Error(err))
		s.onConnEnded(p, err)
		return
	}

	s.mu.Lock()
	if s.destroyed || p.destroyed {
		s.mu.Unlock()
		conn.Close()
		s.onConnEnded(p, nil)
		return
	}
	p.conn = conn
	p.state = stateConnectedPreHandshake
	w := s.wireFactory(conn)
	p.wire = w
	s.mu.Unlock()

	w.SetHandlers(wire.Handlers{
		OnHandshake: func(infoHash, peerID [20]byte, extensions [8]byte) {
			s.onRemoteHandshake(p, infoHash, peerID)
		},
		OnEnd:   func() { s.onConnEnded(p, nil) },
		OnError: func(err error) { s.onConnEnded(p, err) },
		OnClose: func() { s.onConnEnded(p, nil) },
	})

	p.timeout = s.clk.AfterFunc(HandshakeTimeoutOut, func() {
		if s.metrics != nil {
			s.metrics.IncHandshakeTimeout()
		}
		w.Destroy()
	})

	if err := w.Handshake([20]byte(s.infoHash), [20]byte(s.peerID), s.handshakeOpts); err != nil {
		s.onConnEnded(p, err)
		return
	}
	s.mu.Lock()
	p.sentHandshake = true
	s.mu.Unlock()
}

// onRemoteHandshake is the one-shot handler for the remote's reply to an
// outbound dial (spec.md §4.1 "_drain", the "install a one-shot handler
// for the remote handshake" paragraph). A mismatched info-hash destroys
// only this connection; other peers are unaffected.
func (s *Swarm) onRemoteHandshake(p *peer, remoteInfoHash, remotePeerID [20]byte) {
	if remoteInfoHash != [20]byte(s.infoHash) {
		s.log.Debug("handshake info-hash mismatch, destroying connection")
		s.onConnEnded(p, errInfoHashMismatch)
		return
	}
	s.onWire(p, remotePeerID)
}

// onWire promotes p to active (spec.md §4.1 "_onwire(peer)"): disarm the
// handshake deadline (spec.md §4.2 "clearTimeout()"), reset the retry
// counter, subscribe to byte-transfer events, append its wire to the
// active set, and fire the Wire event.
func (s *Swarm) onWire(p *peer, remotePeerID [20]byte) {
	s.mu.Lock()
	if s.destroyed || p.destroyed {
		s.mu.Unlock()
		return
	}
	if p.timeout != nil {
		p.timeout.Stop()
		p.timeout = nil
	}
	p.retries = 0
	p.state = stateActive
	w := p.wire
	s.wires = append(s.wires, w)
	addrPtr := p.addr
	s.mu.Unlock()

	w.SetHandlers(wire.Handlers{
		OnDownload: func(n int) { s.onDownload(p, n) },
		OnUpload:   func(n int) { s.onUpload(p, n) },
		OnEnd:      func() { s.onConnEnded(p, nil) },
		OnError:    func(err error) { s.onConnEnded(p, err) },
		OnClose:    func() { s.onConnEnded(p, nil) },
		OnFinish:   func() { s.onConnEnded(p, nil) },
	})

	addrStr := ""
	if addrPtr != nil {
		addrStr = *addrPtr
	}
	_ = remotePeerID
	s.fireWire(w, addrStr)
}

func (s *Swarm) onDownload(p *peer, n int) {
	s.mu.Lock()
	s.downloaded += uint64(n)
	s.mu.Unlock()
	s.downloadSpeed.Update(n)
	if s.metrics != nil {
		s.metrics.AddDownloaded(n)
	}
	s.handler.OnDownload(n)
}

func (s *Swarm) onUpload(p *peer, n int) {
	s.mu.Lock()
	s.uploaded += uint64(n)
	s.mu.Unlock()
	s.uploadSpeed.Update(n)
	if s.metrics != nil {
		s.metrics.AddUploaded(n)
	}
	s.handler.OnUpload(n)
}

// onConnEnded is the single funnel every transport/wire termination
// reaches (spec.md §2 "Teardown"), regardless of whether the connection
// never got past dialing or was an active wire. It decides between
// permanent destruction and a backoff-scheduled redial, and releases the
// peer's admission-control slot (removePeer releases it too if it is
// still held), guarded by connEnded so a double-fired terminal event
// never double-releases it.
func (s *Swarm) onConnEnded(p *peer, err error) {
	s.mu.Lock()
	if p.connEnded || p.destroyed {
		s.mu.Unlock()
		return
	}
	p.connEnded = true
	s.removeWireLocked(p.wire)
	heldSlot := p.heldSlot
	p.heldSlot = false
	permanent := s.destroyed || p.retries >= len(BackoffSchedule)
	s.mu.Unlock()

	p.detach()
	if heldSlot {
		s.sem.Release(1)
	}

	if err != nil {
		s.log.Debug("peer connection ended", zap.Error(err))
	}

	if permanent {
		if removeErr := s.removePeer(p); removeErr != nil {
			s.log.Warn("peer teardown error", zap.Error(removeErr))
		}
		s.drain()
		return
	}
	s.scheduleReconnect(p)
	s.drain()
}

func (s *Swarm) scheduleReconnect(p *peer) {
	s.mu.Lock()
	if s.destroyed || p.destroyed {
		s.mu.Unlock()
		return
	}
	delay := BackoffSchedule[p.retries]
	if s.backoffJitter {
		delay = jitter(delay)
	}
	p.retries++
	p.state = stateAwaitingReconnect
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.IncReconnect()
	}
	p.backoffTimer = s.clk.AfterFunc(delay, func() { s.requeue(p) })
}

func (s *Swarm) requeue(p *peer) {
	s.mu.Lock()
	if s.destroyed || p.destroyed {
		s.mu.Unlock()
		return
	}
	p.backoffTimer = nil
	p.state = stateQueued
	s.queue = append(s.queue, p)
	s.mu.Unlock()

	s.drain()
}

// jitter returns d adjusted by up to ±10%, per WithBackoffJitter.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.1
	offset := (rand.Float64()*2 - 1) * spread
	return d + time.Duration(offset)
}

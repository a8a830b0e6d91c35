// Package transport defines the duck-typed duplex-stream contract the
// swarm core dials, accepts, and destroys peers over. TCP is the only
// concrete implementation here; WebRTC and HTTP-seed ("webconn")
// transports are pluggable peer transports out of scope for this module
// (spec.md §1) and need only satisfy Conn/Dialer/Listener structurally.
package transport

import (
	"context"
	"net"
	"strconv"
)

// Conn is the minimal capability a peer transport must offer: a duplex
// byte stream that can be torn down and that reports where it's connected
// to (empty for transports, like WebRTC, without a meaningful host:port).
type Conn interface {
	net.Conn
	// RemoteAddrString returns the peer's address in "host:port" form, or
	// "" when the transport has no such notion (e.g. WebRTC).
	RemoteAddrString() string
}

// Dialer opens outbound connections. Swarm._drain depends on this
// interface rather than net.Dial directly so tests can substitute a fake
// without touching the network.
type Dialer interface {
	DialContext(ctx context.Context, addr string) (Conn, error)
}

// Listener accepts inbound connections for a Pool.
type Listener interface {
	Accept() (Conn, error)
	Close() error
	Port() int
}

// TCPDialer is the default Dialer, backed by net.Dialer.
type TCPDialer struct {
	net.Dialer
}

func (d TCPDialer) DialContext(ctx context.Context, addr string) (Conn, error) {
	c, err := d.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &tcpConn{c.(*net.TCPConn)}, nil
}

type tcpConn struct {
	*net.TCPConn
}

func (c *tcpConn) RemoteAddrString() string {
	return c.RemoteAddr().String()
}

// WrapTCP adapts an already-accepted *net.TCPConn (e.g. from a Listener)
// to the Conn interface.
func WrapTCP(c *net.TCPConn) Conn {
	return &tcpConn{c}
}

// TCPListener is the default Listener, backed by net.Listen("tcp", ...).
type TCPListener struct {
	ln net.Listener
}

// Listen binds port (0 for an ephemeral port) on all interfaces.
func Listen(port int) (*TCPListener, error) {
	ln, err := net.Listen("tcp", netListenAddr(port))
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

func netListenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}

func (l *TCPListener) Accept() (Conn, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, err
	}
	return WrapTCP(c.(*net.TCPConn)), nil
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

func (l *TCPListener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}

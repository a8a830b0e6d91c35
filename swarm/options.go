package swarm

import (
	"github.com/benbjohnson/clock"
	"github.com/havenstead/swarmcore/metrics"
	"github.com/havenstead/swarmcore/pool"
	"github.com/havenstead/swarmcore/transport"
	"github.com/havenstead/swarmcore/wire"
	"go.uber.org/zap"
)

// Option configures a Swarm at construction, in the functional-options
// style the pack uses for hand-rolled configuration rather than a config
// file or struct-tag driven library.
type Option func(*Swarm)

// WithHandler registers the single consumer that receives this Swarm's
// events. Defaults to NoopHandler.
func WithHandler(h Handler) Option {
	return func(s *Swarm) { s.handler = h }
}

// WithLogger overrides the structured logger. Defaults to zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(s *Swarm) { s.log = l }
}

// WithManager supplies the pool.Manager a Listen call binds through.
// Defaults to a private Manager owned by this Swarm alone.
func WithManager(m *pool.Manager) Option {
	return func(s *Swarm) { s.manager = m }
}

// WithDialer overrides how outbound connections are opened; tests use
// this to avoid the network.
func WithDialer(d transport.Dialer) Option {
	return func(s *Swarm) { s.dialer = d }
}

// WithWireFactory overrides how a dialed connection is wrapped in a
// wire.Wire; defaults to wire.NewTCPWire. Pool-side (inbound) wires are
// always supplied already-wrapped by the Pool itself.
func WithWireFactory(f func(transport.Conn) wire.Wire) Option {
	return func(s *Swarm) { s.wireFactory = f }
}

// WithClock overrides the clock handshake deadlines and backoff timers
// are scheduled against; defaults to the real clock.New(). Tests pass a
// clock.NewMock() to drive timers without sleeping.
func WithClock(c clock.Clock) Option {
	return func(s *Swarm) { s.clk = c }
}

// WithBackoffJitter enables up to ±10% jitter on each BackoffSchedule
// delay, SPEC_FULL.md §4.1 (added). Disabled by default so the backoff
// schedule stays bit-exact with spec.md.
func WithBackoffJitter(enabled bool) Option {
	return func(s *Swarm) { s.backoffJitter = enabled }
}

// WithPortMapping enables a best-effort UPnP port mapping
// attempt when Listen binds a port. It never blocks or fails Listen: a
// mapping failure is only logged.
func WithPortMapping(enabled bool) Option {
	return func(s *Swarm) { s.portMapping = enabled }
}

// WithMetrics attaches a metrics.Collector this Swarm reports its
// handshake-timeout, reconnect and byte counters through; the Swarm does
// not update the collector's active-conns or queued-peers gauges.
// Defaults to nil, which disables metrics entirely.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Swarm) { s.metrics = c }
}

// withMaxConns overrides MaxConns for tests exercising admission control
// (spec.md §8 scenario 4 sets MAX_CONNS = 2).
func withMaxConns(n int64) Option {
	return func(s *Swarm) { s.maxConns = n }
}

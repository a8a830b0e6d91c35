package pool

import (
	"math/rand"
	"sync"
)

// ephemeralRangeLow and ephemeralRangeHigh bound the range a Manager
// draws its randomized ephemeral-port base from, per spec.md §6/§9: a uniform base
// in [1025, 61025) avoids systematic retry collisions when many managers
// start at once on the same host.
const (
	ephemeralRangeLow  = 1025
	ephemeralRangeHigh = 61025
)

// Manager is the process-wide port -> Pool registry, kept as an explicit
// object (spec.md §9 "Global pool registry") rather than a package-level
// global so tests can each construct their own and run in parallel
// without port collisions.
type Manager struct {
	mu    sync.Mutex
	pools map[int]*Pool
	base  int
}

// NewManager returns a fresh, empty registry with its own randomized
// ephemeral-port base.
func NewManager() *Manager {
	return &Manager{
		pools: make(map[int]*Pool),
		base:  ephemeralRangeLow + rand.Intn(ephemeralRangeHigh-ephemeralRangeLow),
	}
}

// EphemeralBase returns the base this Manager will offer to callers
// requesting port 0, i.e. Swarm.Listen(0, cb).
func (m *Manager) EphemeralBase() int {
	return m.base
}

// Acquire returns the Pool for port, creating and binding one (lazily)
// if none exists yet.
func (m *Manager) Acquire(port int, opts ...Option) (*Pool, error) {
	m.mu.Lock()
	if p, ok := m.pools[port]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	boundPort := port
	opts = append(opts, WithOnClose(func() { m.Release(boundPort) }))
	p, err := New(port, opts...)
	if err != nil {
		return nil, err
	}
	if boundPort == 0 {
		boundPort = p.Port()
	}

	m.mu.Lock()
	// Another caller may have raced us to the same port; prefer whichever
	// pool won and close ours if we lost.
	if existing, ok := m.pools[p.Port()]; ok {
		m.mu.Unlock()
		// ours was never registered; its onClose would drop the winner.
		p.onClose = nil
		p.Close()
		return existing, nil
	}
	m.pools[p.Port()] = p
	m.mu.Unlock()

	go p.Serve()
	return p, nil
}

// Release drops the pool bound to port from the registry. Pool itself
// decides when to actually close its listener (once its last swarm is
// removed); Release just stops tracking a pool that has already closed.
func (m *Manager) Release(port int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pools, port)
}

// Lookup returns the Pool bound to port, if any.
func (m *Manager) Lookup(port int) (*Pool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[port]
	return p, ok
}

// ephemeralProbeAttempts bounds how many candidate ports AcquireEphemeral
// tries from its randomized base before giving up and letting the OS
// assign one instead.
const ephemeralProbeAttempts = 20

// AcquireEphemeral binds a free port, probing sequentially from this
// Manager's randomized base (spec.md §9's portfinder note) before
// falling back to an OS-assigned ephemeral port if every probed port in
// range is already taken.
func (m *Manager) AcquireEphemeral(opts ...Option) (*Pool, error) {
	probeOpts := append(append([]Option{}, opts...), withBindRetries(0, 0))
	for i := 0; i < ephemeralProbeAttempts; i++ {
		candidate := m.base + i
		if candidate >= ephemeralRangeHigh {
			break
		}
		m.mu.Lock()
		_, taken := m.pools[candidate]
		m.mu.Unlock()
		if taken {
			continue
		}
		if p, err := m.Acquire(candidate, probeOpts...); err == nil {
			return p, nil
		}
	}
	return m.Acquire(0, opts...)
}

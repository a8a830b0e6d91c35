// Package addr validates the "host:port" strings Swarm.Add receives.
package addr

import (
	"fmt"
	"net"
	"strconv"
)

// Addr is a validated host/port pair.
type Addr struct {
	Host string
	Port int
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Parse splits "host:port" and validates that 0 < port < 65535. The host
// portion is not further validated here; transport-layer dial failures
// surface through the swarm's normal connect-error path.
func Parse(s string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Addr{}, fmt.Errorf("addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Addr{}, fmt.Errorf("addr: port %q is not an integer", portStr)
	}
	if port <= 0 || port >= 65535 {
		return Addr{}, fmt.Errorf("addr: port %d out of range (0, 65535)", port)
	}
	return Addr{Host: host, Port: port}, nil
}

// Validate reports whether s is an acceptable address for Swarm.Add.
func Validate(s string) bool {
	_, err := Parse(s)
	return err == nil
}

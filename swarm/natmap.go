package swarm

import (
	"context"
	"time"

	"github.com/syncthing/syncthing/lib/nat"
	"github.com/syncthing/syncthing/lib/upnp"
	"go.uber.org/zap"
)

// natLease is how long a UPnP mapping is requested for; Swarm
// re-maps on every Listen call rather than renewing, so this only needs
// to outlast a typical process lifetime's worth of inattention.
const natLease = time.Hour

// mapPort attempts a best-effort UPnP mapping for port (NAT-PMP is not
// tried), opt-in
// via WithPortMapping (SPEC_FULL.md §4.3 "NAT traversal on Swarm.Listen"),
// grounded on samvicky26-libtorrent/port.go's mapping/getPort functions.
// A mapping failure is logged and otherwise ignored: spec.md defines
// listen's success purely in terms of the local bind, so this never
// blocks or fails Listen.
func (s *Swarm) mapPort(port int) nat.Device {
	devices := upnp.Discover(context.Background(), 2*time.Second, 2*time.Second)
	if len(devices) == 0 {
		s.log.Debug("no UPnP devices discovered for port mapping", zap.Int("port", port))
		return nil
	}

	device := devices[0]
	if _, err := device.AddPortMapping(context.Background(), nat.TCP, port, port, "swarmcore", natLease); err != nil {
		s.log.Warn("UPnP port mapping failed", zap.Int("port", port), zap.Error(err))
		return nil
	}
	s.log.Info("UPnP port mapping established", zap.Int("port", port))
	return device
}

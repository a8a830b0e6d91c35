// Package metrics wraps the handful of Prometheus collectors a Swarm
// reports through (SPEC_FULL.md §4.7). This is ambient instrumentation,
// not a feature spec.md's Non-goals exclude.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector holds one family of gauges/counters per Swarm. The zero
// value is not usable; construct with New.
type Collector struct {
	activeConns        prometheus.Gauge
	queuedPeers        prometheus.Gauge
	handshakeTimeouts  prometheus.Counter
	reconnects         prometheus.Counter
	bytesDownloaded    prometheus.Counter
	bytesUploaded      prometheus.Counter
}

// New builds a Collector labelled by infoHashHex and registers it with
// reg. A nil reg is accepted and produces a Collector that still tracks
// values internally but never touches Prometheus's default registry,
// so library consumers that don't want metrics never get them.
func New(reg prometheus.Registerer, infoHashHex string) *Collector {
	labels := prometheus.Labels{"info_hash": infoHashHex}
	c := &Collector{
		activeConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "swarm_active_conns",
			Help:        "Number of peers currently holding a live transport.",
			ConstLabels: labels,
		}),
		queuedPeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "swarm_queued_peers",
			Help:        "Number of peers waiting for an outbound dial slot.",
			ConstLabels: labels,
		}),
		handshakeTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swarm_handshake_timeouts_total",
			Help:        "Handshake deadlines that fired before a remote handshake arrived.",
			ConstLabels: labels,
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swarm_reconnects_total",
			Help:        "Backoff-scheduled redials that were attempted.",
			ConstLabels: labels,
		}),
		bytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swarm_bytes_downloaded_total",
			Help:        "Bytes received across every peer of this swarm.",
			ConstLabels: labels,
		}),
		bytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "swarm_bytes_uploaded_total",
			Help:        "Bytes sent across every peer of this swarm.",
			ConstLabels: labels,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			c.activeConns,
			c.queuedPeers,
			c.handshakeTimeouts,
			c.reconnects,
			c.bytesDownloaded,
			c.bytesUploaded,
		)
	}
	return c
}

func (c *Collector) SetActiveConns(n int)    { c.activeConns.Set(float64(n)) }
func (c *Collector) SetQueuedPeers(n int)    { c.queuedPeers.Set(float64(n)) }
func (c *Collector) IncHandshakeTimeout()    { c.handshakeTimeouts.Inc() }
func (c *Collector) IncReconnect()           { c.reconnects.Inc() }
func (c *Collector) AddDownloaded(n int)     { c.bytesDownloaded.Add(float64(n)) }
func (c *Collector) AddUploaded(n int)       { c.bytesUploaded.Add(float64(n)) }

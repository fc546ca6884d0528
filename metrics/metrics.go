// Package metrics exports per-connection transport statistics to
// Prometheus, in the shape of runZeroInc-sockstats's pkg/exporter:
// a Collector holding a registry of live connections keyed by an opaque
// id, scraped on demand rather than pushed, with per-connection id and
// remote-address labels supplied when the connection is registered.
//
// Where sockstats reads kernel TCP_INFO through a syscall, rudt has no
// kernel socket to query — its connections already keep the equivalent
// counters (spec.md §4.14) in Go, so Collect reads those directly
// instead of shelling out to linux.GetTCPInfo.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
)

// Snapshot is the set of gauges/counters a connection reports on each
// scrape. Fields mirror spec.md §4.14's stats surface.
type Snapshot struct {
	RTTMicros       float64
	BandwidthPPS    float64
	RecvRatePPS     float64
	CwndPackets     float64
	SendIntervalUs  float64
	PktSent         float64
	PktRecv         float64
	PktRetrans      float64
	PktLost         float64
	PktDropped      float64
	BytesSent       float64
	BytesRecv       float64
}

// Source is implemented by anything that can produce a Snapshot on
// demand; *rudt.Conn satisfies it via its Stats method.
type Source interface {
	Stats() Snapshot
}

type connEntry struct {
	source Source
	labels []string
}

var connLabelNames = []string{"conn_id", "remote_addr"}

type gaugeInfo struct {
	desc     *prometheus.Desc
	supplier func(s Snapshot) float64
}

// Collector implements prometheus.Collector over a dynamic set of live
// rudt connections, added and removed as they're dialed/accepted and
// closed.
type Collector struct {
	mu    sync.Mutex
	conns map[string]connEntry
	gauges []gaugeInfo
}

// NewCollector builds a collector whose metric names are prefixed with
// prefix (e.g. "rudt"), with constLabels attached to every exported
// metric (e.g. {"role": "server"}).
func NewCollector(prefix string, constLabels prometheus.Labels) *Collector {
	c := &Collector{conns: make(map[string]connEntry)}
	c.addGauges(prefix, constLabels)
	return c
}

func (c *Collector) addGauges(prefix string, constLabels prometheus.Labels) {
	def := func(name, help string, supplier func(s Snapshot) float64) {
		c.gauges = append(c.gauges, gaugeInfo{
			desc:     prometheus.NewDesc(prefix+"_"+name, help, connLabelNames, constLabels),
			supplier: supplier,
		})
	}
	def("rtt_microseconds", "smoothed round-trip time estimate", func(s Snapshot) float64 { return s.RTTMicros })
	def("bandwidth_pps", "estimated link bandwidth in packets per second", func(s Snapshot) float64 { return s.BandwidthPPS })
	def("recv_rate_pps", "estimated receive rate in packets per second", func(s Snapshot) float64 { return s.RecvRatePPS })
	def("cwnd_packets", "current congestion window in packets", func(s Snapshot) float64 { return s.CwndPackets })
	def("send_interval_microseconds", "minimum spacing between packet sends", func(s Snapshot) float64 { return s.SendIntervalUs })
	def("packets_sent_total", "data packets sent, including retransmits", func(s Snapshot) float64 { return s.PktSent })
	def("packets_received_total", "data packets received", func(s Snapshot) float64 { return s.PktRecv })
	def("packets_retransmitted_total", "data packets retransmitted", func(s Snapshot) float64 { return s.PktRetrans })
	def("packets_lost_total", "distinct sequences reported lost by NAK", func(s Snapshot) float64 { return s.PktLost })
	def("packets_dropped_total", "sequences abandoned by message drop", func(s Snapshot) float64 { return s.PktDropped })
	def("bytes_sent_total", "application bytes sent", func(s Snapshot) float64 { return s.BytesSent })
	def("bytes_received_total", "application bytes received", func(s Snapshot) float64 { return s.BytesRecv })
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(descs chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		descs <- g.desc
	}
}

// Collect implements prometheus.Collector, scraping every registered
// connection's current Snapshot.
func (c *Collector) Collect(out chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, entry := range c.conns {
		snap := entry.source.Stats()
		for _, g := range c.gauges {
			out <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.supplier(snap), entry.labels...)
		}
	}
}

// Add registers a connection under a freshly minted id, returning the
// id so the caller can later Remove it (e.g. on Close).
func (c *Collector) Add(source Source, remoteAddr string) string {
	id := xid.New().String()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[id] = connEntry{source: source, labels: []string{id, remoteAddr}}
	return id
}

// Remove drops a connection previously registered with Add.
func (c *Collector) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.conns, id)
}

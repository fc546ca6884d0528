package rudt

import "github.com/vento-silenzioso/rudt/metrics"

// Stats returns a snapshot of the connection's current transport
// statistics (spec.md §6's get_stats), suitable for both direct
// inspection and Prometheus export via metrics.Collector (*Conn
// satisfies metrics.Source).
func (c *Conn) Stats() metrics.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return metrics.Snapshot{
		RTTMicros:      float64(c.rtt.Microseconds()),
		BandwidthPPS:   c.bandwidthPPS,
		RecvRatePPS:    c.recvRatePPS,
		CwndPackets:    float64(c.ctl.CwndPackets()),
		SendIntervalUs: float64(c.ctl.SendInterval().Microseconds()),
		PktSent:        float64(c.pktSent),
		PktRecv:        float64(c.pktRecv),
		PktRetrans:     float64(c.pktRetrans),
		PktLost:        float64(c.pktLost),
		PktDropped:     float64(c.pktDropped),
		BytesSent:      float64(c.bytesSent),
		BytesRecv:      float64(c.bytesRecv),
	}
}

package rudt

import (
	"time"

	"github.com/vento-silenzioso/rudt/cache"
	"github.com/vento-silenzioso/rudt/congestion"
	"github.com/vento-silenzioso/rudt/internal/rlog"
)

// Config collects the socket options from spec.md §6's set_option surface
// as typed fields, following the teacher's NewServer(host, port,
// maxPlayers)-style explicit constructor rather than a stringly-typed
// key/value map.
type Config struct {
	// MSS is the maximum payload size per data packet, in bytes.
	MSS int
	// FlowWindow is this side's advertised maximum outstanding packets.
	FlowWindow uint32
	// SendBufferBytes and RecvBufferBytes size the send and receive
	// buffers in application bytes; RecvBufferBytes is converted to a
	// packet-slot count by dividing by MSS.
	SendBufferBytes int
	RecvBufferBytes int
	// MaxBandwidthBPS caps outbound throughput in bytes/sec; 0 means
	// unlimited (the congestion controller's own pacing still applies).
	MaxBandwidthBPS int64
	// Linger is stored with the configuration but not read by Close:
	// Close never waits for outstanding data to drain.
	Linger time.Duration
	// FrameAware enables the 24-byte extended header on every data packet,
	// carrying frame/chunk metadata, and SetNextFrameMetadata. Both ends
	// must set it; the handshake does not negotiate it.
	FrameAware bool
	// NewController constructs this flow's congestion controller. Nil
	// means congestion.NewAIMD.
	NewController func() congestion.Controller
	// Cache seeds new flows with previously learned RTT/bandwidth for
	// the same peer and records fresh estimates on close. Nil disables
	// the per-destination cache.
	Cache *cache.Cache
	// Logger receives lifecycle and error-level events. Nil discards.
	Logger *rlog.Logger
	// HandshakeRetries bounds how many times Dial resends its request
	// before giving up with ErrHandshakeTimeout.
	HandshakeRetries int
	// HandshakeTimeout is how long Dial waits for each handshake
	// response before retrying.
	HandshakeTimeout time.Duration
}

// DefaultConfig returns the defaults named in spec.md §6: MSS 1500, flow
// window 25600 packets, buffers sized for 10 MB, no bandwidth cap, the
// default slow-start+AIMD controller.
func DefaultConfig() Config {
	return Config{
		MSS:              1500,
		FlowWindow:       25600,
		SendBufferBytes:  10 << 20,
		RecvBufferBytes:  10 << 20,
		MaxBandwidthBPS:  0,
		Linger:           180 * time.Second,
		FrameAware:       false,
		HandshakeRetries: 5,
		HandshakeTimeout: 3 * time.Second,
	}
}

func (c Config) controller() congestion.Controller {
	if c.NewController != nil {
		return c.NewController()
	}
	return congestion.NewAIMD()
}

func (c Config) logger() *rlog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return rlog.Discard()
}

func (c Config) recvWindowPackets() int {
	mss := c.MSS
	if mss <= 0 {
		mss = 1500
	}
	n := c.RecvBufferBytes / mss
	if n < 64 {
		n = 64
	}
	return n
}

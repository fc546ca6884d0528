package congestion

import "time"

// FixedRate is the "fixed-rate blaster" variant from spec.md §9's design
// notes: skip slow start and rate negotiation entirely and hold a
// constant send interval and window, for callers that already know their
// path's capacity (e.g. two hosts on a provisioned private link) and want
// to avoid the startup ramp.
type FixedRate struct {
	interval time.Duration
	cwnd     int
}

// NewFixedRate constructs a controller that always reports the given
// packets-per-second rate and congestion window.
func NewFixedRate(pps float64, cwndPackets int) *FixedRate {
	f := &FixedRate{cwnd: cwndPackets}
	if pps > 0 {
		f.interval = time.Duration(1e9 / pps)
	}
	return f
}

func (f *FixedRate) Init(mss int, initSeq uint32, maxCwndPackets int) {
	if f.cwnd <= 0 {
		f.cwnd = maxCwndPackets
	}
}

func (f *FixedRate) Tick(now time.Time)                    {}
func (f *FixedRate) OnACK(ackSeq uint32, newlyAcked int)    {}
func (f *FixedRate) OnLoss(ev LossEvent)                    {}
func (f *FixedRate) OnTimeout()                             {}
func (f *FixedRate) OnPktSent(seq uint32, isRetransmit bool) {}
func (f *FixedRate) OnPktReceived(seq uint32)               {}
func (f *FixedRate) SetRTT(rtt time.Duration)               {}
func (f *FixedRate) SetBandwidth(pps float64)               {}
func (f *FixedRate) SetRecvRate(pps float64)                {}
func (f *FixedRate) AckInterval() time.Duration             { return 0 }
func (f *FixedRate) RTO() time.Duration                     { return 0 }

func (f *FixedRate) SendInterval() time.Duration {
	if f.interval <= 0 {
		return time.Microsecond
	}
	return f.interval
}

func (f *FixedRate) CwndPackets() int {
	if f.cwnd < 1 {
		return 1
	}
	return f.cwnd
}

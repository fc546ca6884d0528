// Package congestion implements the pluggable congestion-control
// capability set from spec.md §4.5/§9: callbacks the engine drives as
// packets are sent, acknowledged, and lost, and outputs the engine reads
// back to pace transmission and size its window.
package congestion

import "time"

// LossEvent describes one loss notification delivered to on_loss: the
// lowest and highest sequence numbers covered by the NAK that triggered
// it, and how many individual sequences that covers.
type LossEvent struct {
	FirstSeq, LastSeq uint32
	Count             int
}

// Controller is the capability set spec.md §4.5/§9 describes: inbound
// callbacks the engine invokes under its connection lock, and outbound
// fields the engine reads after each call to decide pacing and window
// size. Implementations are not expected to be safe for concurrent use;
// the engine serializes all access.
type Controller interface {
	// Init seeds the controller with the negotiated MSS, initial sequence
	// number, and the hard ceiling on congestion window size.
	Init(mss int, initSeq uint32, maxCwndPackets int)

	// Tick drives periodic rate-control re-evaluation; the engine calls
	// it from the SYN timer (spec.md §4.9) on every firing, and the
	// controller is responsible for no-op'ing ticks that arrive faster
	// than its own re-evaluation period.
	Tick(now time.Time)

	// OnACK is called when a fresh ACK advances last_acked; newlyAcked is
	// the number of previously-outstanding packets it just confirmed.
	OnACK(ackSeq uint32, newlyAcked int)

	// OnLoss is called when a NAK reports a loss event, before the
	// sender loss list is populated (spec.md §4.8's NAK dispatch order).
	OnLoss(ev LossEvent)

	// OnTimeout is called when the EXP timer fires.
	OnTimeout()

	// OnPktSent/OnPktReceived notify the controller of a packet crossing
	// the wire in either direction, for controllers that track their own
	// pacing state (e.g. slow start counts ACKed packets, not time).
	OnPktSent(seq uint32, isRetransmit bool)
	OnPktReceived(seq uint32)

	// SetRTT/SetBandwidth/SetRecvRate feed the controller externally
	// measured path characteristics.
	SetRTT(rtt time.Duration)
	SetBandwidth(pps float64)
	SetRecvRate(pps float64)

	// SendInterval is the minimum spacing between packet transmissions.
	SendInterval() time.Duration
	// CwndPackets is the congestion window, in packets.
	CwndPackets() int
	// AckInterval overrides the default 10ms ACK timer period; zero means
	// "use the default."
	AckInterval() time.Duration
	// RTO is a retransmission-timeout hint; zero means "use rtt +
	// 4*rttvar." The rudt engine does not read it: its EXP timer always
	// uses rtt + 4*rttvar.
	RTO() time.Duration
}

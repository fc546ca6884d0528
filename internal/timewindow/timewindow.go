// Package timewindow implements the two timing histories from spec.md
// §3/§4.5: an ACK history used to measure RTT from ACK/ACK2 round trips,
// and a packet-arrival history used to estimate receive rate and
// bandwidth from packet-pair probes.
//
// Grounded on PeernetOfficial/core/udt's ackHistoryHeap, recvPktHistory,
// and recvPktPairHistory (other_examples/*udtsocket_recv.go.go), which
// keep a bounded history and use the arrival gaps between probe pairs
// (every 16th packet) to estimate link capacity — the same packet-pair
// dispersion technique described in spec.md §4.6 step 3 and §4.7.
package timewindow

import (
	"sort"
	"time"
)

// ackEntry records one ACK this side sent, so the matching ACK2 can
// recover an RTT sample without clock synchronization between peers.
type ackEntry struct {
	ackSeq     uint32
	lastPacket uint32
	sendTime   time.Time
}

// AckHistory is a bounded ring of sent-ACK records.
type AckHistory struct {
	entries []ackEntry
	cap     int
}

// NewAckHistory creates a history retaining at most capacity entries,
// evicting the oldest on overflow.
func NewAckHistory(capacity int) *AckHistory {
	return &AckHistory{cap: capacity}
}

// Record stores a sent ACK's sub-sequence, the last packet sequence it
// acknowledged, and the time it was sent.
func (h *AckHistory) Record(ackSeq, lastPacket uint32, sendTime time.Time) {
	h.entries = append(h.entries, ackEntry{ackSeq, lastPacket, sendTime})
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// Take finds and removes the entry for ackSeq (an incoming ACK2 consumes
// it), returning the last-acknowledged packet sequence and the elapsed
// time since it was sent (the RTT sample).
func (h *AckHistory) Take(ackSeq uint32, now time.Time) (lastPacket uint32, rtt time.Duration, ok bool) {
	for i, e := range h.entries {
		if e.ackSeq != ackSeq {
			continue
		}
		h.entries = append(h.entries[:i], h.entries[i+1:]...)
		return e.lastPacket, now.Sub(e.sendTime), true
	}
	return 0, 0, false
}

// ArrivalWindow tracks inter-arrival gaps of ordinary data packets (for a
// receive-rate estimate) and of probe pairs (for a bandwidth estimate).
// A probe pair is two back-to-back packets sent with no pacing gap (every
// 16th sequence and its successor, spec.md §4.6 step 3); the time between
// their arrivals approximates the bottleneck link's per-packet service
// time.
type ArrivalWindow struct {
	recent     []time.Duration
	probeGaps  []time.Duration
	lastArrive time.Time
	haveLast   bool
	probeFirst time.Time
	haveProbe1 bool
	histCap    int
}

// NewArrivalWindow creates a window retaining up to histCap recent
// samples for each of its two estimates.
func NewArrivalWindow(histCap int) *ArrivalWindow {
	return &ArrivalWindow{histCap: histCap}
}

// OnArrival records a data packet's arrival. nibble is the packet's
// sequence number modulo 16 (spec.md §4.7's "low-nibble" probe
// classification): 0 marks the first packet of a probe pair, 1 the
// second.
func (w *ArrivalWindow) OnArrival(nibble int, now time.Time) {
	if w.haveLast {
		gap := now.Sub(w.lastArrive)
		w.recent = append(w.recent, gap)
		if len(w.recent) > w.histCap {
			w.recent = w.recent[len(w.recent)-w.histCap:]
		}
	}
	w.lastArrive, w.haveLast = now, true

	switch nibble {
	case 0:
		w.probeFirst, w.haveProbe1 = now, true
	case 1:
		if w.haveProbe1 {
			gap := now.Sub(w.probeFirst)
			w.probeGaps = append(w.probeGaps, gap)
			if len(w.probeGaps) > w.histCap {
				w.probeGaps = w.probeGaps[len(w.probeGaps)-w.histCap:]
			}
			w.haveProbe1 = false
		}
	}
}

// RecvRatePPS returns the estimated receive rate in packets per second,
// from the median inter-arrival gap of ordinary traffic.
func (w *ArrivalWindow) RecvRatePPS() float64 {
	d := median(w.recent)
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}

// BandwidthPPS returns the estimated link bandwidth in packets per
// second, from the median probe-pair dispersion.
func (w *ArrivalWindow) BandwidthPPS() float64 {
	d := median(w.probeGaps)
	if d <= 0 {
		return 0
	}
	return float64(time.Second) / float64(d)
}

func median(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[len(sorted)/2]
}

package rudt

import "encoding/binary"

// ackPayloadMinLen is the fixed body of every ACK: the cumulative sequence
// being acknowledged plus the receiver's own RTT/RTTVAR estimate and
// buffer availability (spec.md §4.8's "Emitted ACKs carry...");
// ackPayloadRatesLen is the optional receive-rate/bandwidth tail. The
// ack-sub-sequence identifying this specific ACK (for ACK2 matching)
// travels in the header's addInfo word, not here.
const ackPayloadMinLen = 16
const ackPayloadRatesLen = 8

// ackPayload is the body of an ACK control packet.
type ackPayload struct {
	LastAcked     uint32
	RTTMicros     uint32
	RTTVarMicros  uint32
	BufAvail      uint32
	HasRates      bool
	RecvRatePPS   uint32
	BandwidthPPS  uint32
}

func (p ackPayload) encode() []byte {
	n := ackPayloadMinLen
	if p.HasRates {
		n += ackPayloadRatesLen
	}
	buf := make([]byte, n)
	binary.BigEndian.PutUint32(buf[0:4], p.LastAcked)
	binary.BigEndian.PutUint32(buf[4:8], p.RTTMicros)
	binary.BigEndian.PutUint32(buf[8:12], p.RTTVarMicros)
	binary.BigEndian.PutUint32(buf[12:16], p.BufAvail)
	if p.HasRates {
		binary.BigEndian.PutUint32(buf[16:20], p.RecvRatePPS)
		binary.BigEndian.PutUint32(buf[20:24], p.BandwidthPPS)
	}
	return buf
}

func decodeAckPayload(b []byte) (ackPayload, bool) {
	if len(b) < ackPayloadMinLen {
		return ackPayload{}, false
	}
	p := ackPayload{
		LastAcked:    binary.BigEndian.Uint32(b[0:4]),
		RTTMicros:    binary.BigEndian.Uint32(b[4:8]),
		RTTVarMicros: binary.BigEndian.Uint32(b[8:12]),
		BufAvail:     binary.BigEndian.Uint32(b[12:16]),
	}
	if len(b) >= ackPayloadMinLen+ackPayloadRatesLen {
		p.HasRates = true
		p.RecvRatePPS = binary.BigEndian.Uint32(b[16:20])
		p.BandwidthPPS = binary.BigEndian.Uint32(b[20:24])
	}
	return p, true
}

// dropPayload carries the sequence range a drop-message control retires,
// extending spec.md §4.1's literal "addInfo = message number" so the
// receiver can purge not-yet-arrived sequences too, grounded on
// PeernetOfficial's MsgDropReqPacket.FirstSeq/LastSeq.
func encodeDropPayload(first, last uint32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], first)
	binary.BigEndian.PutUint32(buf[4:8], last)
	return buf
}

func decodeDropPayload(b []byte) (first, last uint32, ok bool) {
	if len(b) < 8 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint32(b[0:4]), binary.BigEndian.Uint32(b[4:8]), true
}

package packet

import (
	"bytes"
	"math/rand"
	"net"
	"testing"
)

func TestDataHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		NewDataHeader(12345, BoundarySolo, true, 42, 99999, 7),
		NewDataHeader(0, BoundaryFirst, false, 0, 0, 0),
		NewDataHeader(0x7fffffff, BoundaryLast, true, 0x1fffffff, 1<<32-1, 1<<32-1),
		NewDataHeader(16, BoundaryMiddle, false, 5, 123, 456).WithFrameMeta(FrameMeta{FrameID: 7, ChunkID: 3, TotalChunks: 100}),
	}
	for _, h := range cases {
		raw := h.AppendTo(nil)
		if len(raw) != h.Len() {
			t.Fatalf("serialized length = %d, want %d", len(raw), h.Len())
		}
		got, n, err := Parse(raw, h.HasFrameMeta())
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if n != h.Len() {
			t.Errorf("consumed %d bytes, want %d", n, h.Len())
		}
		if got != h {
			t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, h)
		}
	}
}

func TestCtrlHeaderRoundTrip(t *testing.T) {
	h := NewCtrlHeader(CtrlNAK, 0, 0xdeadbeef, 555, 77)
	raw := h.AppendTo(nil)
	got, n, err := Parse(raw, false)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if n != BaseHeaderLen {
		t.Errorf("consumed %d, want %d", n, BaseHeaderLen)
	}
	if !got.IsControl() || got.CtrlType() != CtrlNAK || got.AddInfo() != 0xdeadbeef {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestPacketRoundTripWithPayload(t *testing.T) {
	h := NewDataHeader(9, BoundarySolo, true, 1, 10, 20)
	p := Packet{Header: h, Payload: []byte("hello world")}
	raw := p.Serialize(nil)
	got, err := ParsePacket(raw, false)
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if got.Header != h {
		t.Errorf("header mismatch: %+v vs %+v", got.Header, h)
	}
	if !bytes.Equal(got.Payload, p.Payload) {
		t.Errorf("payload mismatch: %q vs %q", got.Payload, p.Payload)
	}
}

func TestShortHeaderError(t *testing.T) {
	if _, _, err := Parse([]byte{1, 2, 3}, false); err != ErrShortHeader {
		t.Errorf("expected ErrShortHeader, got %v", err)
	}
}

func TestNAKRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for trial := 0; trial < 50; trial++ {
		n := r.Intn(40)
		seqs := make([]uint32, n)
		for i := range seqs {
			seqs[i] = uint32(r.Intn(2000))
		}
		ranges := CompressRanges(seqs)
		encoded := EncodeNAK(ranges)
		decoded, err := DecodeNAK(encoded)
		if err != nil {
			t.Fatalf("DecodeNAK: %v", err)
		}
		if len(decoded) != len(ranges) {
			t.Fatalf("trial %d: got %d ranges, want %d (%v vs %v)", trial, len(decoded), len(ranges), decoded, ranges)
		}
		for i := range ranges {
			if decoded[i] != ranges[i] {
				t.Errorf("trial %d: range %d = %+v, want %+v", trial, i, decoded[i], ranges[i])
			}
		}
	}
}

func TestCompressRangesCollapsesRuns(t *testing.T) {
	ranges := CompressRanges([]uint32{5, 6, 7, 10, 20, 21})
	want := []Range{{5, 7}, {10, 10}, {20, 21}}
	if len(ranges) != len(want) {
		t.Fatalf("got %v, want %v", ranges, want)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestDecodeNAKMalformedRange(t *testing.T) {
	buf := EncodeNAK([]Range{{10, 5}})
	_, err := DecodeNAK(buf)
	if err != ErrMalformedNAK {
		t.Errorf("expected ErrMalformedNAK, got %v", err)
	}
}

func TestHandshakeRoundTrip(t *testing.T) {
	h := Handshake{
		Version:    1,
		SockType:   0,
		InitSeq:    123456,
		MSS:        1500,
		FlowWindow: 25600,
		ReqType:    ReqRequest,
		SocketID:   0xcafef00d,
		Cookie:     0x1234,
	}
	h.SetPeerUDPAddr(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000})
	raw := h.Encode()
	if len(raw) != HandshakeLen {
		t.Fatalf("encoded length = %d, want %d", len(raw), HandshakeLen)
	}
	got, err := DecodeHandshake(raw)
	if err != nil {
		t.Fatalf("DecodeHandshake: %v", err)
	}
	if got.InitSeq != h.InitSeq || got.MSS != h.MSS || got.SocketID != h.SocketID || got.ReqType != h.ReqType {
		t.Errorf("round trip mismatch: %+v vs %+v", got, h)
	}
}

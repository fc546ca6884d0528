package sendbuf

import (
	"testing"
	"time"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

func TestReadNextChunksAtMSS(t *testing.T) {
	b := New(4)
	b.Append([]byte("abcdefghij"), 0, true, nil)

	var got []byte
	var seq uint32
	for {
		chunk, _, boundary, _, _, ok := b.ReadNext(seq)
		if !ok {
			break
		}
		got = append(got, chunk...)
		if seq == 0 && boundary != packet.BoundaryFirst {
			t.Errorf("first chunk boundary = %v, want First", boundary)
		}
		seq++
	}
	if string(got) != "abcdefghij" {
		t.Errorf("reassembled %q, want %q", got, "abcdefghij")
	}
}

func TestFrameMetadataTravelsWithBlock(t *testing.T) {
	b := New(1500)
	for i := 0; i < 5; i++ {
		fm := packet.FrameMeta{FrameID: 1, ChunkID: uint8(i), TotalChunks: 5}
		b.Append([]byte{byte(i)}, 0, true, &fm)
	}
	for i := uint32(0); i < 5; i++ {
		_, _, _, _, frameMeta, ok := b.ReadNext(i)
		if !ok {
			t.Fatalf("chunk %d: expected data", i)
		}
		if frameMeta == nil || frameMeta.ChunkID != uint8(i) || frameMeta.TotalChunks != 5 {
			t.Errorf("chunk %d: frame metadata = %+v, want ChunkID=%d TotalChunks=5", i, frameMeta, i)
		}
	}
}

func TestAckThroughReleasesChunks(t *testing.T) {
	b := New(1500)
	b.Append([]byte("hello"), 0, true, nil)
	b.ReadNext(0)
	if _, _, _, _, _, ok, _ := b.ReadRetrans(0); !ok {
		t.Fatalf("expected retransmit data before ack")
	}
	b.AckThrough(0)
	if _, _, _, _, _, ok, _ := b.ReadRetrans(0); ok {
		t.Errorf("expected chunk released after AckThrough")
	}
}

func TestDropExpiredNeverSent(t *testing.T) {
	b := New(1500)
	msgNum := b.Append([]byte("stale"), time.Microsecond, true, nil)
	time.Sleep(2 * time.Millisecond)
	dropped := b.DropExpired(time.Now())
	if len(dropped) != 1 || dropped[0] != msgNum {
		t.Fatalf("expected msgNum %d dropped, got %v", msgNum, dropped)
	}
	if _, _, _, _, _, ok := b.ReadNext(0); ok {
		t.Errorf("expired message should never be read")
	}
}

func TestDropExpiredInFlight(t *testing.T) {
	b := New(1500)
	b.Append([]byte("x"), time.Microsecond, true, nil)
	b.ReadNext(0)
	time.Sleep(2 * time.Millisecond)
	b.DropExpired(time.Now())
	_, msgNum, _, _, _, ok, expired := b.ReadRetrans(0)
	if ok || !expired {
		t.Errorf("expected retransmit to report expired, got ok=%v expired=%v", ok, expired)
	}
	first, last, found := b.SeqRangeForMessage(msgNum)
	if !found || first != 0 || last != 0 {
		t.Errorf("SeqRangeForMessage = (%d,%d,%v), want (0,0,true)", first, last, found)
	}
}

package losslist

import (
	"testing"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

func assertDisjoint(t *testing.T, l *List) {
	t.Helper()
	ranges := l.Ranges()
	for i := 1; i < len(ranges); i++ {
		if ranges[i-1].End >= ranges[i].Start {
			t.Fatalf("ranges not disjoint/sorted: %v", ranges)
		}
	}
}

func TestInsertMergesOverlapping(t *testing.T) {
	var l List
	l.Insert(10, 12)
	l.Insert(13, 15)
	assertDisjoint(t, &l)
	if l.Len() != 1 {
		t.Fatalf("expected adjacent ranges to merge into 1, got %v", l.Ranges())
	}
	l.Insert(20, 22)
	assertDisjoint(t, &l)
	if l.Len() != 2 {
		t.Fatalf("expected 2 disjoint ranges, got %v", l.Ranges())
	}
	l.Insert(16, 19)
	assertDisjoint(t, &l)
	if l.Len() != 1 {
		t.Fatalf("expected bridging insert to merge all into 1, got %v", l.Ranges())
	}
}

func TestPopLowestOrder(t *testing.T) {
	var l List
	l.Insert(5, 7)
	l.Insert(10, 10)
	var got []uint32
	for {
		seq, ok := l.PopLowest()
		if !ok {
			break
		}
		got = append(got, seq)
		assertDisjoint(t, &l)
	}
	want := []uint32{5, 6, 7, 10}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestRemoveSplitsRange(t *testing.T) {
	var l List
	l.Insert(1, 5)
	l.Remove(3)
	assertDisjoint(t, &l)
	ranges := l.Ranges()
	if len(ranges) != 2 || ranges[0] != (packet.Range{Start: 1, End: 2}) || ranges[1] != (packet.Range{Start: 4, End: 5}) {
		t.Fatalf("got %v, want [{1 2} {4 5}]", ranges)
	}
}

func TestRemoveEndpoints(t *testing.T) {
	var l List
	l.Insert(1, 3)
	l.Remove(1)
	l.Remove(3)
	assertDisjoint(t, &l)
	ranges := l.Ranges()
	if len(ranges) != 1 || ranges[0] != (packet.Range{Start: 2, End: 2}) {
		t.Fatalf("got %v, want [{2 2}]", ranges)
	}
}

func TestRemoveRangeTrimsAndSplits(t *testing.T) {
	var l List
	l.Insert(1, 20)
	l.RemoveRange(5, 10)
	assertDisjoint(t, &l)
	ranges := l.Ranges()
	if len(ranges) != 2 || ranges[0] != (packet.Range{Start: 1, End: 4}) || ranges[1] != (packet.Range{Start: 11, End: 20}) {
		t.Fatalf("got %v, want [{1 4} {11 20}]", ranges)
	}

	var l2 List
	l2.Insert(1, 5)
	l2.Insert(10, 15)
	l2.RemoveRange(3, 12)
	assertDisjoint(t, &l2)
	ranges2 := l2.Ranges()
	if len(ranges2) != 2 || ranges2[0] != (packet.Range{Start: 1, End: 2}) || ranges2[1] != (packet.Range{Start: 13, End: 15}) {
		t.Fatalf("got %v, want [{1 2} {13 15}]", ranges2)
	}
}

func TestSnapshotForNAKRoundTrips(t *testing.T) {
	var l List
	l.Insert(100, 105)
	l.Insert(200, 200)
	buf := l.SnapshotForNAK(1024)
	decoded, err := packet.DecodeNAK(buf)
	if err != nil {
		t.Fatalf("DecodeNAK: %v", err)
	}
	want := l.Ranges()
	if len(decoded) != len(want) {
		t.Fatalf("got %v, want %v", decoded, want)
	}
	for i := range want {
		if decoded[i] != want[i] {
			t.Errorf("range %d = %+v, want %+v", i, decoded[i], want[i])
		}
	}
}

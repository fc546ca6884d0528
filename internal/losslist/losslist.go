// Package losslist implements the sender's pending-retransmit list and the
// receiver's missing-sequence list from spec.md §3/§4.4: both are ordered
// sets of disjoint sequence ranges supporting range insertion, smallest-
// first extraction, and removal of individual sequence numbers.
//
// The reference UDT implementation in the retrieval pack
// (PeernetOfficial/core/udt, other_examples/*udtsocket_{send,recv}.go.go)
// keeps one container/heap-ordered entry per lost sequence number
// (packetIDHeap / receiveLossHeap) rather than merged ranges. A heap gives
// O(log n) push/pop but has no way to merge two adjacent single-sequence
// entries into one range in better than O(n), which is exactly the
// operation spec.md §4.4 requires ("insert(a,b) merges overlapping
// ranges"). This package instead keeps a sorted slice of disjoint Ranges
// and uses binary search for insert/remove — O(log n) to locate the
// affected range, O(k) to splice in the rare case an insert spans k
// existing ranges, which doesn't happen on the hot path (a single NAK
// range or a single ACK-driven removal touches at most one or two
// neighbors).
package losslist

import (
	"sort"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

// List is an ordered set of disjoint, inclusive sequence ranges.
type List struct {
	ranges []packet.Range
}

// Len returns the number of disjoint ranges currently held.
func (l *List) Len() int { return len(l.ranges) }

// Empty reports whether the list holds no ranges.
func (l *List) Empty() bool { return len(l.ranges) == 0 }

// Insert adds the inclusive range [a, b] to the list, merging with any
// overlapping or adjacent existing ranges so the invariant (disjoint,
// sorted ranges) is preserved.
func (l *List) Insert(a, b uint32) {
	if b < a {
		a, b = b, a
	}
	i := sort.Search(len(l.ranges), func(i int) bool { return l.ranges[i].End+1 >= a })
	j := i
	for j < len(l.ranges) && l.ranges[j].Start <= b+1 {
		if l.ranges[j].Start < a {
			a = l.ranges[j].Start
		}
		if l.ranges[j].End > b {
			b = l.ranges[j].End
		}
		j++
	}
	merged := append([]packet.Range{}, l.ranges[:i]...)
	merged = append(merged, packet.Range{Start: a, End: b})
	merged = append(merged, l.ranges[j:]...)
	l.ranges = merged
}

// PopLowest extracts and removes the smallest sequence number in the
// list, shrinking its range. ok is false if the list is empty.
func (l *List) PopLowest() (seq uint32, ok bool) {
	if len(l.ranges) == 0 {
		return 0, false
	}
	r := &l.ranges[0]
	seq = r.Start
	if r.Start == r.End {
		l.ranges = l.ranges[1:]
	} else {
		r.Start++
	}
	return seq, true
}

// Remove deletes a single sequence number from the list, splitting its
// range if seq lies in the interior. A no-op if seq is not present.
func (l *List) Remove(seq uint32) {
	i := sort.Search(len(l.ranges), func(i int) bool { return l.ranges[i].End >= seq })
	if i == len(l.ranges) || seq < l.ranges[i].Start {
		return
	}
	r := l.ranges[i]
	switch {
	case r.Start == r.End:
		l.ranges = append(l.ranges[:i], l.ranges[i+1:]...)
	case seq == r.Start:
		l.ranges[i].Start++
	case seq == r.End:
		l.ranges[i].End--
	default:
		left := packet.Range{Start: r.Start, End: seq - 1}
		right := packet.Range{Start: seq + 1, End: r.End}
		l.ranges = append(l.ranges[:i], append([]packet.Range{left, right}, l.ranges[i+1:]...)...)
	}
}

// RemoveRange deletes the inclusive range [a, b] from the list, trimming
// or splitting any ranges it overlaps. Used when a drop-message control
// retires a whole message's sequence span at once (spec.md §4.8 "Drop"),
// where calling Remove per sequence would be wasteful for a long message.
func (l *List) RemoveRange(a, b uint32) {
	if b < a {
		a, b = b, a
	}
	var out []packet.Range
	for _, r := range l.ranges {
		if r.End < a || r.Start > b {
			out = append(out, r)
			continue
		}
		if r.Start < a {
			out = append(out, packet.Range{Start: r.Start, End: a - 1})
		}
		if r.End > b {
			out = append(out, packet.Range{Start: b + 1, End: r.End})
		}
	}
	l.ranges = out
}

// Ranges returns a copy of the list's current ranges, oldest (smallest
// sequence) first.
func (l *List) Ranges() []packet.Range {
	out := make([]packet.Range, len(l.ranges))
	copy(out, l.ranges)
	return out
}

// SnapshotForNAK range-encodes as many of the list's ranges as fit in
// maxBytes, oldest gaps first, for inclusion in a NAK control packet
// (spec.md §4.4).
func (l *List) SnapshotForNAK(maxBytes int) []byte {
	var selected []packet.Range
	used := 0
	for _, r := range l.ranges {
		cost := 4
		if r.Start != r.End {
			cost = 8
		}
		if used+cost > maxBytes {
			break
		}
		selected = append(selected, r)
		used += cost
	}
	return packet.EncodeNAK(selected)
}

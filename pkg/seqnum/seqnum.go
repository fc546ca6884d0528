// Package seqnum implements the 31-bit modular sequence-number arithmetic
// and the monotonic microsecond clock shared by the packet codec, the loss
// lists, and the core engine.
//
// Sequence numbers live in the low 31 bits of a header word (message
// numbers use only the low 29 bits of another); bit 31 is reserved as the packet-kind
// discriminator (see pkg/packet). Comparisons must treat the space as a
// ring: a sequence number "ahead" by more than half the space (1<<30) is
// considered behind, exactly as TCP treats its 32-bit space.
package seqnum

import "time"

// Max is one past the largest representable sequence number: the sequence
// space is [0, Max).
const Max = 1 << 31

// Seq is a sequence number living in the low 31 bits of a header word.
type Seq uint32

// Norm folds v into the valid sequence range.
func Norm(v uint32) Seq {
	return Seq(v % Max)
}

// Inc returns the next sequence number after s, wrapping at Max.
func Inc(s Seq) Seq {
	if s == Max-1 {
		return 0
	}
	return s + 1
}

// Dec returns the sequence number before s, wrapping at 0.
func Dec(s Seq) Seq {
	if s == 0 {
		return Max - 1
	}
	return s - 1
}

// Add returns s advanced by n (n may be negative), wrapping modulo Max.
func Add(s Seq, n int) Seq {
	v := (int64(s) + int64(n)) % Max
	if v < 0 {
		v += Max
	}
	return Seq(v)
}

// Cmp returns a negative number if a precedes b, zero if equal, and a
// positive number if a follows b, treating the sequence space as a ring of
// size Max: the distinction only makes sense for points within Max/2 of one
// another, which holds for any pair of sequence numbers that could
// legitimately appear together in this protocol (see spec property 3).
func Cmp(a, b Seq) int {
	diff := int32(a) - int32(b)
	// Two's complement wraparound on the low 31 bits: shift into int32
	// range so the sign bit reflects "ahead" vs "behind" within half the
	// sequence space.
	diff = (diff << 1) >> 1
	switch {
	case diff < 0:
		return -1
	case diff > 0:
		return 1
	default:
		return 0
	}
}

// Len returns the number of sequence numbers in [from, to), i.e. the count
// of outstanding packets between last-ACKed and last-sent+1.
func Len(from, to Seq) int {
	d := int64(to) - int64(from)
	if d < 0 {
		d += Max
	}
	return int(d)
}

// InWindow reports whether seq falls in [lo, lo+window) modulo Max.
func InWindow(seq, lo Seq, window int) bool {
	d := Len(lo, seq)
	return d >= 0 && d < window
}

// Clock produces monotonic microsecond timestamps relative to an epoch
// fixed at construction (typically connection start), matching the
// header's timestamp word.
type Clock struct {
	start time.Time
}

// NewClock returns a Clock epoched at the current instant.
func NewClock() Clock {
	return Clock{start: time.Now()}
}

// ElapsedMicros returns microseconds elapsed since the clock's epoch.
func (c Clock) ElapsedMicros() uint32 {
	return uint32(time.Since(c.start).Microseconds())
}

// Start returns the clock's epoch.
func (c Clock) Start() time.Time {
	return c.start
}

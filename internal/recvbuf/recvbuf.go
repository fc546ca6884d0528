// Package recvbuf implements the receiver-side reassembly buffer from
// spec.md §4.3: a fixed-size ring of payload slots addressed by offset
// from the receiver's ACK cursor, reassembling the original byte stream
// as contiguous slots fill in.
//
// The ring storage mirrors the byte-oriented ring in the retrieval pack
// (github.com/soypat/lneto's internal.Ring), but this buffer is indexed
// by packet slot rather than by byte, since out-of-order packets must be
// held at their exact offset until the gap ahead of them closes — a plain
// byte ring has nowhere to put byte 9000 before byte 10 has arrived.
package recvbuf

import (
	"errors"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

// ErrOutOfWindow is returned by Insert when seq falls outside the
// acceptance window; per spec.md §4.7 the engine should simply drop such
// a packet rather than treat it as an error.
var ErrOutOfWindow = errors.New("rudt/recvbuf: sequence outside window")

type slot struct {
	present   bool
	skip      bool // tombstone: counted as delivered but carries no bytes (dropped message)
	payload   []byte
	msgNum    uint32
	frameMeta *packet.FrameMeta
}

// Buffer is the receiver-side reassembly ring. Not safe for concurrent
// use; the engine serializes access under its connection lock.
type Buffer struct {
	window   int
	slots    []slot
	headIdx  int
	base     uint32 // sequence number represented by slots[headIdx]
	readPos  int    // bytes already copied out of the head slot's payload
	occupied int
	dropped  map[uint32]bool // message numbers to silently discard on arrival
}

// New creates a receive buffer accepting sequence numbers in
// [base, base+window).
func New(window int, base uint32) *Buffer {
	return &Buffer{
		window:  window,
		slots:   make([]slot, window),
		base:    base,
		dropped: make(map[uint32]bool),
	}
}

// Base returns the sequence number of the buffer's current head (its ACK
// cursor).
func (b *Buffer) Base() uint32 { return b.base }

// Available reports the number of free slots in the window.
func (b *Buffer) Available() int { return b.window - b.occupied }

func (b *Buffer) offsetOf(seq uint32) int {
	diff := int32(seq) - int32(b.base)
	diff = (diff << 1) >> 1
	return int(diff)
}

// Insert places payload at the slot for seq. Returns ErrOutOfWindow if
// seq is behind the base or beyond the window; duplicate inserts for an
// already-filled slot are silently ignored, per spec.md §4.3's invariant.
func (b *Buffer) Insert(seq uint32, payload []byte, msgNum uint32, frameMeta *packet.FrameMeta) error {
	offset := b.offsetOf(seq)
	if offset < 0 || offset >= b.window {
		return ErrOutOfWindow
	}
	idx := (b.headIdx + offset) % b.window
	if b.slots[idx].present {
		return nil // duplicate, ignored
	}
	if b.dropped[msgNum] {
		b.slots[idx] = slot{present: true, skip: true, msgNum: msgNum}
	} else {
		b.slots[idx] = slot{present: true, payload: payload, msgNum: msgNum, frameMeta: frameMeta}
	}
	b.occupied++
	return nil
}

// ReadChunk returns the head slot's payload and frame metadata whole,
// without coalescing it into the byte stream, and advances past it. This
// is the delivery path for the frame-aware extension, where a consumer
// needs each chunk's metadata (spec.md property 6) rather than a flat
// byte stream. ok is false if the head slot is not yet present.
func (b *Buffer) ReadChunk() (payload []byte, msgNum uint32, frameMeta *packet.FrameMeta, ok bool) {
	s := &b.slots[b.headIdx]
	if !s.present {
		return nil, 0, nil, false
	}
	if s.skip {
		b.advanceSlot()
		return b.ReadChunk()
	}
	payload, msgNum, frameMeta = s.payload[b.readPos:], s.msgNum, s.frameMeta
	b.advanceSlot()
	return payload, msgNum, frameMeta, true
}

// Read copies contiguous bytes from the head of the buffer into out,
// advancing the ACK cursor, and returns the number of bytes copied.
// Reads never span a gap: if the head slot is not yet present, Read
// returns 0.
func (b *Buffer) Read(out []byte) int {
	total := 0
	for total < len(out) {
		s := &b.slots[b.headIdx]
		if !s.present {
			break
		}
		if s.skip {
			b.advanceSlot()
			continue
		}
		n := copy(out[total:], s.payload[b.readPos:])
		total += n
		b.readPos += n
		if b.readPos >= len(s.payload) {
			b.advanceSlot()
		} else {
			break
		}
	}
	return total
}

func (b *Buffer) advanceSlot() {
	b.slots[b.headIdx] = slot{}
	b.headIdx = (b.headIdx + 1) % b.window
	b.base++
	b.readPos = 0
	b.occupied--
}

// DropMessage removes a dropped message's chunks from the buffer
// (spec.md §4.4's "Drop" handling): slots already present in [first,last]
// are converted to skip tombstones so Read passes over them, and future
// arrivals carrying msgNum are discarded on Insert instead of buffered.
func (b *Buffer) DropMessage(msgNum uint32, first, last uint32) {
	b.dropped[msgNum] = true
	count := b.offsetOf(last) - b.offsetOf(first) + 1
	for i := 0; i < count; i++ {
		offset := b.offsetOf(first) + i
		if offset < 0 || offset >= b.window {
			continue
		}
		idx := (b.headIdx + offset) % b.window
		if b.slots[idx].present && !b.slots[idx].skip {
			b.slots[idx] = slot{present: true, skip: true, msgNum: msgNum}
		} else if !b.slots[idx].present {
			b.slots[idx] = slot{present: true, skip: true, msgNum: msgNum}
			b.occupied++
		}
	}
}

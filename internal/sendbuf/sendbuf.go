// Package sendbuf implements the sender-side block buffer from spec.md
// §4.2: an ordered queue of application `send` blocks, each carrying its
// own metadata (message number, TTL, frame metadata), chunked down to MSS
// bytes and held until the engine's ACK cursor releases them.
//
// The critical property from spec.md §4.2/§9 is that metadata travels
// with the queued block, not through a global "next metadata" register:
// application Append calls and the pacing loop's ReadNext/ReadRetrans
// calls are decoupled in time, so anything stored outside the block would
// be stale by the time it is read. Every chunk produced here, new or
// retransmitted, carries the metadata of the block it came from.
package sendbuf

import (
	"time"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

// block is one application Append call's worth of data.
type block struct {
	data      []byte
	msgNum    uint32
	ordered   bool
	frameMeta *packet.FrameMeta
	created   time.Time
	ttl       time.Duration // 0 = no deadline
	offset    int           // bytes of data already chunked out
}

func (b *block) deadline() time.Time {
	if b.ttl == 0 {
		return time.Time{}
	}
	return b.created.Add(b.ttl)
}

func (b *block) remaining() []byte { return b.data[b.offset:] }
func (b *block) done() bool        { return b.offset >= len(b.data) }

// sentChunk records one transmitted packet's payload and metadata, kept
// until the ACK cursor passes its sequence number, so a later
// retransmission read emits exactly what was first sent.
type sentChunk struct {
	msgNum    uint32
	data      []byte
	boundary  packet.Boundary
	ordered   bool
	frameMeta *packet.FrameMeta
}

// messageRecord tracks the sequence range a message's chunks occupy and
// its TTL, so the engine can bulk-purge a whole message from the sender
// loss list when it expires (spec.md §7 "Expired send").
type messageRecord struct {
	firstSeq, lastSeq uint32
	haveSeq           bool
	deadline          time.Time // zero = no TTL
	acked             int       // count of chunks ack'd
	total             int       // count of chunks produced so far
	expired           bool
	size              int // bytes of application data in this message
}

// Buffer is the sender-side send buffer. Not safe for concurrent use; the
// engine serializes access under its connection lock (spec.md §5).
type Buffer struct {
	mss        int
	queue      []*block
	nextMsgNum uint32
	sent       map[uint32]sentChunk     // keyed by packet sequence
	messages   map[uint32]*messageRecord // keyed by message number
	lastAcked  uint32
	haveAcked  bool
	queuedBytes int // bytes of application data not yet fully acked
}

// New creates an empty send buffer chunking at mss bytes per packet.
func New(mss int) *Buffer {
	return &Buffer{
		mss:      mss,
		sent:     make(map[uint32]sentChunk),
		messages: make(map[uint32]*messageRecord),
	}
}

// Append enqueues one block of application data and returns its assigned
// message number. ttl of 0 means no expiration.
func (b *Buffer) Append(data []byte, ttl time.Duration, ordered bool, frameMeta *packet.FrameMeta) uint32 {
	msgNum := b.nextMsgNum
	b.nextMsgNum++
	blk := &block{
		data:      data,
		msgNum:    msgNum,
		ordered:   ordered,
		frameMeta: frameMeta,
		created:   time.Now(),
		ttl:       ttl,
	}
	b.queue = append(b.queue, blk)
	b.messages[msgNum] = &messageRecord{deadline: blk.deadline(), size: len(data)}
	b.queuedBytes += len(data)
	return msgNum
}

// Empty reports whether there is no unsent data queued.
func (b *Buffer) Empty() bool {
	return len(b.queue) == 0
}

// QueuedBytes returns the total application bytes held in messages that
// are not yet fully acknowledged, for send-buffer backpressure.
func (b *Buffer) QueuedBytes() int {
	return b.queuedBytes
}

// ReadNext produces the next unsent chunk (<= mss bytes) for transmission
// at the given packet sequence number, recording it for future
// retransmission. ok is false if there is nothing left to send.
func (b *Buffer) ReadNext(seq uint32) (data []byte, msgNum uint32, boundary packet.Boundary, ordered bool, frameMeta *packet.FrameMeta, ok bool) {
	for len(b.queue) > 0 && b.queue[0].done() {
		b.queue = b.queue[1:]
	}
	if len(b.queue) == 0 {
		return nil, 0, 0, false, nil, false
	}
	blk := b.queue[0]
	rec := b.messages[blk.msgNum]
	if rec != nil && rec.expired {
		// Never transmit a message whose TTL expired while still queued.
		b.queue = b.queue[1:]
		return b.ReadNext(seq)
	}

	remaining := blk.remaining()
	n := len(remaining)
	if n > b.mss {
		n = b.mss
	}
	chunk := remaining[:n]
	isFirst := blk.offset == 0
	blk.offset += n
	isLast := blk.done()

	boundary = packet.BoundaryMiddle
	switch {
	case isFirst && isLast:
		boundary = packet.BoundarySolo
	case isFirst:
		boundary = packet.BoundaryFirst
	case isLast:
		boundary = packet.BoundaryLast
	}

	b.sent[seq] = sentChunk{msgNum: blk.msgNum, data: chunk, boundary: boundary, ordered: blk.ordered, frameMeta: blk.frameMeta}
	if rec == nil {
		rec = &messageRecord{deadline: blk.deadline()}
		b.messages[blk.msgNum] = rec
	}
	if !rec.haveSeq {
		rec.firstSeq, rec.lastSeq, rec.haveSeq = seq, seq, true
	} else {
		rec.lastSeq = seq
	}
	rec.total++

	if isLast {
		b.queue = b.queue[1:]
	}
	return chunk, blk.msgNum, boundary, blk.ordered, blk.frameMeta, true
}

// ReadRetrans re-emits a previously sent chunk by its original sequence
// number for retransmission. expired is true when the owning message's
// TTL has passed, in which case the engine should emit a drop-message
// control instead of retransmitting, per spec.md §4.6 step 1.
func (b *Buffer) ReadRetrans(seq uint32) (data []byte, msgNum uint32, boundary packet.Boundary, ordered bool, frameMeta *packet.FrameMeta, ok bool, expired bool) {
	chunk, found := b.sent[seq]
	if !found {
		return nil, 0, 0, false, nil, false, false
	}
	if rec := b.messages[chunk.msgNum]; rec != nil && rec.expired {
		return nil, chunk.msgNum, 0, false, nil, false, true
	}
	return chunk.data, chunk.msgNum, chunk.boundary, chunk.ordered, chunk.frameMeta, true, false
}

// AckThrough releases all chunks with sequence numbers up to and
// including ackSeq (spec.md §4.2's ack_through). Fully-acknowledged
// messages are removed from the message table.
func (b *Buffer) AckThrough(ackSeq uint32) {
	for seq, chunk := range b.sent {
		if !seqLE(seq, ackSeq) {
			continue
		}
		delete(b.sent, seq)
		if rec := b.messages[chunk.msgNum]; rec != nil {
			rec.acked++
			stillChunking := len(b.queue) > 0 && b.queue[0].msgNum == chunk.msgNum
			if rec.acked >= rec.total && rec.total > 0 && !stillChunking {
				if !rec.expired {
					b.queuedBytes -= rec.size
				}
				delete(b.messages, chunk.msgNum)
			}
		}
	}
	b.lastAcked, b.haveAcked = ackSeq, true
}

// DropExpired scans for messages whose TTL has passed, marks them
// expired, and returns their message numbers. A message still queued is
// skipped and taken off the queue by the next ReadNext; for a message
// already in flight, the next ReadRetrans for one of its sequences
// reports expired=true instead of resending stale data.
func (b *Buffer) DropExpired(now time.Time) []uint32 {
	var dropped []uint32
	for msgNum, rec := range b.messages {
		if rec.expired || rec.deadline.IsZero() || now.Before(rec.deadline) {
			continue
		}
		rec.expired = true
		b.queuedBytes -= rec.size
		dropped = append(dropped, msgNum)
	}
	return dropped
}

// SeqRangeForMessage returns the sequence range occupied by a message's
// transmitted chunks, used to purge the sender loss list in bulk when a
// message is dropped.
func (b *Buffer) SeqRangeForMessage(msgNum uint32) (first, last uint32, ok bool) {
	rec, found := b.messages[msgNum]
	if !found || !rec.haveSeq {
		return 0, 0, false
	}
	return rec.firstSeq, rec.lastSeq, true
}

// seqLE reports whether a precedes or equals b modulo the 31-bit
// sequence space, using the same ring comparison as pkg/seqnum (avoiding
// the import purely to keep this a small self-contained helper in the
// package that most needs it).
func seqLE(a, b uint32) bool {
	diff := int32(a) - int32(b)
	diff = (diff << 1) >> 1
	return diff <= 0
}

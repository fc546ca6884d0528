// Package packet implements the wire codec described in spec.md §3/§4.1:
// a fixed 16-byte base header (24 bytes when carrying frame metadata) plus
// payload, control-packet packing, and NAK loss-list range encoding.
//
// spec.md §9 leaves open whether the frame-aware extension repurposes the
// timestamp word for a deadline or allocates a fresh one; this repo fixes
// on the latter (extend by one word) so RTT measurement and frame
// deadlines never fight over the same 32 bits, and documents the
// deadline's units as absolute microseconds since connection start.
//
// All multi-byte fields are network byte order (encoding/binary.BigEndian).
// Mirrors the teacher's BitStream read/write style (source/protocol/raknet.go)
// but replaces hand-rolled big/little-endian mixing with one consistent
// big-endian codec, since this protocol (unlike RakNet/SA-MP) has no
// historical byte-order baggage to preserve.
package packet

import (
	"encoding/binary"
	"errors"
)

// BaseHeaderLen is the size, in bytes, of the fixed header without frame
// metadata.
const BaseHeaderLen = 16

// FrameHeaderLen is the size, in bytes, of the header when the optional
// frame-metadata words are present.
const FrameHeaderLen = 24

// ErrShortHeader is returned by Parse when the input is smaller than a
// base header.
var ErrShortHeader = errors.New("rudt/packet: header too short")

// Boundary encodes a data packet's position within a multi-packet message
// (word 1, bits 30-31).
type Boundary uint8

const (
	BoundaryMiddle Boundary = 0b00
	BoundaryLast   Boundary = 0b01
	BoundaryFirst  Boundary = 0b10
	BoundarySolo   Boundary = 0b11
)

// CtrlType enumerates the control packet types from spec.md §4.8.
type CtrlType uint16

const (
	CtrlHandshake CtrlType = 0
	CtrlKeepalive CtrlType = 1
	CtrlACK       CtrlType = 2
	CtrlNAK       CtrlType = 3
	CtrlWarning   CtrlType = 4
	CtrlShutdown  CtrlType = 5
	CtrlACK2      CtrlType = 6
	CtrlDrop      CtrlType = 7
	CtrlError     CtrlType = 8
)

// FrameMeta is the optional header words 4 and 5 (counting from 0) carrying
// frame-aware metadata for the VR-frame extension (spec.md §3 word 4,
// plus a fifth word this repo adds for the deadline — see the package
// doc). Deadline is absolute microseconds since connection start, the
// same clock as Header.Timestamp; zero means "no deadline."
type FrameMeta struct {
	FrameID     uint16
	ChunkID     uint8
	TotalChunks uint8
	Deadline    uint32
}

// Header is an immutable value describing one packet's header fields. It
// is always constructed and read through accessors/constructors rather
// than aliased in-place, per spec.md §9's design note: no shared mutable
// storage backs these fields.
type Header struct {
	isControl bool

	// Data packet fields.
	seq      uint32 // 31 bits
	boundary Boundary
	inOrder  bool
	msgNum   uint32 // 29 bits

	// Control packet fields.
	ctrlType CtrlType
	extType  uint16 // bits 0-15 of word 0 for control packets
	addInfo  uint32

	// Shared fields.
	timestamp uint32
	destID    uint32

	hasFrameMeta bool
	frameMeta    FrameMeta
}

// NewDataHeader constructs the header for a data packet.
func NewDataHeader(seq uint32, boundary Boundary, inOrder bool, msgNum uint32, timestamp, destID uint32) Header {
	return Header{
		seq:       seq & 0x7fffffff,
		boundary:  boundary,
		inOrder:   inOrder,
		msgNum:    msgNum & 0x1fffffff,
		timestamp: timestamp,
		destID:    destID,
	}
}

// WithFrameMeta returns a copy of h carrying the given frame metadata.
func (h Header) WithFrameMeta(fm FrameMeta) Header {
	h.hasFrameMeta = true
	h.frameMeta = fm
	return h
}

// NewCtrlHeader constructs the header for a control packet. Control
// packets never carry a sequence number; addInfo is type-specific (see
// spec.md §4.1).
func NewCtrlHeader(t CtrlType, extType uint16, addInfo, timestamp, destID uint32) Header {
	return Header{
		isControl: true,
		ctrlType:  t,
		extType:   extType,
		addInfo:   addInfo,
		timestamp: timestamp,
		destID:    destID,
	}
}

func (h Header) IsControl() bool      { return h.isControl }
func (h Header) Seq() uint32          { return h.seq }
func (h Header) Boundary() Boundary   { return h.boundary }
func (h Header) InOrder() bool        { return h.inOrder }
func (h Header) MsgNum() uint32       { return h.msgNum }
func (h Header) CtrlType() CtrlType   { return h.ctrlType }
func (h Header) ExtType() uint16      { return h.extType }
func (h Header) AddInfo() uint32      { return h.addInfo }
func (h Header) Timestamp() uint32    { return h.timestamp }
func (h Header) DestID() uint32       { return h.destID }
func (h Header) HasFrameMeta() bool   { return h.hasFrameMeta }
func (h Header) FrameMeta() FrameMeta { return h.frameMeta }

// Len returns the serialized length of the header in bytes.
func (h Header) Len() int {
	if h.hasFrameMeta {
		return FrameHeaderLen
	}
	return BaseHeaderLen
}

// AppendTo serializes h and appends it to dst, returning the extended
// slice. This is the header half of the scatter-gather pair the channel
// layer assembles into one datagram (spec.md §2 "Channel").
func (h Header) AppendTo(dst []byte) []byte {
	var word0, word1 uint32
	if h.isControl {
		word0 = 1<<31 | (uint32(h.ctrlType)&0x7fff)<<16 | uint32(h.extType)
		word1 = h.addInfo
	} else {
		word0 = h.seq & 0x7fffffff
		word1 = uint32(h.boundary)<<30 | uint32(h.msgNum)&0x1fffffff
		if h.inOrder {
			word1 |= 1 << 29
		}
	}

	var buf [FrameHeaderLen]byte
	binary.BigEndian.PutUint32(buf[0:4], word0)
	binary.BigEndian.PutUint32(buf[4:8], word1)
	binary.BigEndian.PutUint32(buf[8:12], h.timestamp)
	binary.BigEndian.PutUint32(buf[12:16], h.destID)
	n := BaseHeaderLen
	if h.hasFrameMeta {
		w4 := uint32(h.frameMeta.FrameID) | uint32(h.frameMeta.ChunkID)<<16 | uint32(h.frameMeta.TotalChunks)<<24
		binary.BigEndian.PutUint32(buf[16:20], w4)
		binary.BigEndian.PutUint32(buf[20:24], h.frameMeta.Deadline)
		n = FrameHeaderLen
	}
	return append(dst, buf[:n]...)
}

// Parse decodes a header from the front of b, returning the header and the
// number of bytes consumed. hasFrame tells Parse whether data packets
// carry the two optional frame-metadata words; control packets never do,
// so it is ignored for them. Callers not in frame-aware mode should
// always pass false.
func Parse(b []byte, hasFrame bool) (Header, int, error) {
	if len(b) >= 4 && binary.BigEndian.Uint32(b[0:4])&(1<<31) != 0 {
		hasFrame = false
	}
	need := BaseHeaderLen
	if hasFrame {
		need = FrameHeaderLen
	}
	if len(b) < need {
		return Header{}, 0, ErrShortHeader
	}

	word0 := binary.BigEndian.Uint32(b[0:4])
	word1 := binary.BigEndian.Uint32(b[4:8])
	h := Header{
		timestamp: binary.BigEndian.Uint32(b[8:12]),
		destID:    binary.BigEndian.Uint32(b[12:16]),
	}
	if word0&(1<<31) != 0 {
		h.isControl = true
		h.ctrlType = CtrlType((word0 >> 16) & 0x7fff)
		h.extType = uint16(word0 & 0xffff)
		h.addInfo = word1
	} else {
		h.seq = word0 & 0x7fffffff
		h.boundary = Boundary((word1 >> 30) & 0x3)
		h.inOrder = word1&(1<<29) != 0
		h.msgNum = word1 & 0x1fffffff
	}
	if hasFrame {
		w4 := binary.BigEndian.Uint32(b[16:20])
		h.hasFrameMeta = true
		h.frameMeta = FrameMeta{
			FrameID:     uint16(w4 & 0xffff),
			ChunkID:     uint8((w4 >> 16) & 0xff),
			TotalChunks: uint8((w4 >> 24) & 0xff),
			Deadline:    binary.BigEndian.Uint32(b[20:24]),
		}
	}
	return h, need, nil
}

// Packet pairs a parsed header with its payload, as handed between the
// engine and the channel.
type Packet struct {
	Header  Header
	Payload []byte
}

// Serialize appends the packet's wire representation (header then
// payload) to dst.
func (p Packet) Serialize(dst []byte) []byte {
	dst = p.Header.AppendTo(dst)
	return append(dst, p.Payload...)
}

// ParsePacket parses a full packet (header + remaining payload) from b.
func ParsePacket(b []byte, hasFrame bool) (Packet, error) {
	h, n, err := Parse(b, hasFrame)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Header: h, Payload: b[n:]}, nil
}

// PackControl builds a control packet carrying payload as its body (used
// for NAK range lists, handshake, and error detail).
func PackControl(t CtrlType, extType uint16, addInfo, timestamp, destID uint32, payload []byte) Packet {
	return Packet{
		Header:  NewCtrlHeader(t, extType, addInfo, timestamp, destID),
		Payload: payload,
	}
}

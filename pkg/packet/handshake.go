package packet

import (
	"encoding/binary"
	"errors"
	"net"
)

// HandshakeLen is the fixed size, in bytes, of a handshake control
// packet's payload (spec.md §6).
const HandshakeLen = 48

// ErrShortHandshake is returned when a handshake payload is truncated.
var ErrShortHandshake = errors.New("rudt/packet: short handshake payload")

// RequestType distinguishes a handshake's role, carried in its payload.
type RequestType int32

const (
	ReqRequest       RequestType = 1
	ReqRendezvous    RequestType = 0
	ReqResponse      RequestType = -1
	ReqResponseAgain RequestType = -2
)

// Handshake is the 48-byte payload exchanged to establish a flow
// (spec.md §6): protocol version, socket type, initial sequence number,
// MSS, flow-control window, request type, socket id, a cookie guarding
// against spoofed initial packets, and the peer's address as seen by the
// other side.
type Handshake struct {
	Version    uint32
	SockType   uint32
	InitSeq    uint32
	MSS        uint32
	FlowWindow uint32
	ReqType    RequestType
	SocketID   uint32
	Cookie     uint32
	PeerAddr   [16]byte
}

// PeerUDPAddr decodes PeerAddr as a v4-in-v6 address plus port packed into
// the first 6 bytes (4 bytes IPv4 + 2 bytes port), matching the layout
// Encode/Decode write.
func (h Handshake) PeerUDPAddr() *net.UDPAddr {
	ip := net.IPv4(h.PeerAddr[0], h.PeerAddr[1], h.PeerAddr[2], h.PeerAddr[3])
	port := binary.BigEndian.Uint16(h.PeerAddr[4:6])
	return &net.UDPAddr{IP: ip, Port: int(port)}
}

// SetPeerUDPAddr packs a UDP address into PeerAddr.
func (h *Handshake) SetPeerUDPAddr(addr *net.UDPAddr) {
	var buf [16]byte
	if ip4 := addr.IP.To4(); ip4 != nil {
		copy(buf[0:4], ip4)
	}
	binary.BigEndian.PutUint16(buf[4:6], uint16(addr.Port))
	h.PeerAddr = buf
}

// Encode serializes the handshake to its 48-byte wire form.
func (h Handshake) Encode() []byte {
	buf := make([]byte, HandshakeLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Version)
	binary.BigEndian.PutUint32(buf[4:8], h.SockType)
	binary.BigEndian.PutUint32(buf[8:12], h.InitSeq)
	binary.BigEndian.PutUint32(buf[12:16], h.MSS)
	binary.BigEndian.PutUint32(buf[16:20], h.FlowWindow)
	binary.BigEndian.PutUint32(buf[20:24], uint32(h.ReqType))
	binary.BigEndian.PutUint32(buf[24:28], h.SocketID)
	binary.BigEndian.PutUint32(buf[28:32], h.Cookie)
	copy(buf[32:48], h.PeerAddr[:])
	return buf
}

// DecodeHandshake parses a handshake payload.
func DecodeHandshake(b []byte) (Handshake, error) {
	if len(b) < HandshakeLen {
		return Handshake{}, ErrShortHandshake
	}
	var h Handshake
	h.Version = binary.BigEndian.Uint32(b[0:4])
	h.SockType = binary.BigEndian.Uint32(b[4:8])
	h.InitSeq = binary.BigEndian.Uint32(b[8:12])
	h.MSS = binary.BigEndian.Uint32(b[12:16])
	h.FlowWindow = binary.BigEndian.Uint32(b[16:20])
	h.ReqType = RequestType(int32(binary.BigEndian.Uint32(b[20:24])))
	h.SocketID = binary.BigEndian.Uint32(b[24:28])
	h.Cookie = binary.BigEndian.Uint32(b[28:32])
	copy(h.PeerAddr[:], b[32:48])
	return h, nil
}

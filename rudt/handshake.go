package rudt

import (
	"hash/fnv"
	"net"
	"strconv"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

const protocolVersion = 1

// cookieFor derives a stateless SYN-cookie for addr, the way a listener
// answers a first-contact handshake without allocating any per-peer state
// (spec.md S6): a client that never saw this value can't complete the
// handshake, so a spoofed or replayed initial packet is cheap to discard.
func cookieFor(secret uint64, addr *net.UDPAddr) uint32 {
	h := fnv.New32a()
	h.Write(addr.IP)
	h.Write([]byte(strconv.Itoa(addr.Port)))
	h.Write([]byte(strconv.FormatUint(secret, 16)))
	return h.Sum32()
}

func newRequestHandshake(localID, initSeq, mss, flowWindow uint32, cookie uint32, local *net.UDPAddr) packet.Handshake {
	hs := packet.Handshake{
		Version:    protocolVersion,
		SockType:   1,
		InitSeq:    initSeq,
		MSS:        mss,
		FlowWindow: flowWindow,
		ReqType:    packet.ReqRequest,
		SocketID:   localID,
		Cookie:     cookie,
	}
	if local != nil {
		hs.SetPeerUDPAddr(local)
	}
	return hs
}

func newResponseHandshake(localID, initSeq, mss, flowWindow uint32, cookie uint32, peer *net.UDPAddr) packet.Handshake {
	hs := packet.Handshake{
		Version:    protocolVersion,
		SockType:   1,
		InitSeq:    initSeq,
		MSS:        mss,
		FlowWindow: flowWindow,
		ReqType:    packet.ReqResponse,
		SocketID:   localID,
		Cookie:     cookie,
	}
	if peer != nil {
		hs.SetPeerUDPAddr(peer)
	}
	return hs
}

func newResponseAgainHandshake(localID, cookie uint32) packet.Handshake {
	return packet.Handshake{
		Version:  protocolVersion,
		ReqType:  packet.ReqResponseAgain,
		SocketID: localID,
		Cookie:   cookie,
	}
}

// Package udpchannel is the thin UDP transport beneath the engine
// (spec.md §2 "Channel"): it owns the *net.UDPConn and assembles a
// packet's header and payload into one datagram using scatter-gather
// writes, without understanding anything about sequence numbers, loss, or
// congestion.
package udpchannel

import (
	"net"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

// MaxDatagram is the largest datagram this channel will ever read; larger
// inbound reads are truncated by the kernel the same way any UDP reader's
// would be.
const MaxDatagram = 2048

// Channel wraps a UDP socket. It is safe for concurrent use: writes use
// the kernel's atomic sendto, and reads are expected to be done from a
// single pump goroutine per spec.md §5.
type Channel struct {
	conn *net.UDPConn
}

// New wraps an already-bound or already-connected UDP socket.
func New(conn *net.UDPConn) *Channel {
	return &Channel{conn: conn}
}

// Conn returns the underlying socket, for callers that need SetDeadline
// or similar.
func (c *Channel) Conn() *net.UDPConn { return c.conn }

// SendTo serializes pkt's header and payload as one scatter-gather write
// and sends it to addr. Used by an unconnected (listening) socket that
// serves multiple peers.
func (c *Channel) SendTo(addr *net.UDPAddr, pkt packet.Packet) error {
	var hdr [packet.FrameHeaderLen]byte
	headerBytes := pkt.Header.AppendTo(hdr[:0])
	buffers := net.Buffers{headerBytes, pkt.Payload}
	datagram, err := concatBuffers(buffers)
	if err != nil {
		return err
	}
	_, err = c.conn.WriteToUDP(datagram, addr)
	return err
}

// SendConnected serializes and writes pkt on a connected socket
// (established via net.DialUDP), using net.Buffers for a true
// scatter-gather writev where the platform supports it.
func (c *Channel) SendConnected(pkt packet.Packet) error {
	var hdr [packet.FrameHeaderLen]byte
	headerBytes := pkt.Header.AppendTo(hdr[:0])
	buffers := net.Buffers{headerBytes, pkt.Payload}
	_, err := buffers.WriteTo(c.conn)
	return err
}

// RecvFrom reads one datagram and parses it into a packet. hasFrame tells
// the codec whether data packets carry the optional frame-metadata words.
func (c *Channel) RecvFrom(hasFrame bool) (packet.Packet, *net.UDPAddr, error) {
	buf := make([]byte, MaxDatagram)
	n, addr, err := c.conn.ReadFromUDP(buf)
	if err != nil {
		return packet.Packet{}, nil, err
	}
	pkt, err := packet.ParsePacket(buf[:n], hasFrame)
	if err != nil {
		return packet.Packet{}, addr, err
	}
	return pkt, addr, nil
}

// Close closes the underlying socket.
func (c *Channel) Close() error { return c.conn.Close() }

// concatBuffers flattens a scatter-gather list into one slice for
// WriteToUDP, which (unlike a connected socket's Write) has no writev
// equivalent on an unconnected UDPConn.
func concatBuffers(buffers net.Buffers) ([]byte, error) {
	total := 0
	for _, b := range buffers {
		total += len(b)
	}
	out := make([]byte, 0, total)
	for _, b := range buffers {
		out = append(out, b...)
	}
	return out, nil
}

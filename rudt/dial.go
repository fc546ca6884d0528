package rudt

import (
	"fmt"
	"net"
	"time"

	"github.com/vento-silenzioso/rudt/cache"
	"github.com/vento-silenzioso/rudt/pkg/packet"
	"github.com/vento-silenzioso/rudt/pkg/seqnum"
	"github.com/vento-silenzioso/rudt/pkg/udpchannel"
)

// Dial establishes a flow to addr, running the stateless-cookie
// handshake from spec.md §6/S6 over a freshly connected UDP socket, and
// seeding congestion estimates from cfg.Cache when this process has
// talked to the peer before (spec.md §4.10).
func Dial(addr string, cfg Config) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rudt: resolve %s: %w", addr, err)
	}
	udpConn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("rudt: dial %s: %w", addr, err)
	}

	ch := udpchannel.New(udpConn)
	localID := randomUint32()
	initSeq := uint32(seqnum.Norm(randomUint32()))
	local, _ := udpConn.LocalAddr().(*net.UDPAddr)

	mss := cfg.MSS
	if mss <= 0 {
		mss = 1500
	}

	retries := cfg.HandshakeRetries
	if retries <= 0 {
		retries = 5
	}
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	resp, err := performHandshake(ch, local, localID, initSeq, uint32(mss), cfg.FlowWindow, retries, timeout)
	if err != nil {
		udpConn.Close()
		return nil, err
	}
	udpConn.SetReadDeadline(time.Time{})

	peerMSS := int(resp.MSS)
	if peerMSS > 0 && peerMSS < mss {
		mss = peerMSS
	}

	var seed cache.PeerInfo
	haveSeed := false
	if cfg.Cache != nil {
		seed, haveSeed = cfg.Cache.Lookup(raddr.String())
	}

	transmit := func(pkt packet.Packet) error { return ch.SendConnected(pkt) }

	c := newConn(connOptions{
		cfg:            cfg,
		isServer:       false,
		localAddr:      local,
		remoteAddr:     raddr,
		localID:        localID,
		peerID:         resp.SocketID,
		initSeq:        initSeq,
		peerInitSeq:    resp.InitSeq,
		mss:            mss,
		peerFlowWindow: resp.FlowWindow,
		transmit:       transmit,
		seed:           seed,
		haveSeed:       haveSeed,
		onClose:        func() { udpConn.Close() },
	})

	go func() {
		for {
			pkt, _, err := ch.RecvFrom(cfg.FrameAware)
			if err != nil {
				return
			}
			c.deliver(pkt)
		}
	}()

	return c, nil
}

// performHandshake runs the client side of the 2-RTT SYN-cookie exchange:
// send a request with whatever cookie is known (initially none), and
// either get a response-again carrying the correct cookie to retry with,
// or a response completing the handshake.
func performHandshake(ch *udpchannel.Channel, local *net.UDPAddr, localID, initSeq, mss, flowWindow uint32, retries int, timeout time.Duration) (packet.Handshake, error) {
	cookie := uint32(0)
	for attempt := 0; attempt < retries; attempt++ {
		req := newRequestHandshake(localID, initSeq, mss, flowWindow, cookie, local)
		pkt := packet.PackControl(packet.CtrlHandshake, 0, 0, 0, 0, req.Encode())
		if err := ch.SendConnected(pkt); err != nil {
			return packet.Handshake{}, fmt.Errorf("rudt: send handshake: %w", err)
		}

		ch.Conn().SetReadDeadline(time.Now().Add(timeout))
		inPkt, _, err := ch.RecvFrom(false)
		if err != nil {
			continue // timed out or transient read error; retry
		}
		if !inPkt.Header.IsControl() || inPkt.Header.CtrlType() != packet.CtrlHandshake {
			continue
		}
		h, err := packet.DecodeHandshake(inPkt.Payload)
		if err != nil {
			continue
		}
		switch h.ReqType {
		case packet.ReqResponseAgain:
			cookie = h.Cookie
		case packet.ReqResponse:
			return h, nil
		}
	}
	return packet.Handshake{}, ErrHandshakeTimeout
}

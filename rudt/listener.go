package rudt

import (
	"fmt"
	"net"
	"sync"

	"github.com/vento-silenzioso/rudt/cache"
	"github.com/vento-silenzioso/rudt/pkg/packet"
	"github.com/vento-silenzioso/rudt/pkg/seqnum"
	"github.com/vento-silenzioso/rudt/pkg/udpchannel"
)

// Listener accepts inbound flows on one shared UDP socket, demultiplexing
// datagrams by source address the way spec.md §5 describes the "UDP
// receive queue" feeding either an in-progress handshake or an
// established flow.
type Listener struct {
	cfg    Config
	ch     *udpchannel.Channel
	secret uint64

	mu      sync.Mutex
	conns   map[string]*Conn
	closed  bool
	accept  chan *Conn
	closeCh chan struct{}
}

// Listen binds addr and starts accepting flows.
func Listen(addr string, cfg Config) (*Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("rudt: resolve %s: %w", addr, err)
	}
	udpConn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("rudt: listen %s: %w", addr, err)
	}

	l := &Listener{
		cfg:     cfg,
		ch:      udpchannel.New(udpConn),
		secret:  randomUint64(),
		conns:   make(map[string]*Conn),
		accept:  make(chan *Conn, 16),
		closeCh: make(chan struct{}),
	}
	go l.loop()
	return l, nil
}

// Addr returns the listener's bound address.
func (l *Listener) Addr() net.Addr { return l.ch.Conn().LocalAddr() }

// Accept blocks until a flow completes its handshake, or the listener is
// closed.
func (l *Listener) Accept() (*Conn, error) {
	select {
	case c := <-l.accept:
		return c, nil
	case <-l.closeCh:
		return nil, ErrClosed
	}
}

// Close stops accepting new flows and closes the shared socket.
// Already-accepted Conns send and receive through that socket, so after
// Close they can no longer exchange packets; close them individually.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.closeCh)
	return l.ch.Close()
}

func (l *Listener) loop() {
	for {
		pkt, addr, err := l.ch.RecvFrom(l.cfg.FrameAware)
		if err != nil {
			select {
			case <-l.closeCh:
				return
			default:
				continue
			}
		}

		l.mu.Lock()
		conn, existing := l.conns[addr.String()]
		l.mu.Unlock()

		if existing {
			conn.deliver(pkt)
			continue
		}
		if pkt.Header.IsControl() && pkt.Header.CtrlType() == packet.CtrlHandshake {
			l.handleHandshake(pkt, addr)
		}
		// Non-handshake packets from an address with no established flow
		// are silently dropped (spec.md §6's handshake-only first contact).
	}
}

func (l *Listener) handleHandshake(pkt packet.Packet, addr *net.UDPAddr) {
	h, err := packet.DecodeHandshake(pkt.Payload)
	if err != nil || h.ReqType != packet.ReqRequest {
		return
	}

	expected := cookieFor(l.secret, addr)
	if h.Cookie != expected {
		resp := newResponseAgainHandshake(0, expected)
		pkt := packet.PackControl(packet.CtrlHandshake, 0, 0, 0, 0, resp.Encode())
		_ = l.ch.SendTo(addr, pkt)
		return
	}

	mss := l.cfg.MSS
	if mss <= 0 {
		mss = 1500
	}
	if int(h.MSS) > 0 && int(h.MSS) < mss {
		mss = int(h.MSS)
	}
	localID := randomUint32()
	initSeq := uint32(seqnum.Norm(randomUint32()))

	respHS := newResponseHandshake(localID, initSeq, uint32(mss), l.cfg.FlowWindow, expected, addr)
	respPkt := packet.PackControl(packet.CtrlHandshake, 0, 0, 0, 0, respHS.Encode())
	if err := l.ch.SendTo(addr, respPkt); err != nil {
		return
	}

	var seed cache.PeerInfo
	haveSeed := false
	if l.cfg.Cache != nil {
		seed, haveSeed = l.cfg.Cache.Lookup(addr.String())
	}

	peerAddr := addr
	key := addr.String()
	transmit := func(pkt packet.Packet) error { return l.ch.SendTo(peerAddr, pkt) }

	c := newConn(connOptions{
		cfg:            l.cfg,
		isServer:       true,
		localAddr:      l.ch.Conn().LocalAddr(),
		remoteAddr:     peerAddr,
		localID:        localID,
		peerID:         h.SocketID,
		initSeq:        initSeq,
		peerInitSeq:    h.InitSeq,
		mss:            mss,
		peerFlowWindow: h.FlowWindow,
		transmit:       transmit,
		seed:           seed,
		haveSeed:       haveSeed,
		onClose:        func() { l.forget(key) },
	})

	l.mu.Lock()
	l.conns[key] = c
	l.mu.Unlock()

	select {
	case l.accept <- c:
	default:
		go func() { l.accept <- c }()
	}
}

func (l *Listener) forget(key string) {
	l.mu.Lock()
	delete(l.conns, key)
	l.mu.Unlock()
}

package rudt

import (
	"bytes"
	"net"
	"sync/atomic"
	"testing"
	"time"
)

// lossyRelay forwards UDP datagrams between two fixed peers, dropping
// every dropEvery'th packet in each direction, to exercise the engine's
// NAK-driven retransmission path (spec.md §4.4/property 5) without a
// fake transport abstraction.
type lossyRelay struct {
	frontConn, backConn *net.UDPConn
	front, back         *net.UDPAddr
	dropEvery           uint32
	dropped             int64
}

func newLossyRelay(t *testing.T, dropEvery uint32) *lossyRelay {
	t.Helper()
	frontConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("relay front listen: %v", err)
	}
	backConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("relay back listen: %v", err)
	}
	r := &lossyRelay{frontConn: frontConn, backConn: backConn, dropEvery: dropEvery}
	t.Cleanup(func() { frontConn.Close(); backConn.Close() })
	return r
}

func (r *lossyRelay) frontAddr() string { return r.frontConn.LocalAddr().String() }

// pump starts relaying front<->back once the real server address (back's
// target) is known; front-side peers connect to r.frontAddr().
func (r *lossyRelay) pump(serverAddr *net.UDPAddr) {
	var seq uint32
	buf := make([]byte, 65536)
	go func() {
		for {
			n, addr, err := r.frontConn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			r.front = addr
			if r.drop(&seq) {
				continue
			}
			r.backConn.WriteToUDP(buf[:n], serverAddr)
		}
	}()
	buf2 := make([]byte, 65536)
	var seq2 uint32
	go func() {
		for {
			n, _, err := r.backConn.ReadFromUDP(buf2)
			if err != nil {
				return
			}
			if r.front == nil {
				continue
			}
			if r.drop(&seq2) {
				continue
			}
			r.frontConn.WriteToUDP(buf2[:n], r.front)
		}
	}()
}

func (r *lossyRelay) drop(seq *uint32) bool {
	n := atomic.AddUint32(seq, 1)
	if r.dropEvery > 0 && n%r.dropEvery == 0 {
		atomic.AddInt64(&r.dropped, 1)
		return true
	}
	return false
}

func TestLossyLinkStillDeliversEverything(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MSS = 128

	ln, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	serverAddr := ln.Addr().(*net.UDPAddr)

	relay := newLossyRelay(t, 7)
	relay.pump(serverAddr)

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	dialCfg := cfg
	dialCfg.HandshakeRetries = 10
	client, err := Dial(relay.frontAddr(), dialCfg)
	if err != nil {
		t.Fatalf("dial through relay: %v", err)
	}
	defer client.Close()

	var server *Conn
	select {
	case server = <-accepted:
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted through the lossy relay")
	}
	defer server.Close()

	payload := make([]byte, 128*40+53)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	if _, err := client.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	deadline := time.Now().Add(10 * time.Second)
	for len(got) < len(payload) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after reassembling %d/%d bytes (dropped %d packets)", len(got), len(payload), relay.dropped)
		}
		n, err := server.TryRecv(buf)
		if err != nil && err != ErrBufferFull {
			t.Fatalf("recv: %v", err)
		}
		if n > 0 {
			got = append(got, buf[:n]...)
		} else {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("reassembled payload corrupted despite loss recovery")
	}
	if atomic.LoadInt64(&relay.dropped) == 0 {
		t.Fatal("test relay never actually dropped a packet; it isn't exercising loss recovery")
	}
}

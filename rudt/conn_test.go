package rudt

import (
	"bytes"
	"testing"
	"time"

	"github.com/vento-silenzioso/rudt/pkg/packet"
)

func dialAndAccept(t *testing.T, cfg Config) (client, server *Conn, ln *Listener) {
	t.Helper()
	ln, err := Listen("127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- c
	}()

	client, err = Dial(ln.Addr().String(), cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case server = <-accepted:
	case <-time.After(3 * time.Second):
		t.Fatal("server side never accepted the flow")
	}
	t.Cleanup(func() { server.Close() })
	return client, server, ln
}

func TestHandshakeEstablishesFlow(t *testing.T) {
	cfg := DefaultConfig()
	client, server, _ := dialAndAccept(t, cfg)

	if client.RemoteAddr().String() == "" || server.RemoteAddr().String() == "" {
		t.Fatal("established flows must know their peer address")
	}
}

func TestSendRecvDeliversBytesInOrder(t *testing.T) {
	cfg := DefaultConfig()
	client, server, _ := dialAndAccept(t, cfg)

	msg := []byte("the quick brown fox jumps over the lazy dog")
	if _, err := client.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, len(msg))
	got := 0
	deadline := time.After(3 * time.Second)
	for got < len(msg) {
		select {
		case <-deadline:
			t.Fatalf("timed out after reading %d/%d bytes", got, len(msg))
		default:
		}
		n, err := server.TryRecv(buf[got:])
		if err != nil && err != ErrBufferFull {
			t.Fatalf("recv: %v", err)
		}
		got += n
		if n == 0 {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if !bytes.Equal(buf, msg) {
		t.Fatalf("reassembled %q, want %q", buf, msg)
	}
}

func TestSendRecvAcrossMultipleMSSChunks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MSS = 64
	client, server, _ := dialAndAccept(t, cfg)

	payload := make([]byte, 64*20+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	if _, err := client.Send(payload); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := make([]byte, 0, len(payload))
	buf := make([]byte, 4096)
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < len(payload) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out after reading %d/%d bytes", len(got), len(payload))
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
		t.Fatal("reassembled payload does not match what was sent")
	}
}

func TestFrameAwareMetadataRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameAware = true
	client, server, _ := dialAndAccept(t, cfg)

	client.SetNextFrameMetadata(42, 2, 5, 200*time.Millisecond)
	if _, err := client.Send([]byte("chunk-payload")); err != nil {
		t.Fatalf("send: %v", err)
	}

	type result struct {
		payload []byte
		fm      *packet.FrameMeta
	}
	resultCh := make(chan result, 1)
	errCh := make(chan error, 1)
	go func() {
		payload, fm, err := server.RecvChunk()
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result{payload, fm}
	}()

	select {
	case r := <-resultCh:
		if r.fm == nil {
			t.Fatal("expected frame metadata on the received chunk")
		}
		if r.fm.FrameID != 42 || r.fm.ChunkID != 2 || r.fm.TotalChunks != 5 {
			t.Fatalf("frame metadata mismatch: %+v", r.fm)
		}
		if r.fm.Deadline == 0 {
			t.Fatal("expected a nonzero wire deadline")
		}
		if string(r.payload) != "chunk-payload" {
			t.Fatalf("payload = %q", r.payload)
		}
	case err := <-errCh:
		t.Fatalf("RecvChunk: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the frame-aware chunk")
	}
}

func TestCloseNotifiesPeer(t *testing.T) {
	cfg := DefaultConfig()
	client, server, _ := dialAndAccept(t, cfg)

	client.Close()

	buf := make([]byte, 16)
	deadline := time.Now().Add(3 * time.Second)
	for {
		_, err := server.TryRecv(buf)
		if err == ErrClosed {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("server side never observed the peer shutdown")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatsReflectTraffic(t *testing.T) {
	cfg := DefaultConfig()
	client, server, _ := dialAndAccept(t, cfg)

	if _, err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}
	buf := make([]byte, 16)
	deadline := time.Now().Add(3 * time.Second)
	for {
		n, _ := server.TryRecv(buf)
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("never received the message")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := client.Stats()
	if stats.PktSent == 0 {
		t.Fatal("expected at least one packet sent to be recorded")
	}
	serverStats := server.Stats()
	if serverStats.PktRecv == 0 {
		t.Fatal("expected at least one packet received to be recorded")
	}
}

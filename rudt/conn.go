// Package rudt is the public engine for the protocol described in
// spec.md: ordered, reliable byte-stream delivery over UDP with
// selective-repeat loss recovery, rate-based congestion control, and an
// optional frame-aware extension for carrying VR-style chunked frames
// with a wire-visible deadline.
//
// The engine runs one goroutine per Conn (runEngine), grounded on
// PeernetOfficial's udtSocketSend.goSendEvent single-goroutine select
// loop (other_examples/c3152d04_PeernetOfficial-core__udt-udtsocket_send.go.go):
// all mutable connection state lives behind Conn.mu, and the loop is the
// only place that advances it, so Send/Recv/Stats only ever touch state
// through the mutex rather than through channels.
package rudt

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vento-silenzioso/rudt/cache"
	"github.com/vento-silenzioso/rudt/congestion"
	"github.com/vento-silenzioso/rudt/internal/losslist"
	"github.com/vento-silenzioso/rudt/internal/recvbuf"
	"github.com/vento-silenzioso/rudt/internal/rlog"
	"github.com/vento-silenzioso/rudt/internal/sendbuf"
	"github.com/vento-silenzioso/rudt/internal/timewindow"
	"github.com/vento-silenzioso/rudt/pkg/packet"
	"github.com/vento-silenzioso/rudt/pkg/seqnum"
)

const (
	synInterval    = 10 * time.Millisecond
	defaultAckInt  = 10 * time.Millisecond
	minNakInt      = 20 * time.Millisecond
	maxNAKPayload  = 1200
	ackHistoryCap  = 2048
	arrivalHistCap = 64
	inboundDepth   = 256
	expThreshold   = 16
	expSilence     = 10 * time.Second
)

// transmitFunc sends one packet to this Conn's peer; Dial wraps a
// connected socket's write, Listener wraps a shared unconnected one.
type transmitFunc func(packet.Packet) error

// pendingFrameMeta is the metadata staged by SetNextFrameMetadata for
// the next Send call, expressed as a relative TTL rather than an
// absolute timestamp since the caller doesn't know the connection's
// clock epoch.
type pendingFrameMeta struct {
	frameID uint16
	chunkID uint8
	total   uint8
	ttl     time.Duration
}

// connOptions gathers the construction parameters newConn needs from
// either a completed client handshake (dial.go) or a completed server
// handshake (listener.go).
type connOptions struct {
	cfg            Config
	isServer       bool
	localAddr      net.Addr
	remoteAddr     *net.UDPAddr
	localID        uint32
	peerID         uint32
	initSeq        uint32
	peerInitSeq    uint32
	mss            int
	peerFlowWindow uint32
	transmit       transmitFunc
	seed           cache.PeerInfo
	haveSeed       bool
	onClose        func()
}

// Conn is one established flow. All exported methods are safe for
// concurrent use.
type Conn struct {
	cfg        Config
	log        *rlog.Logger
	frameAware bool
	isServer   bool

	localAddr      net.Addr
	remoteAddr     *net.UDPAddr
	peerAddrString string
	localID        uint32
	peerID         uint32

	clock seqnum.Clock

	mu           sync.Mutex
	cond         *sync.Cond
	closed       bool
	broken       bool
	brokenErr    error
	peerShutdown bool

	mss        int
	flowWindow uint32
	ctl        congestion.Controller
	bwLimiter  *rate.Limiter

	initSeq      uint32
	lastSent     uint32
	haveSent     bool
	lastAcked    uint32
	lastReceived uint32
	haveReceived bool

	sendBuf      *sendbuf.Buffer
	recvBuf      *recvbuf.Buffer
	senderLoss   losslist.List
	receiverLoss losslist.List

	rtt, rttVar               time.Duration
	bandwidthPPS, recvRatePPS float64

	ackHistory      *timewindow.AckHistory
	arrival         *timewindow.ArrivalWindow
	nextAckSubSeq   uint32
	lastFullAckSeq  uint32
	haveLastFullAck bool

	nextFrameMeta *pendingFrameMeta

	pktSent, pktRecv, pktRetrans, pktLost, pktDropped int64
	bytesSent, bytesRecv                              int64

	lastAckAt        time.Time
	lastNakAt        time.Time
	lastSynAt        time.Time
	expCount         int
	lastRecvActivity time.Time
	nextSendAt       time.Time
	haveNextSend     bool

	transmit transmitFunc
	onClose  func()

	inbound chan packet.Packet
	wake    chan struct{}
	closeCh chan struct{}
	doneCh  chan struct{}
}

func newConn(o connOptions) *Conn {
	mss := o.mss
	if mss <= 0 {
		mss = o.cfg.MSS
	}
	if mss <= 0 {
		mss = 1500
	}

	maxCwnd := int(o.peerFlowWindow)
	if maxCwnd <= 0 {
		maxCwnd = int(o.cfg.FlowWindow)
	}
	if maxCwnd <= 0 {
		maxCwnd = 16
	}

	now := time.Now()
	c := &Conn{
		cfg:              o.cfg,
		log:              o.cfg.logger(),
		frameAware:       o.cfg.FrameAware,
		isServer:         o.isServer,
		localAddr:        o.localAddr,
		remoteAddr:       o.remoteAddr,
		peerAddrString:   o.remoteAddr.String(),
		localID:          o.localID,
		peerID:           o.peerID,
		clock:            seqnum.NewClock(),
		mss:              mss,
		flowWindow:       o.peerFlowWindow,
		ctl:              o.cfg.controller(),
		initSeq:          o.initSeq,
		lastSent:         uint32(seqnum.Dec(seqnum.Seq(o.initSeq))),
		lastAcked:        uint32(seqnum.Dec(seqnum.Seq(o.initSeq))),
		sendBuf:          sendbuf.New(mss),
		recvBuf:          recvbuf.New(o.cfg.recvWindowPackets(), o.peerInitSeq),
		ackHistory:       timewindow.NewAckHistory(ackHistoryCap),
		arrival:          timewindow.NewArrivalWindow(arrivalHistCap),
		transmit:         o.transmit,
		onClose:          o.onClose,
		inbound:          make(chan packet.Packet, inboundDepth),
		wake:             make(chan struct{}, 1),
		closeCh:          make(chan struct{}),
		doneCh:           make(chan struct{}),
		expCount:         1,
		lastRecvActivity: now,
		lastSynAt:        now,
		lastAckAt:        now,
	}
	c.cond = sync.NewCond(&c.mu)
	if o.cfg.MaxBandwidthBPS > 0 {
		c.bwLimiter = rate.NewLimiter(rate.Limit(o.cfg.MaxBandwidthBPS), mss*4)
	}

	if o.haveSeed {
		c.rtt = o.seed.RTT
		c.bandwidthPPS = o.seed.BandwidthPPS
		if o.seed.FinalCwnd > 0 && o.seed.FinalCwnd < maxCwnd {
			maxCwnd = o.seed.FinalCwnd
		}
	}
	c.ctl.Init(mss, o.initSeq, maxCwnd)
	if o.haveSeed {
		c.ctl.SetRTT(c.rtt)
		c.ctl.SetBandwidth(c.bandwidthPPS)
	}

	go c.runEngine()
	return c
}

// LocalAddr returns this side's address.
func (c *Conn) LocalAddr() net.Addr { return c.localAddr }

// RemoteAddr returns the peer's address.
func (c *Conn) RemoteAddr() net.Addr { return c.remoteAddr }

// deliver hands an inbound packet to the engine goroutine. Callers are
// the per-Conn read pump (Dial) or the Listener's shared demux loop.
func (c *Conn) deliver(pkt packet.Packet) {
	select {
	case c.inbound <- pkt:
	case <-c.closeCh:
	}
}

func (c *Conn) wakeLocked() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// SetNextFrameMetadata stages frame/chunk identity and a deadline for
// the very next Send call (spec.md §3's frame-aware extension). deadline
// is relative: it doubles as the send buffer's local expiry (spec.md §7
// "Expired send") and, converted to an absolute connection-clock value,
// as the wire-carried FrameMeta.Deadline for the receiver's reassembly
// layer. A deadline of 0 means no expiry. Frame metadata set but never
// consumed by a Send is silently dropped.
func (c *Conn) SetNextFrameMetadata(frameID uint16, chunkID, totalChunks uint8, deadline time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextFrameMeta = &pendingFrameMeta{frameID: frameID, chunkID: chunkID, total: totalChunks, ttl: deadline}
}

// Send queues data for reliable, ordered delivery, blocking while the
// send buffer is full.
func (c *Conn) Send(data []byte) (int, error) { return c.sendImpl(data, true) }

// TrySend is the non-blocking form of Send, returning ErrBufferFull
// instead of waiting for room.
func (c *Conn) TrySend(data []byte) (int, error) { return c.sendImpl(data, false) }

func (c *Conn) sendImpl(data []byte, blocking bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	budget := c.cfg.SendBufferBytes
	for {
		if c.closed {
			return 0, ErrClosed
		}
		if c.broken {
			return 0, c.brokenErr
		}
		if budget <= 0 || c.sendBuf.QueuedBytes()+len(data) <= budget {
			break
		}
		if !blocking {
			return 0, ErrBufferFull
		}
		c.cond.Wait()
	}

	var fm *packet.FrameMeta
	var ttl time.Duration
	if c.frameAware && c.nextFrameMeta != nil {
		p := c.nextFrameMeta
		c.nextFrameMeta = nil
		ttl = p.ttl
		var deadline uint32
		if p.ttl > 0 {
			deadline = c.clock.ElapsedMicros() + uint32(p.ttl.Microseconds())
		}
		fm = &packet.FrameMeta{FrameID: p.frameID, ChunkID: p.chunkID, TotalChunks: p.total, Deadline: deadline}
	}

	owned := append([]byte(nil), data...)
	c.sendBuf.Append(owned, ttl, true, fm)
	c.bytesSent += int64(len(data))
	c.wakeLocked()
	return len(data), nil
}

// Recv copies the next contiguous bytes of the reassembled stream into
// out, blocking until at least one byte is available.
func (c *Conn) Recv(out []byte) (int, error) { return c.recvImpl(out, true) }

// TryRecv is the non-blocking form of Recv.
func (c *Conn) TryRecv(out []byte) (int, error) { return c.recvImpl(out, false) }

func (c *Conn) recvImpl(out []byte, blocking bool) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		n := c.recvBuf.Read(out)
		if n > 0 {
			c.bytesRecv += int64(n)
			return n, nil
		}
		if c.peerShutdown {
			return 0, ErrClosed
		}
		if c.broken {
			return 0, c.brokenErr
		}
		if c.closed {
			return 0, ErrClosed
		}
		if !blocking {
			return 0, ErrBufferFull
		}
		c.cond.Wait()
	}
}

// RecvChunk returns the next whole chunk and its frame metadata, for
// frame-aware consumers that need chunk boundaries rather than a flat
// byte stream (spec.md property 6).
func (c *Conn) RecvChunk() ([]byte, *packet.FrameMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for {
		payload, _, fm, ok := c.recvBuf.ReadChunk()
		if ok {
			c.bytesRecv += int64(len(payload))
			return payload, fm, nil
		}
		if c.peerShutdown {
			return nil, nil, ErrClosed
		}
		if c.broken {
			return nil, nil, c.brokenErr
		}
		if c.closed {
			return nil, nil, ErrClosed
		}
		c.cond.Wait()
	}
}

// Close tears down the flow: it wakes the engine loop, which emits a
// shutdown control packet (unless the flow is already broken), records
// fresh estimates in the destination cache, and releases per-flow
// resources (spec.md §5 "Cancellation").
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cond.Broadcast()
	c.mu.Unlock()

	close(c.closeCh)
	<-c.doneCh
	return nil
}

// runEngine is the single goroutine that owns pacing, retransmission,
// and the four periodic timers for this flow.
func (c *Conn) runEngine() {
	defer close(c.doneCh)
	for {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			c.shutdown()
			return
		}

		c.pumpSends()

		c.mu.Lock()
		wakeAt := c.nextDeadlineLocked(time.Now())
		c.mu.Unlock()

		d := time.Until(wakeAt)
		if d < time.Millisecond {
			d = time.Millisecond
		}
		timer := time.NewTimer(d)

		select {
		case <-c.closeCh:
			timer.Stop()
		case pkt := <-c.inbound:
			timer.Stop()
			c.handleInbound(pkt, time.Now())
		case <-c.wake:
			timer.Stop()
		case <-timer.C:
			c.handleTimers(time.Now())
		}
	}
}

// pumpSends drains as many packets as the current window and pacing
// interval allow, in spec.md §4.6's priority order: retransmits and
// drop-controls first, then new data.
func (c *Conn) pumpSends() {
	for {
		now := time.Now()
		c.mu.Lock()
		if c.closed || c.broken {
			c.mu.Unlock()
			return
		}
		if c.haveNextSend && now.Before(c.nextSendAt) {
			c.mu.Unlock()
			return
		}
		if c.bwLimiter != nil {
			// Reserve one MSS worth of budget per packet as an approximation
			// of its actual size, since the exact chunk length isn't known
			// until packNextLocked runs; a short final chunk of a message
			// costs slightly more budget than it used, which only matters
			// at the very edge of the configured cap.
			r := c.bwLimiter.ReserveN(now, c.mss)
			if r.OK() {
				if delay := r.Delay(); delay > 0 {
					r.Cancel()
					c.nextSendAt = now.Add(delay)
					c.haveNextSend = true
					c.mu.Unlock()
					return
				}
			}
		}
		for _, msgNum := range c.sendBuf.DropExpired(now) {
			first, last, ok := c.sendBuf.SeqRangeForMessage(msgNum)
			if !ok {
				continue
			}
			c.senderLoss.RemoveRange(first, last)
		}
		pkt, ok, isProbe := c.packNextLocked()
		if !ok {
			c.mu.Unlock()
			return
		}
		interval := c.ctl.SendInterval()
		c.mu.Unlock()

		if err := c.transmit(pkt); err != nil {
			c.log.Warn("transmit failed: %v", err)
			return
		}

		sent := time.Now()
		c.mu.Lock()
		if isProbe {
			c.nextSendAt = sent
		} else {
			c.nextSendAt = sent.Add(interval)
		}
		c.haveNextSend = true
		c.mu.Unlock()
	}
}

// packNextLocked produces the next packet to transmit, or ok=false if
// there is nothing ready (either no data queued or the window is full).
// isProbe reports whether this packet starts a bandwidth-probe pair
// (spec.md §4.6 step 3), in which case the caller should send its
// successor immediately rather than waiting out the pacing interval.
func (c *Conn) packNextLocked() (pkt packet.Packet, ok bool, isProbe bool) {
	for !c.senderLoss.Empty() {
		seq, _ := c.senderLoss.PopLowest()
		data, msgNum, boundary, ordered, fm, found, expired := c.sendBuf.ReadRetrans(seq)
		if !found {
			continue
		}
		if expired {
			first, last, haveRange := c.sendBuf.SeqRangeForMessage(msgNum)
			if haveRange {
				c.senderLoss.RemoveRange(first, last)
			}
			c.pktDropped++
			hdr := packet.NewCtrlHeader(packet.CtrlDrop, 0, msgNum, c.clock.ElapsedMicros(), c.peerID)
			return packet.Packet{Header: hdr, Payload: encodeDropPayload(first, last)}, true, false
		}
		hdr := packet.NewDataHeader(seq, boundary, ordered, msgNum, c.clock.ElapsedMicros(), c.peerID)
		if c.frameAware {
			var m packet.FrameMeta
			if fm != nil {
				m = *fm
			}
			hdr = hdr.WithFrameMeta(m)
		}
		c.ctl.OnPktSent(seq, true)
		c.pktSent++
		c.pktRetrans++
		return packet.Packet{Header: hdr, Payload: data}, true, false
	}

	outstanding := 0
	if c.haveSent {
		outstanding = seqnum.Len(seqnum.Seq(c.lastAcked), seqnum.Inc(seqnum.Seq(c.lastSent)))
	}
	limit := c.ctl.CwndPackets()
	if w := int(c.flowWindow); w > 0 && w < limit {
		limit = w
	}
	if outstanding >= limit {
		return packet.Packet{}, false, false
	}

	nextSeq := c.initSeq
	if c.haveSent {
		nextSeq = uint32(seqnum.Inc(seqnum.Seq(c.lastSent)))
	}
	data, msgNum, boundary, ordered, fm, found := c.sendBuf.ReadNext(nextSeq)
	if !found {
		return packet.Packet{}, false, false
	}
	c.lastSent = nextSeq
	c.haveSent = true

	hdr := packet.NewDataHeader(nextSeq, boundary, ordered, msgNum, c.clock.ElapsedMicros(), c.peerID)
	if c.frameAware {
		var m packet.FrameMeta
		if fm != nil {
			m = *fm
		}
		hdr = hdr.WithFrameMeta(m)
	}
	c.ctl.OnPktSent(nextSeq, false)
	c.pktSent++
	return packet.Packet{Header: hdr, Payload: data}, true, nextSeq%16 == 0
}

func (c *Conn) handleInbound(pkt packet.Packet, now time.Time) {
	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		return
	}
	c.lastRecvActivity = now
	c.expCount = 1
	if pkt.Header.IsControl() {
		c.processCtrlLocked(pkt, now)
	} else {
		c.processDataLocked(pkt, now)
	}
	c.cond.Broadcast()
	c.wakeLocked()
	c.mu.Unlock()
}

func (c *Conn) processDataLocked(pkt packet.Packet, now time.Time) {
	seq := pkt.Header.Seq()
	c.ctl.OnPktReceived(seq)
	c.arrival.OnArrival(int(seq%16), now)

	var fm *packet.FrameMeta
	if pkt.Header.HasFrameMeta() {
		f := pkt.Header.FrameMeta()
		fm = &f
	}
	if err := c.recvBuf.Insert(seq, pkt.Payload, pkt.Header.MsgNum(), fm); err != nil {
		return
	}
	c.pktRecv++

	switch {
	case !c.haveReceived:
		c.haveReceived = true
		c.lastReceived = seq
	case seqnum.Cmp(seqnum.Seq(seq), seqnum.Inc(seqnum.Seq(c.lastReceived))) > 0:
		gapStart := uint32(seqnum.Inc(seqnum.Seq(c.lastReceived)))
		gapEnd := uint32(seqnum.Dec(seqnum.Seq(seq)))
		c.receiverLoss.Insert(gapStart, gapEnd)
		c.pktLost += int64(seqnum.Len(seqnum.Seq(gapStart), seqnum.Inc(seqnum.Seq(gapEnd))))
		c.lastReceived = seq

		payload := packet.EncodeNAK([]packet.Range{{Start: gapStart, End: gapEnd}})
		hdr := packet.NewCtrlHeader(packet.CtrlNAK, 0, 0, c.clock.ElapsedMicros(), c.peerID)
		_ = c.transmit(packet.Packet{Header: hdr, Payload: payload})
		c.lastNakAt = now
	case seqnum.Cmp(seqnum.Seq(seq), seqnum.Seq(c.lastReceived)) > 0:
		c.lastReceived = seq
	default:
		c.receiverLoss.Remove(seq)
	}
}

func (c *Conn) processCtrlLocked(pkt packet.Packet, now time.Time) {
	switch pkt.Header.CtrlType() {
	case packet.CtrlHandshake:
		c.log.Debug("ignoring handshake control on established flow")
	case packet.CtrlACK:
		c.handleAckLocked(pkt, now)
	case packet.CtrlACK2:
		c.handleAck2Locked(pkt, now)
	case packet.CtrlNAK:
		c.handleNakLocked(pkt)
	case packet.CtrlKeepalive:
		// liveness already refreshed by the caller
	case packet.CtrlShutdown:
		c.peerShutdown = true
		c.log.Info("peer shut down")
	case packet.CtrlDrop:
		c.handleDropLocked(pkt)
	case packet.CtrlWarning:
		c.log.Debug("received congestion warning")
	case packet.CtrlError:
		c.log.Warn("peer reported a protocol error")
	}
}

func (c *Conn) handleAckLocked(pkt packet.Packet, now time.Time) {
	p, ok := decodeAckPayload(pkt.Payload)
	if !ok {
		c.markBrokenLocked(fmt.Errorf("%w: short ACK payload", ErrMalformedControl))
		return
	}

	ack2 := packet.NewCtrlHeader(packet.CtrlACK2, 0, pkt.Header.AddInfo(), c.clock.ElapsedMicros(), c.peerID)
	_ = c.transmit(packet.Packet{Header: ack2})

	if c.haveSent && seqnum.Cmp(seqnum.Seq(p.LastAcked), seqnum.Inc(seqnum.Seq(c.lastSent))) > 0 {
		c.markBrokenLocked(fmt.Errorf("%w: ACK %d is past last_sent+1", ErrMalformedControl, p.LastAcked))
		return
	}
	if seqnum.Cmp(seqnum.Seq(p.LastAcked), seqnum.Seq(c.lastAcked)) <= 0 {
		return
	}

	oldAcked := c.lastAcked
	newlyAcked := seqnum.Len(seqnum.Seq(oldAcked), seqnum.Seq(p.LastAcked))
	c.senderLoss.RemoveRange(oldAcked, p.LastAcked)
	c.lastAcked = p.LastAcked
	c.flowWindow = p.BufAvail
	c.sendBuf.AckThrough(p.LastAcked)
	c.cond.Broadcast()

	if sample := time.Duration(p.RTTMicros) * time.Microsecond; sample > 0 {
		c.applyRTTSample(sample)
	}
	if p.HasRates {
		c.recvRatePPS = ewma(c.recvRatePPS, float64(p.RecvRatePPS))
		c.bandwidthPPS = ewma(c.bandwidthPPS, float64(p.BandwidthPPS))
		c.ctl.SetBandwidth(c.bandwidthPPS)
		c.ctl.SetRecvRate(c.recvRatePPS)
	}
	c.ctl.OnACK(p.LastAcked, newlyAcked)
}

func (c *Conn) handleAck2Locked(pkt packet.Packet, now time.Time) {
	_, rtt, ok := c.ackHistory.Take(pkt.Header.AddInfo(), now)
	if !ok {
		return
	}
	c.applyRTTSample(rtt)
}

func (c *Conn) applyRTTSample(sample time.Duration) {
	if c.rtt == 0 {
		c.rtt = sample
	} else {
		c.rtt = (7*c.rtt + sample) / 8
	}
	diff := c.rtt - sample
	if diff < 0 {
		diff = -diff
	}
	c.rttVar = (3*c.rttVar + diff) / 4
	c.ctl.SetRTT(c.rtt)
}

func ewma(avg, sample float64) float64 {
	if avg == 0 {
		return sample
	}
	return (7*avg + sample) / 8
}

func (c *Conn) handleNakLocked(pkt packet.Packet) {
	ranges, err := packet.DecodeNAK(pkt.Payload)
	if err != nil {
		// Conservative per spec.md §9's Open Question resolution: log and
		// discard the whole NAK rather than breaking the flow.
		c.log.Warn("discarding malformed NAK: %v", err)
		return
	}
	if len(ranges) == 0 {
		return
	}
	count := 0
	for _, r := range ranges {
		count += seqnum.Len(seqnum.Seq(r.Start), seqnum.Inc(seqnum.Seq(r.End)))
	}
	c.ctl.OnLoss(congestion.LossEvent{FirstSeq: ranges[0].Start, LastSeq: ranges[len(ranges)-1].End, Count: count})
	for _, r := range ranges {
		c.senderLoss.Insert(r.Start, r.End)
	}
}

func (c *Conn) handleDropLocked(pkt packet.Packet) {
	msgNum := pkt.Header.AddInfo()
	first, last, ok := decodeDropPayload(pkt.Payload)
	if !ok {
		return
	}
	c.recvBuf.DropMessage(msgNum, first, last)
	c.receiverLoss.RemoveRange(first, last)
	c.pktDropped++
	if !c.haveReceived || seqnum.Cmp(seqnum.Seq(last), seqnum.Seq(c.lastReceived)) > 0 {
		c.lastReceived = last
		c.haveReceived = true
	}
}

func (c *Conn) markBrokenLocked(err error) {
	if c.broken {
		return
	}
	c.broken = true
	c.brokenErr = fmt.Errorf("%w: %w", ErrBroken, err)
	c.log.Error("flow broken: %v", err)
	c.cond.Broadcast()
}

// handleTimers drives the four periodic timers from spec.md §4.9: SYN
// (rate-control re-evaluation), ACK, NAK, and EXP.
func (c *Conn) handleTimers(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken || c.closed {
		return
	}

	if now.Sub(c.lastSynAt) >= synInterval {
		c.ctl.Tick(now)
		c.lastSynAt = now
	}

	ackInt := c.ctl.AckInterval()
	if ackInt <= 0 {
		ackInt = defaultAckInt
	}
	if now.Sub(c.lastAckAt) >= ackInt {
		c.sendFullAckLocked(now)
	}

	nakInt := c.rtt + 4*c.rttVar
	if nakInt < minNakInt {
		nakInt = minNakInt
	}
	if !c.receiverLoss.Empty() && now.Sub(c.lastNakAt) >= nakInt {
		payload := c.receiverLoss.SnapshotForNAK(maxNAKPayload)
		hdr := packet.NewCtrlHeader(packet.CtrlNAK, 0, 0, c.clock.ElapsedMicros(), c.peerID)
		_ = c.transmit(packet.Packet{Header: hdr, Payload: payload})
		c.lastNakAt = now
	}

	expDur := time.Duration(c.expCount)*(c.rtt+4*c.rttVar) + synInterval
	if now.Sub(c.lastRecvActivity) >= expDur {
		c.expCount++
		hdr := packet.NewCtrlHeader(packet.CtrlKeepalive, 0, 0, c.clock.ElapsedMicros(), c.peerID)
		_ = c.transmit(packet.Packet{Header: hdr})

		if c.haveSent && seqnum.Len(seqnum.Seq(c.lastAcked), seqnum.Inc(seqnum.Seq(c.lastSent))) > 0 {
			first := uint32(seqnum.Inc(seqnum.Seq(c.lastAcked)))
			c.senderLoss.Insert(first, c.lastSent)
		}
		c.ctl.OnTimeout()

		if c.expCount > expThreshold && now.Sub(c.lastRecvActivity) >= expSilence {
			c.markBrokenLocked(fmt.Errorf("rudt: EXP timer exhausted after %d firings", c.expCount))
		}
	}
}

// sendFullAckLocked emits a cumulative ACK for everything the receive
// buffer has reassembled contiguously so far, skipping the send if it
// would be an exact duplicate of the last one.
func (c *Conn) sendFullAckLocked(now time.Time) {
	ackLast := uint32(seqnum.Dec(seqnum.Seq(c.recvBuf.Base())))
	if c.haveLastFullAck && ackLast == c.lastFullAckSeq {
		return
	}

	rr, bw := c.arrival.RecvRatePPS(), c.arrival.BandwidthPPS()
	payload := ackPayload{
		LastAcked:    ackLast,
		RTTMicros:    uint32(c.rtt.Microseconds()),
		RTTVarMicros: uint32(c.rttVar.Microseconds()),
		BufAvail:     uint32(c.recvBuf.Available()),
		HasRates:     rr > 0 || bw > 0,
		RecvRatePPS:  uint32(rr),
		BandwidthPPS: uint32(bw),
	}

	subSeq := c.nextAckSubSeq
	c.nextAckSubSeq++
	hdr := packet.NewCtrlHeader(packet.CtrlACK, 0, subSeq, c.clock.ElapsedMicros(), c.peerID)
	if err := c.transmit(packet.Packet{Header: hdr, Payload: payload.encode()}); err != nil {
		c.log.Warn("ack transmit failed: %v", err)
		return
	}

	c.ackHistory.Record(subSeq, ackLast, now)
	c.lastFullAckSeq, c.haveLastFullAck = ackLast, true
	c.lastAckAt = now
}

// nextDeadlineLocked returns the earliest instant the engine loop needs
// to wake for a timer or pending send, even if nothing arrives on
// inbound or wake before then.
func (c *Conn) nextDeadlineLocked(now time.Time) time.Time {
	earliest := c.lastSynAt.Add(synInterval)

	ackInt := c.ctl.AckInterval()
	if ackInt <= 0 {
		ackInt = defaultAckInt
	}
	if t := c.lastAckAt.Add(ackInt); t.Before(earliest) {
		earliest = t
	}

	if !c.receiverLoss.Empty() {
		nakInt := c.rtt + 4*c.rttVar
		if nakInt < minNakInt {
			nakInt = minNakInt
		}
		if t := c.lastNakAt.Add(nakInt); t.Before(earliest) {
			earliest = t
		}
	}

	expDur := time.Duration(c.expCount)*(c.rtt+4*c.rttVar) + synInterval
	if t := c.lastRecvActivity.Add(expDur); t.Before(earliest) {
		earliest = t
	}

	if c.haveNextSend && !c.sendBuf.Empty() && c.nextSendAt.Before(earliest) {
		earliest = c.nextSendAt
	}

	if earliest.Before(now) {
		return now
	}
	return earliest
}

// shutdown runs once, after the engine loop observes Close: it notifies
// the peer, records fresh estimates for this destination, and invokes
// the owner's cleanup hook (the Listener removing this Conn from its
// demux table).
func (c *Conn) shutdown() {
	c.mu.Lock()
	notBroken := !c.broken
	info := cache.PeerInfo{
		RTT:          c.rtt,
		BandwidthPPS: c.bandwidthPPS,
		LossRate:     lossRate(c.pktLost, c.pktRecv),
		FinalCwnd:    c.ctl.CwndPackets(),
		UpdatedAt:    time.Now(),
	}
	c.mu.Unlock()

	if notBroken {
		hdr := packet.NewCtrlHeader(packet.CtrlShutdown, 0, 0, c.clock.ElapsedMicros(), c.peerID)
		_ = c.transmit(packet.Packet{Header: hdr})
	}
	if c.cfg.Cache != nil {
		c.cfg.Cache.Update(c.peerAddrString, info)
	}
	if c.onClose != nil {
		c.onClose()
	}
	c.log.Info("flow closed")
}

func lossRate(lost, recv int64) float64 {
	total := lost + recv
	if total == 0 {
		return 0
	}
	return float64(lost) / float64(total)
}

package congestion

import (
	"math"
	"math/rand"
	"time"
)

const (
	initCwnd        = 16
	rateControlTick = 10 * time.Millisecond
	decreaseFactor  = 1.125
	maxDecreasesPer = 4 // additional decreases permitted within one congestion period
)

// AIMD is the default congestion controller from spec.md §4.5: slow start
// followed by a rate-based additive-increase / multiplicative-decrease
// regime, with a gentler ~11% multiplicative cut (instead of TCP's 0.5x
// halving) on the reasoning that high-bandwidth-delay-product paths
// recover faster from a smaller, capped-repetition cut than from a hard
// halving.
type AIMD struct {
	mss     int
	maxCwnd int
	initSeq uint32

	slowStart bool
	cwnd      float64
	interval  time.Duration

	rtt     time.Duration
	bwPPS   float64
	rrPPS   float64

	lastTick time.Time

	lastDecSeq    uint32
	haveLastDec   bool
	lastDecPeriod time.Duration
	avgNAK        float64
	haveAvgNAK    bool
	decDivisor    int
	decCount      int
	decFirings    int

	rng *rand.Rand
}

// NewAIMD constructs the default controller. Its randomized
// additional-decrease divisor is seeded from the flow's initial sequence
// number, per the Open Question resolution in spec.md §9: deterministic
// per flow, not from the global RNG.
func NewAIMD() *AIMD {
	return &AIMD{}
}

func (a *AIMD) Init(mss int, initSeq uint32, maxCwndPackets int) {
	a.mss = mss
	a.initSeq = initSeq
	a.maxCwnd = maxCwndPackets
	a.slowStart = true
	a.cwnd = initCwnd
	a.interval = time.Microsecond
	a.rng = rand.New(rand.NewSource(int64(initSeq) + 1))
}

func (a *AIMD) OnPktSent(seq uint32, isRetransmit bool)  {}
func (a *AIMD) OnPktReceived(seq uint32)                 {}
func (a *AIMD) SetRTT(rtt time.Duration)                 { a.rtt = rtt }
func (a *AIMD) SetBandwidth(pps float64)                 { a.bwPPS = pps }
func (a *AIMD) SetRecvRate(pps float64)                  { a.rrPPS = pps }
func (a *AIMD) AckInterval() time.Duration               { return 0 }
func (a *AIMD) RTO() time.Duration                       { return 0 }

func (a *AIMD) SendInterval() time.Duration {
	if a.interval <= 0 {
		return time.Microsecond
	}
	return a.interval
}

func (a *AIMD) CwndPackets() int {
	if a.cwnd < 1 {
		return 1
	}
	return int(a.cwnd)
}

func (a *AIMD) OnACK(ackSeq uint32, newlyAcked int) {
	if a.slowStart {
		a.cwnd += float64(newlyAcked)
		if a.maxCwnd > 0 && int(a.cwnd) >= a.maxCwnd {
			a.exitSlowStart()
		}
	}
}

func (a *AIMD) exitSlowStart() {
	a.slowStart = false
	if a.rrPPS > 0 {
		a.interval = time.Duration(1e6/a.rrPPS) * time.Microsecond
	} else if a.cwnd > 0 {
		a.interval = time.Duration((float64(a.rtt) + float64(10*time.Millisecond)) / a.cwnd)
	}
}

func (a *AIMD) Tick(now time.Time) {
	if !a.lastTick.IsZero() && now.Sub(a.lastTick) < rateControlTick {
		return
	}
	a.lastTick = now
	if a.slowStart {
		return
	}

	a.cwnd = a.rrPPS*(float64(a.rtt)+float64(10*time.Millisecond))/1e6 + 16

	if a.interval <= 0 || a.bwPPS <= 0 {
		return
	}
	currentRate := 1e6 / float64(a.interval.Microseconds())
	if a.interval.Microseconds() == 0 {
		currentRate = a.bwPPS
	}
	spareBW := a.bwPPS - currentRate
	if spareBW <= 0 {
		return
	}
	bitsPerSec := spareBW * float64(a.mss) * 8
	inc := math.Pow(10, math.Ceil(math.Log10(bitsPerSec))) * 1.5e-6 / float64(a.mss)
	if inc < 1e-6 {
		inc = 1e-6
	}
	intervalUs := float64(a.interval.Microseconds())
	newIntervalUs := intervalUs * 10000 / (intervalUs*inc + 10000)
	a.interval = time.Duration(newIntervalUs * float64(time.Microsecond))
}

func (a *AIMD) OnLoss(ev LossEvent) {
	if a.slowStart {
		a.exitSlowStart()
		return
	}

	if !a.haveLastDec || seqNewer(ev.FirstSeq, a.lastDecSeq) {
		a.lastDecSeq = ev.LastSeq
		a.haveLastDec = true
		a.lastDecPeriod = a.interval
		a.interval = time.Duration(float64(a.interval) * decreaseFactor)

		if !a.haveAvgNAK {
			a.avgNAK = float64(ev.Count)
			a.haveAvgNAK = true
		} else {
			a.avgNAK = a.avgNAK*0.875 + float64(ev.Count)*0.125
		}
		divisor := int(a.avgNAK)
		if divisor < 1 {
			divisor = 1
		}
		a.decDivisor = 1 + a.rng.Intn(divisor)
		a.decCount = 0
		a.decFirings = 0
		return
	}

	// Same congestion period: allow up to maxDecreasesPer further cuts,
	// each time the running NAK count hits the randomized divisor.
	a.decCount++
	if a.decFirings >= maxDecreasesPer {
		return
	}
	if a.decCount%a.decDivisor == 0 {
		a.interval = time.Duration(float64(a.interval) * decreaseFactor)
		a.decFirings++
	}
}

func (a *AIMD) OnTimeout() {
	if !a.slowStart {
		a.cwnd = initCwnd
	}
}

// seqNewer reports whether a is strictly ahead of b modulo the 31-bit
// sequence space (see pkg/seqnum.Cmp; duplicated here as a tiny unexported
// helper so this package does not import pkg/seqnum).
func seqNewer(a, b uint32) bool {
	diff := int32(a) - int32(b)
	diff = (diff << 1) >> 1
	return diff > 0
}

package congestion

import (
	"testing"
	"time"
)

func TestAIMDSlowStartGrowsWithACKs(t *testing.T) {
	a := NewAIMD()
	a.Init(1500, 42, 1000)
	if got := a.CwndPackets(); got != initCwnd {
		t.Fatalf("initial cwnd = %d, want %d", got, initCwnd)
	}
	a.OnACK(10, 10)
	if got := a.CwndPackets(); got != initCwnd+10 {
		t.Fatalf("cwnd after ACK = %d, want %d", got, initCwnd+10)
	}
}

func TestAIMDExitsSlowStartAtCeiling(t *testing.T) {
	a := NewAIMD()
	a.Init(1500, 1, 20)
	a.SetRecvRate(500)
	a.OnACK(1, 20)
	if a.slowStart {
		t.Fatalf("expected slow start to exit at cwnd ceiling")
	}
	if a.SendInterval() != time.Duration(1e6/500)*time.Microsecond {
		t.Errorf("send interval = %v, want rate-derived interval", a.SendInterval())
	}
}

func TestAIMDExitsSlowStartOnFirstLoss(t *testing.T) {
	a := NewAIMD()
	a.Init(1500, 7, 1000)
	a.SetRTT(20 * time.Millisecond)
	a.OnACK(1, 4)
	a.OnLoss(LossEvent{FirstSeq: 5, LastSeq: 5, Count: 1})
	if a.slowStart {
		t.Fatalf("expected slow start to exit on first loss")
	}
}

func TestAIMDDecreaseOnNewCongestionPeriod(t *testing.T) {
	a := NewAIMD()
	a.Init(1500, 99, 10)
	a.OnACK(1, 10) // exit slow start
	before := a.SendInterval()
	a.OnLoss(LossEvent{FirstSeq: 100, LastSeq: 100, Count: 1})
	after := a.SendInterval()
	if after <= before {
		t.Fatalf("expected send interval to increase (rate decrease) after loss: before=%v after=%v", before, after)
	}
}

func TestAIMDSameCongestionPeriodLossDoesNotShrinkInterval(t *testing.T) {
	a := NewAIMD()
	a.Init(1500, 5, 10)
	a.OnACK(1, 10)
	a.OnLoss(LossEvent{FirstSeq: 200, LastSeq: 200, Count: 1})
	afterFirst := a.SendInterval()
	// A loss whose range is not newer than lastDecSeq falls into the
	// same-period branch, which cuts again only when decCount hits the
	// randomized divisor. With an average NAK count of 1 the divisor is 1,
	// so this call does cut; either way the interval must not shrink.
	a.OnLoss(LossEvent{FirstSeq: 150, LastSeq: 150, Count: 1})
	afterSecond := a.SendInterval()
	if afterSecond < afterFirst {
		t.Fatalf("interval should not shrink on a same-period loss notification")
	}
}

func TestAIMDTickSelfThrottles(t *testing.T) {
	a := NewAIMD()
	a.Init(1500, 3, 10)
	a.OnACK(1, 10)
	a.SetRTT(20 * time.Millisecond)
	a.SetRecvRate(400)
	a.SetBandwidth(600)
	now := time.Now()
	a.Tick(now)
	afterFirst := a.SendInterval()
	a.Tick(now.Add(time.Millisecond))
	if a.SendInterval() != afterFirst {
		t.Fatalf("expected tick within rateControlTick window to be a no-op")
	}
}

func TestFixedRateReportsConstantPacing(t *testing.T) {
	f := NewFixedRate(1000, 32)
	f.Init(1500, 1, 9999)
	if f.CwndPackets() != 32 {
		t.Fatalf("cwnd = %d, want 32", f.CwndPackets())
	}
	want := time.Duration(1e9 / 1000)
	if f.SendInterval() != want {
		t.Fatalf("interval = %v, want %v", f.SendInterval(), want)
	}
	f.OnLoss(LossEvent{FirstSeq: 1, LastSeq: 1, Count: 1})
	if f.SendInterval() != want {
		t.Fatalf("fixed-rate controller must not react to loss")
	}
}

func TestFixedRateFallsBackToMaxCwnd(t *testing.T) {
	f := NewFixedRate(0, 0)
	f.Init(1500, 1, 64)
	if f.CwndPackets() != 64 {
		t.Fatalf("cwnd = %d, want fallback to maxCwndPackets 64", f.CwndPackets())
	}
}

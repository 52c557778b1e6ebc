package feeds

import (
	"testing"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newTestOracle(capacity int) (*BoundaryPriceOracle, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1770000000, 0)}
	o := NewBoundaryPriceOracle("test", []string{"BTC"}, []types.Timeframe{types.TF5M, types.TF15M}, capacity)
	o.SetClock(clock.now)
	return o, clock
}

func TestOracle_PriceAtBoundary_LatestAtOrBefore(t *testing.T) {
	o, _ := newTestOracle(10)
	o.RecordSample("BTC", 50000, 100)
	o.RecordSample("BTC", 50100, 200)

	if p, ok := o.PriceAtBoundary("BTC", 150); !ok || p != 50000 {
		t.Fatalf("expected 50000, got %v (ok=%v)", p, ok)
	}
	if p, ok := o.PriceAtBoundary("BTC", 200); !ok || p != 50100 {
		t.Fatalf("expected 50100 at exact boundary, got %v", p)
	}
	if _, ok := o.PriceAtBoundary("BTC", 99); ok {
		t.Fatalf("expected unavailable when all samples are newer than the boundary")
	}
	if _, ok := o.PriceAtBoundary("ETH", 150); ok {
		t.Fatalf("expected unavailable for untracked instrument")
	}
}

func TestOracle_NeverReturnsLaterSample(t *testing.T) {
	o, _ := newTestOracle(50)
	for ts := int64(10); ts <= 400; ts += 10 {
		o.RecordSample("BTC", float64(ts), ts)
	}
	for b := int64(10); b <= 450; b += 3 {
		p, ok := o.PriceAtBoundary("BTC", b)
		if !ok {
			t.Fatalf("boundary %d: expected a sample", b)
		}
		want := b - b%10
		if want > 400 {
			want = 400
		}
		if int64(p) != want {
			t.Fatalf("boundary %d: expected sample %d, got %v", b, want, p)
		}
	}
}

func TestOracle_EvictsOldest(t *testing.T) {
	o, _ := newTestOracle(3)
	for ts := int64(1); ts <= 5; ts++ {
		o.RecordSample("BTC", float64(ts*100), ts)
	}
	if n := o.Len("BTC"); n != 3 {
		t.Fatalf("expected 3 samples, got %d", n)
	}
	if _, ok := o.PriceAtBoundary("BTC", 2); ok {
		t.Fatalf("evicted samples must not be returned")
	}
	if p, _ := o.PriceAtBoundary("BTC", 3); p != 300 {
		t.Fatalf("expected 300, got %v", p)
	}
}

func TestOracle_SameSecondOverwritesAndStaleDropped(t *testing.T) {
	o, _ := newTestOracle(10)
	o.RecordSample("BTC", 100, 50)
	o.RecordSample("BTC", 101, 50)
	o.RecordSample("BTC", 99, 40)

	if n := o.Len("BTC"); n != 1 {
		t.Fatalf("expected 1 sample, got %d", n)
	}
	if got := o.Latest("BTC"); got != 101 {
		t.Fatalf("expected 101, got %v", got)
	}
}

func TestOracle_RolloverSnapshotsOpenAndClose(t *testing.T) {
	o, clock := newTestOracle(100)
	start := Boundary(types.TF5M, clock.t.Unix()) // window A
	next := start + 300                           // window B

	clock.t = time.Unix(start+10, 0)
	o.RecordSample("BTC", 100, start-1) // last sample before A opened
	o.RecordSample("BTC", 101, start+10)

	if p, ok := o.Open("BTC", types.TF5M); !ok || p != 100 {
		t.Fatalf("expected open 100 for window A, got %v (ok=%v)", p, ok)
	}

	clock.t = time.Unix(next-2, 0)
	o.RecordSample("BTC", 105, next-2)

	// first sample after the boundary triggers the rollover
	clock.t = time.Unix(next+1, 0)
	o.RecordSample("BTC", 107, next+1)

	closeA, ok := o.Close("BTC", types.TF5M, time.Unix(start, 0))
	if !ok || closeA != 105 {
		t.Fatalf("expected close 105 for window A, got %v (ok=%v)", closeA, ok)
	}
	if p, ok := o.Open("BTC", types.TF5M); !ok || p != 105 {
		t.Fatalf("expected open 105 for window B, got %v", p)
	}
}

func TestOracle_OpenUnavailableUntilBoundaryCovered(t *testing.T) {
	o, clock := newTestOracle(100)
	start := Boundary(types.TF5M, clock.t.Unix())

	clock.t = time.Unix(start+30, 0)
	o.RecordSample("BTC", 100, start+20)

	if _, ok := o.Open("BTC", types.TF5M); ok {
		t.Fatalf("open must be unavailable when no sample precedes the boundary")
	}
}

func TestOracle_CloseFallsBackAfterWindowEnd(t *testing.T) {
	o, clock := newTestOracle(100)
	start := Boundary(types.TF15M, clock.t.Unix())
	end := start + 900

	clock.t = time.Unix(start+5, 0)
	o.RecordSample("BTC", 200, start+5)

	if _, ok := o.Close("BTC", types.TF15M, time.Unix(start, 0)); ok {
		t.Fatalf("close must be unavailable before the window ends")
	}

	o.RecordSample("BTC", 201, end-1)
	o.RecordSample("BTC", 202, end+3)

	if p, ok := o.Close("BTC", types.TF15M, time.Unix(start, 0)); !ok || p != 201 {
		t.Fatalf("expected close 201, got %v (ok=%v)", p, ok)
	}
}

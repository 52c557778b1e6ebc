package risk

import (
	"testing"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

var key15 = types.Key{Instrument: "BTC", Timeframe: types.TF15M}

func TestGuards_MomentumNeedsThreeSamples(t *testing.T) {
	g := NewGuards()
	w := time.Unix(1770000000, 0)

	r := g.Observe(key15, 101, 100, w)
	r = g.Observe(key15, 101, 100, w)
	if r.Consistency != 0 {
		t.Fatalf("expected 0 consistency with 2 samples, got %v", r.Consistency)
	}
	r = g.Observe(key15, 101, 100, w)
	if r.Consistency != 1 {
		t.Fatalf("expected consistency 1, got %v", r.Consistency)
	}

	if ok, _ := Check(Reading{Consistency: 0.3, RangePct: -1}, 0.06); ok {
		t.Fatalf("expected momentum rejection")
	}
}

func TestGuards_MomentumWindowRolls(t *testing.T) {
	g := NewGuards()
	w := time.Unix(1770000000, 0)

	for i := 0; i < 10; i++ {
		g.Observe(key15, 99, 100, w)
	}
	var r Reading
	for i := 0; i < 10; i++ {
		r = g.Observe(key15, 101, 100, w)
	}
	if r.Consistency != 1 || r.Samples != 10 {
		t.Fatalf("expected only the last 10 signs, got %+v", r)
	}
}

func TestGuards_CrossingsResetOnNewWindow(t *testing.T) {
	g := NewGuards()
	w1 := time.Unix(1770000000, 0)
	w2 := w1.Add(15 * time.Minute)

	prices := []float64{101, 99, 101, 99, 101, 99}
	var r Reading
	for _, p := range prices {
		r = g.Observe(key15, p, 100, w1)
	}
	if r.Crossings != 5 {
		t.Fatalf("expected 5 crossings, got %d", r.Crossings)
	}
	if ok, _ := Check(Reading{Consistency: 1, Crossings: r.Crossings, RangePct: -1}, 0.06); ok {
		t.Fatalf("expected crossing rejection")
	}

	r = g.Observe(key15, 101, 100, w2)
	if r.Crossings != 0 {
		t.Fatalf("expected crossings reset, got %d", r.Crossings)
	}
}

func TestGuards_RangeCompression(t *testing.T) {
	g := NewGuards()
	w := time.Unix(1770000000, 0)

	var r Reading
	for i := 0; i < 9; i++ {
		r = g.Observe(key15, 100.01, 100, w)
	}
	if r.RangePct != -1 {
		t.Fatalf("expected -1 range below 10 ticks, got %v", r.RangePct)
	}
	r = g.Observe(key15, 100.02, 100, w)
	if r.RangePct <= 0 || r.RangePct >= 0.8*0.06 {
		t.Fatalf("expected a compressed range, got %v", r.RangePct)
	}
	if ok, reason := Check(r, 0.06); ok {
		t.Fatalf("expected range rejection")
	} else if reason == "" {
		t.Fatalf("expected a reason")
	}

	// flat prices report a zero range, which does not reject
	flat := Reading{Consistency: 1, RangePct: 0}
	if ok, _ := Check(flat, 0.06); !ok {
		t.Fatalf("zero range must not reject")
	}
}

func TestGuards_RangeResetsAfterSixtyTicks(t *testing.T) {
	g := NewGuards()
	w := time.Unix(1770000000, 0)

	g.Observe(key15, 90, 100, w)
	for i := 0; i < 59; i++ {
		g.Observe(key15, 100, 100, w)
	}
	r := g.Observe(key15, 100, 100, w) // 61st tick starts a new tracker
	if r.RangePct != -1 {
		t.Fatalf("expected fresh tracker after reset, got %v", r.RangePct)
	}
}

func TestGuards_KeysIndependent(t *testing.T) {
	g := NewGuards()
	w := time.Unix(1770000000, 0)
	other := types.Key{Instrument: "ETH", Timeframe: types.TF15M}

	for i := 0; i < 3; i++ {
		g.Observe(key15, 101, 100, w)
	}
	if r := g.Reading(other); r.Samples != 0 {
		t.Fatalf("expected untouched key, got %+v", r)
	}
}

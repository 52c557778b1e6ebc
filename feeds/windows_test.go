package feeds

import (
	"testing"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

var btc = types.Instrument{Label: "BTC", BinanceSymbol: "btcusdt", ChainlinkSymbol: "btc/usd", HourlySlug: "bitcoin", MinMovePct: 0.06}

func TestBoundary_Aligns(t *testing.T) {
	cases := []struct {
		tf   types.Timeframe
		in   int64
		want int64
	}{
		{types.TF5M, 1771122123, 1771122000},
		{types.TF15M, 1770942700, 1770942600},
		{types.TF1H, 1770942700, 1770940800},
		{types.TF5M, 1771122000, 1771122000},
	}
	for _, c := range cases {
		if got := Boundary(c.tf, c.in); got != c.want {
			t.Fatalf("%s boundary of %d: expected %d, got %d", c.tf, c.in, c.want, got)
		}
	}
}

func TestCandlePosition(t *testing.T) {
	start := time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		tf     types.Timeframe
		offset time.Duration
		want   int
	}{
		{types.TF5M, 10 * time.Second, PositionOpening},
		{types.TF5M, 60 * time.Second, PositionEarly},
		{types.TF5M, 150 * time.Second, PositionMid},
		{types.TF5M, 240 * time.Second, PositionLate},
		{types.TF5M, 270 * time.Second, PositionClosing},
		{types.TF15M, 90 * time.Second, PositionOpening},
		{types.TF15M, 7 * time.Minute, PositionMid},
		{types.TF1H, 30 * time.Minute, PositionMid},
		{types.TF1H, 58 * time.Minute, PositionClosing},
	}
	for _, c := range cases {
		if got := CandlePosition(c.tf, start.Add(c.offset)); got != c.want {
			t.Fatalf("%s at +%v: expected %d, got %d", c.tf, c.offset, c.want, got)
		}
	}
}

func TestSlug(t *testing.T) {
	// 2026-02-12 09:07:30 UTC = 04:07:30 EST
	at := time.Date(2026, 2, 12, 9, 7, 30, 0, time.UTC)

	if got, want := Slug(btc, types.TF5M, at), "btc-updown-5m-1770887100"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got, want := Slug(btc, types.TF15M, at), "btc-updown-15m-1770886800"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got, want := Slug(btc, types.TF1H, at), "bitcoin-up-or-down-february-12-4am-et"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}

	// midnight and noon Eastern use 12
	midnight := time.Date(2026, 2, 12, 5, 30, 0, 0, time.UTC)
	if got, want := Slug(btc, types.TF1H, midnight), "bitcoin-up-or-down-february-12-12am-et"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	noon := time.Date(2026, 2, 12, 17, 30, 0, 0, time.UTC)
	if got, want := Slug(btc, types.TF1H, noon), "bitcoin-up-or-down-february-12-12pm-et"; got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

package core

import (
	"context"
	"testing"
	"time"

	"github.com/web3guy0/gapscanner/types"
)

func TestSpikeDetector_FiresAndDebounces(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.market(100.30, 0.55, 0.47)
	d := NewSpikeDetector(h.scanner, nil)

	spike := types.Spike{Instrument: "BTC", From: 99.80, To: 100.30, ChangePct: 0.5, DurationMs: 4000, At: testNow}
	if got := d.Handle(context.Background(), spike); got != OutcomeFired {
		t.Fatalf("expected fired, got %s", got)
	}
	h.scanner.Wait()

	w := h.ledger.Pending()[0]
	if w.Source != types.SourceSpike || w.Direction != types.Up || w.Timeframe != types.TF15M {
		t.Fatalf("expected 15M UP spike wager, got %s %s %s", w.Timeframe, w.Direction, w.Source)
	}
	if w.Probability != 0.72 {
		t.Fatalf("expected spike probability 0.72, got %v", w.Probability)
	}

	again := spike
	again.At = testNow.Add(10 * time.Second)
	if got := d.Handle(context.Background(), again); got != OutcomeDebounced {
		t.Fatalf("expected debounce, got %s", got)
	}
}

func TestSpikeDetector_SmallGapIgnored(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.market(100.30, 0.60, 0.42)
	d := NewSpikeDetector(h.scanner, nil)

	// 0.66 - 0.60 < 0.10
	spike := types.Spike{Instrument: "BTC", ChangePct: 0.4, At: testNow}
	if got := d.Handle(context.Background(), spike); got != OutcomeGap {
		t.Fatalf("expected gap rejection, got %s", got)
	}
	if len(h.ledger.Pending()) != 0 {
		t.Fatalf("expected no wager")
	}
}

func TestSpikeDetector_FallsBackToHourlyQuote(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	d := NewSpikeDetector(h.scanner, nil)

	// no 15M quote, no 1H open: the 1H quote is found but there is no reference
	hourly := types.Key{Instrument: "BTC", Timeframe: types.TF1H}
	h.odds.Put(hourly, types.Quote{
		Up: 0.40, Down: 0.62, Available: true,
		WindowStart: testWindow, FetchedAt: testNow,
	})
	spike := types.Spike{Instrument: "BTC", ChangePct: -0.8, At: testNow}
	if got := d.Handle(context.Background(), spike); got != OutcomeNoOpen {
		t.Fatalf("expected the 1H key to be tried, got %s", got)
	}
}

func TestSpikeDetector_UnknownInstrument(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	d := NewSpikeDetector(h.scanner, nil)
	if got := d.Handle(context.Background(), types.Spike{Instrument: "DOGE", ChangePct: 1, At: testNow}); got != OutcomeUnknown {
		t.Fatalf("expected unknown instrument, got %s", got)
	}
}

func TestSpikeDetector_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	ch := make(chan types.Spike)
	d := NewSpikeDetector(h.scanner, ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

package core

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/risk"
	"github.com/web3guy0/gapscanner/types"
)

func TestScanner_FiresOnGap(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected fired, got %s", got)
	}
	h.scanner.Wait()

	pending := h.ledger.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending wager, got %d", len(pending))
	}
	w := pending[0]
	if w.Direction != types.Up || w.Source != types.SourceScan {
		t.Fatalf("expected UP scan wager, got %s %s", w.Direction, w.Source)
	}
	// 0.61 base + 0.03 timeframe + 0.03 time-in-window + 0.04 momentum
	if math.Abs(w.Probability-0.71) > 1e-9 {
		t.Fatalf("expected p=0.71, got %v", w.Probability)
	}
	if w.EV <= risk.AdaptiveThreshold(risk.WinRate{}) {
		t.Fatalf("expected ev above threshold, got %v", w.EV)
	}
	lo, hi := decimal.NewFromInt(1), decimal.NewFromInt(6) // 2%..12% of 50
	if w.Amount.LessThan(lo) || w.Amount.GreaterThan(hi) {
		t.Fatalf("bet %s outside [%s, %s]", w.Amount, lo, hi)
	}
	if w.OpenPrice != 100 || !w.WindowStart.Equal(testWindow) {
		t.Fatalf("expected open 100 at %s, got %v at %s", testWindow, w.OpenPrice, w.WindowStart)
	}
	if !h.bankroll.Balance().Equal(decimal.NewFromInt(50).Sub(w.Amount)) {
		t.Fatalf("expected bankroll debited, got %s", h.bankroll.Balance())
	}
	if h.exec.count() != 1 || h.exec.orders[0].TokenID != "up-token" {
		t.Fatalf("expected one order on the up token, got %+v", h.exec.orders)
	}
	if got, _ := h.ledger.Get(w.ID); got.OrderID != "order-"+w.ID {
		t.Fatalf("expected order id recorded, got %q", got.OrderID)
	}
	if len(h.store.created) != 1 {
		t.Fatalf("expected wager persisted once, got %d", len(h.store.created))
	}
	if st := h.scanner.State(testKey); st != StateCooldown {
		t.Fatalf("expected cooldown, got %s", st)
	}
	if got := h.scan(); got != OutcomeCooldown {
		t.Fatalf("expected cooldown skip, got %s", got)
	}
}

func TestScanner_RejectsSmallMove(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.seedMomentum(100.03)
	h.market(100.03, 0.45, 0.57)

	if got := h.scan(); got != OutcomeMinMove {
		t.Fatalf("expected min move rejection, got %s", got)
	}
	if len(h.ledger.Pending()) != 0 {
		t.Fatalf("expected no wager")
	}
}

func TestScanner_GuardsRejectChop(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	for i := 0; i < 6; i++ {
		p := 100.30
		if i%2 == 0 {
			p = 99.70
		}
		h.guards.Observe(testKey, p, 100, testWindow)
	}
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeGuards {
		t.Fatalf("expected guard rejection, got %s", got)
	}
}

func TestScanner_NoTradeWithoutQuote(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)
	h.clock.set(testNow.Add(30 * time.Second)) // quote now stale

	if got := h.scan(); got != OutcomeNoQuote {
		t.Fatalf("expected stale quote rejection, got %s", got)
	}
}

func TestScanner_StreakBuildsBeforeFiring(t *testing.T) {
	h := newHarness(t, ScannerConfig{MinStreak: 2}, nil)
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeStreak {
		t.Fatalf("expected streak building, got %s", got)
	}
	if st := h.scanner.State(testKey); st != StateStreakBuilding {
		t.Fatalf("expected streak state, got %s", st)
	}
	h.clock.set(testNow.Add(time.Second))
	h.market(100.30, 0.55, 0.47)
	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected fired on second tick, got %s", got)
	}
	h.scanner.Wait()
}

func TestScanner_ConcurrentFireCreatesOneWager(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	sig := Signal{
		Key:         testKey,
		Direction:   types.Up,
		Source:      types.SourceScan,
		Probability: 0.71,
		Quoted:      0.55,
		OpenPrice:   100,
		EntryPrice:  100.30,
		At:          testNow,
	}
	d := risk.NewEVEngine().Calculate(0.71, 0.55, types.Up, risk.WinRate{})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = h.scanner.fire(context.Background(), sig, d)
		}()
	}
	wg.Wait()
	h.scanner.Wait()

	if n := len(h.ledger.Pending()); n != 1 {
		t.Fatalf("expected exactly 1 pending wager, got %d", n)
	}
	if h.exec.count() != 1 {
		t.Fatalf("expected exactly 1 order, got %d", h.exec.count())
	}
}

func TestScanner_ScanAndSpikeRaceCreatesOneWager(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)
	spikes := NewSpikeDetector(h.scanner, nil)
	spike := types.Spike{Instrument: "BTC", From: 99.8, To: 100.30, ChangePct: 0.5, At: testNow}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); h.scan() }()
	go func() { defer wg.Done(); spikes.Handle(context.Background(), spike) }()
	wg.Wait()
	h.scanner.Wait()

	if n := len(h.ledger.Pending()); n != 1 {
		t.Fatalf("expected exactly 1 pending wager, got %d", n)
	}
}

func TestScanner_CircuitBreakerSuppressesThenResumes(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	for i := 0; i < 3; i++ {
		w := h.ledger.Open(types.Wager{Instrument: "BTC", Timeframe: types.TF5M, Direction: types.Up})
		at := testNow.Add(-time.Duration(3-i) * time.Minute)
		if _, err := h.ledger.Resolve(w.ID, types.Lose, 99, decimal.NewFromInt(-1), at); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	h.scanner.EvaluateCircuits(testNow)
	if got := h.scan(); got != OutcomeSuspended {
		t.Fatalf("expected suspended, got %s", got)
	}

	later := testNow.Add(5*time.Minute + time.Second)
	h.clock.set(later)
	h.market(100.30, 0.55, 0.47)
	h.scanner.EvaluateCircuits(later)
	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected scanning to resume and fire, got %s", got)
	}
	h.scanner.Wait()
}

func TestScanner_AdvisorErrorProceeds(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, fakeAdvisor{err: errors.New("timeout")})
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected advisor error to proceed, got %s", got)
	}
	h.scanner.Wait()
}

func TestScanner_AdvisorVeto(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, fakeAdvisor{verdict: Verdict{Proceed: false, Reason: "news"}})
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeFireFailed {
		t.Fatalf("expected veto, got %s", got)
	}
	if len(h.ledger.Pending()) != 0 {
		t.Fatalf("expected no wager after veto")
	}
	if st := h.scanner.State(testKey); st == StateCooldown {
		t.Fatalf("veto must not start a cooldown")
	}
}

func TestScanner_OrderFailureKeepsWager(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.exec.err = errors.New("clob down")
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected fired, got %s", got)
	}
	h.scanner.Wait()
	if n := len(h.ledger.Pending()); n != 1 {
		t.Fatalf("expected wager kept after order failure, got %d", n)
	}
}

func TestScanner_LowBalance(t *testing.T) {
	h := newHarness(t, ScannerConfig{MinBalance: decimal.NewFromInt(1)}, nil)
	h.bankroll.Set(decimal.NewFromFloat(0.5))
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if got := h.scan(); got != OutcomeFireFailed {
		t.Fatalf("expected low balance rejection, got %s", got)
	}
}

func TestScanner_OperatorSuspendAndUnsuspend(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	if _, err := h.scanner.Suspend("DOGE", time.Hour); !errors.Is(err, ErrUnknownInstrument) {
		t.Fatalf("expected ErrUnknownInstrument, got %v", err)
	}

	until, err := h.scanner.Suspend("btc", 30*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !until.Equal(testNow.Add(30 * time.Minute)) {
		t.Fatalf("expected until %s, got %s", testNow.Add(30*time.Minute), until)
	}
	if got := h.scan(); got != OutcomeSuspended {
		t.Fatalf("expected suspended, got %s", got)
	}
	if st := h.scanner.Status(); st[0].SuspendedUntil.IsZero() {
		t.Fatalf("expected status to show the suspension")
	}

	if err := h.scanner.Unsuspend("BTC"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected fired after unsuspend, got %s", got)
	}
	h.scanner.Wait()
}

func TestScanner_PauseAndResume(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.seedMomentum(100.30)
	h.market(100.30, 0.55, 0.47)

	h.scanner.Pause()
	if got := h.scan(); got != OutcomePaused {
		t.Fatalf("expected paused, got %s", got)
	}
	h.scanner.Resume()
	if got := h.scan(); got != OutcomeFired {
		t.Fatalf("expected fired after resume, got %s", got)
	}
	h.scanner.Wait()
}

func TestScanner_ReverseMode(t *testing.T) {
	for _, enabled := range []bool{false, true} {
		h := newHarness(t, ScannerConfig{ReverseEnabled: enabled}, nil)
		h.seedMomentum(100.12)

		var last string
		for i := 0; i < reverseMinStreak; i++ {
			h.clock.set(testNow.Add(time.Duration(i) * time.Second))
			h.market(100.12, 0.80, 0.22)
			last = h.scan()
			if i < reverseMinStreak-1 && last != OutcomeGap {
				t.Fatalf("reverse=%v tick %d: expected forward gap rejection, got %s", enabled, i, last)
			}
		}
		h.scanner.Wait()

		if !enabled {
			if last != OutcomeGap || len(h.ledger.Pending()) != 0 {
				t.Fatalf("expected no reverse trade when disabled, got %s", last)
			}
			continue
		}
		if last != OutcomeFired {
			t.Fatalf("expected reverse fire on tick %d, got %s", reverseMinStreak, last)
		}
		w := h.ledger.Pending()[0]
		if w.Direction != types.Down || w.Source != types.SourceReverse {
			t.Fatalf("expected DOWN reverse wager, got %s %s", w.Direction, w.Source)
		}
		if w.TokenID != "down-token" {
			t.Fatalf("expected down token, got %s", w.TokenID)
		}
	}
}

func TestScanner_ScanAllContainsPanics(t *testing.T) {
	h := newHarness(t, ScannerConfig{}, nil)
	h.scanner.prices = nil // every scan panics on the nil source
	h.scanner.ScanAll(context.Background())
}

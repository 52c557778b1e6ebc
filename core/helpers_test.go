package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/feeds"
	"github.com/web3guy0/gapscanner/risk"
	"github.com/web3guy0/gapscanner/types"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fakeExecutor struct {
	mu     sync.Mutex
	orders []types.Order
	err    error
}

func (f *fakeExecutor) PlaceOrder(ctx context.Context, o types.Order) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.orders = append(f.orders, o)
	return "order-" + o.WagerID, nil
}

func (f *fakeExecutor) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type fakeAdvisor struct {
	verdict Verdict
	err     error
}

func (f fakeAdvisor) Review(ctx context.Context, sig Signal) (Verdict, error) {
	return f.verdict, f.err
}

type memoryStore struct {
	mu      sync.Mutex
	created []types.Wager
	updated []types.Wager
	pending []types.Wager
	recent  []types.Wager
	failAll bool
}

func (m *memoryStore) CreateWager(w types.Wager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("db down")
	}
	m.created = append(m.created, w)
	return nil
}

func (m *memoryStore) UpdateWager(w types.Wager) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return errors.New("db down")
	}
	m.updated = append(m.updated, w)
	return nil
}

func (m *memoryStore) PendingWagers() ([]types.Wager, error) {
	return m.pending, nil
}

func (m *memoryStore) RecentWagers(limit int) ([]types.Wager, error) {
	return m.recent, nil
}

var (
	testWindow = time.Date(2026, 2, 12, 9, 0, 0, 0, time.UTC) // 15M window start
	testNow    = testWindow.Add(7*time.Minute + 30*time.Second)
	testInst   = types.Instrument{Label: "BTC", BinanceSymbol: "btcusdt", MinMovePct: 0.06}
	testKey    = types.Key{Instrument: "BTC", Timeframe: types.TF15M}
)

type harness struct {
	clock    *testClock
	prices   *feeds.PriceStream
	oracle   *feeds.BoundaryPriceOracle
	odds     *feeds.OddsCache
	guards   *risk.Guards
	breaker  *risk.CircuitBreaker
	ledger   *Ledger
	bankroll *Bankroll
	exec     *fakeExecutor
	store    *memoryStore
	scanner  *Scanner
}

// newHarness builds a scanner over BTC 15M whose window opened at 100
func newHarness(t *testing.T, cfg ScannerConfig, advisor Advisor) *harness {
	t.Helper()
	h := &harness{
		clock:    &testClock{t: testNow},
		prices:   feeds.NewPriceStream([]string{"BTC"}),
		oracle:   feeds.NewBoundaryPriceOracle("chainlink", []string{"BTC"}, []types.Timeframe{types.TF15M}, 100),
		guards:   risk.NewGuards(),
		breaker:  risk.NewCircuitBreaker(3, 5*time.Minute),
		bankroll: NewBankroll(decimal.NewFromInt(50)),
		exec:     &fakeExecutor{},
		store:    &memoryStore{},
	}
	h.oracle.SetClock(h.clock.now)
	h.oracle.RecordSample("BTC", 100, testWindow.Unix()-1)

	h.odds = feeds.NewOddsCache(nil, []types.Instrument{testInst}, []types.Timeframe{types.TF15M, types.TF1H}, feeds.OddsCacheConfig{})
	h.odds.SetClock(h.clock.now)

	h.ledger = NewLedger(h.store)
	h.ledger.SetClock(h.clock.now)

	h.scanner = NewScanner([]types.Instrument{testInst}, []types.Timeframe{types.TF15M}, Components{
		Prices:   h.prices,
		Quotes:   h.odds,
		Refs:     NewReferences(h.oracle, nil, nil, []types.Instrument{testInst}),
		Guards:   h.guards,
		Breaker:  h.breaker,
		Ledger:   h.ledger,
		Bankroll: h.bankroll,
		Advisor:  advisor,
		Executor: h.exec,
	}, cfg)
	h.scanner.SetClock(h.clock.now)
	return h
}

// market sets the trade price and a fresh quote at the clock's time
func (h *harness) market(price, up, down float64) {
	now := h.clock.now()
	h.prices.Update("BTC", price, now)
	h.odds.Put(testKey, types.Quote{
		Up:          up,
		Down:        down,
		MarketID:    "m-1",
		UpTokenID:   "up-token",
		DownTokenID: "down-token",
		Available:   true,
		WindowStart: feeds.WindowStart(types.TF15M, now),
		FetchedAt:   now,
	})
}

// seedMomentum leaves 9 samples (1 down, 8 up) so the next scan reads 0.8
func (h *harness) seedMomentum(up float64) {
	h.guards.Observe(testKey, 99.95, 100, testWindow)
	for i := 0; i < 8; i++ {
		h.guards.Observe(testKey, up, 100, testWindow)
	}
}

func (h *harness) scan() string {
	return h.scanner.scanKey(context.Background(), testInst, types.TF15M, h.clock.now())
}

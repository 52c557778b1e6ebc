package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/feeds"
	"github.com/web3guy0/gapscanner/metrics"
	"github.com/web3guy0/gapscanner/risk"
	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SCANNER - Central orchestrator
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow, per instrument×timeframe every scan tick:
//   Suspension → Cooldown → Price → Open → Guards → Min move → Quote
//     → Probability → Gap → EV → Streak → Fire
//
// Fire = advisor → Limiter.Acquire(bankroll debit + ledger open) → async
// execution, persistence and notification.
//
// ═══════════════════════════════════════════════════════════════════════════════

// State of one instrument×timeframe
type State string

const (
	StateIdle           State = "IDLE"
	StateStreakBuilding State = "STREAK_BUILDING"
	StateFired          State = "FIRED"
	StateCooldown       State = "COOLDOWN"
)

// Scan outcomes, also used as the rejection metric label
const (
	OutcomePaused     = "paused"
	OutcomeSuspended  = "suspended"
	OutcomeCooldown   = "cooldown"
	OutcomeNoPrice    = "no_price"
	OutcomeNoOpen     = "no_open"
	OutcomeMinMove    = "min_move"
	OutcomeGuards     = "guards"
	OutcomeNoQuote    = "no_quote"
	OutcomeGap        = "gap"
	OutcomeEV         = "ev"
	OutcomeStreak     = "streak"
	OutcomeFireFailed = "fire_failed"
	OutcomeFired      = "fired"
)

var (
	ErrLowBalance = errors.New("balance below minimum")
	ErrNoEdge     = errors.New("bet size is zero")
	ErrVetoed     = errors.New("vetoed by advisor")
)

const (
	reverseMinForwardOdds = 0.68
	reverseOddsVelocity   = 0.02 // per second
	reverseRelief         = 0.02
	reverseMinStreak      = 4
	winRateWindow         = 20
	circuitHistory        = 10
	orderTimeout          = 15 * time.Second
)

// PriceSource is the live trade price (PriceStream)
type PriceSource interface {
	Price(instrument string) float64
	Velocity(instrument string) float64
}

// QuoteBook returns tradeable quotes (OddsCache)
type QuoteBook interface {
	Lookup(key types.Key, now time.Time) (types.Quote, bool)
}

// ReferenceSource returns the open of the window in progress
type ReferenceSource interface {
	Open(ctx context.Context, key types.Key, now time.Time) (float64, bool)
}

// ScannerConfig tunes the scan loop
type ScannerConfig struct {
	Interval        time.Duration
	CircuitInterval time.Duration
	WinRateInterval time.Duration
	AdvisorTimeout  time.Duration
	MinBalance      decimal.Decimal
	MinBet          decimal.Decimal
	MinStreak       int
	ReverseEnabled  bool
}

// DefaultScannerConfig returns the production cadence and limits
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Interval:        time.Second,
		CircuitInterval: 30 * time.Second,
		WinRateInterval: time.Minute,
		AdvisorTimeout:  3 * time.Second,
		MinBalance:      decimal.NewFromInt(1),
		MinBet:          decimal.NewFromInt(1),
		MinStreak:       1,
	}
}

// Components are the scanner's collaborators. Prices, Quotes, Refs, Ledger
// and Bankroll are required; the rest default.
type Components struct {
	Prices   PriceSource
	Quotes   QuoteBook
	Refs     ReferenceSource
	Guards   *risk.Guards
	EV       *risk.EVEngine
	Limiter  *risk.Limiter
	Breaker  *risk.CircuitBreaker
	Ledger   *Ledger
	Bankroll *Bankroll
	Advisor  Advisor
	Executor Executor
	Notifier Notifier
	Metrics  *metrics.Metrics
}

type oddsSample struct {
	price float64
	at    time.Time
}

// Scanner evaluates every instrument×timeframe once per tick
type Scanner struct {
	instruments []types.Instrument
	timeframes  []types.Timeframe
	cfg         ScannerConfig

	prices   PriceSource
	quotes   QuoteBook
	refs     ReferenceSource
	guards   *risk.Guards
	ev       *risk.EVEngine
	limiter  *risk.Limiter
	breaker  *risk.CircuitBreaker
	ledger   *Ledger
	bankroll *Bankroll
	advisor  Advisor
	executor Executor
	notifier Notifier
	metrics  *metrics.Metrics

	streaks *streakBook
	winRate atomic.Pointer[risk.WinRate]
	paused  atomic.Bool

	oddsMu   sync.Mutex
	lastOdds map[types.Key]oddsSample

	now      func() time.Time
	inflight sync.WaitGroup
}

// NewScanner creates a scanner over the given instruments and timeframes
func NewScanner(instruments []types.Instrument, timeframes []types.Timeframe, c Components, cfg ScannerConfig) *Scanner {
	def := DefaultScannerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.CircuitInterval <= 0 {
		cfg.CircuitInterval = def.CircuitInterval
	}
	if cfg.WinRateInterval <= 0 {
		cfg.WinRateInterval = def.WinRateInterval
	}
	if cfg.AdvisorTimeout <= 0 {
		cfg.AdvisorTimeout = def.AdvisorTimeout
	}
	if cfg.MinStreak < 1 {
		cfg.MinStreak = 1
	}

	s := &Scanner{
		instruments: instruments,
		timeframes:  timeframes,
		cfg:         cfg,
		prices:      c.Prices,
		quotes:      c.Quotes,
		refs:        c.Refs,
		guards:      c.Guards,
		ev:          c.EV,
		limiter:     c.Limiter,
		breaker:     c.Breaker,
		ledger:      c.Ledger,
		bankroll:    c.Bankroll,
		advisor:     c.Advisor,
		executor:    c.Executor,
		notifier:    c.Notifier,
		metrics:     c.Metrics,
		streaks:     newStreakBook(),
		lastOdds:    make(map[types.Key]oddsSample),
		now:         time.Now,
	}
	if s.guards == nil {
		s.guards = risk.NewGuards()
	}
	if s.ev == nil {
		s.ev = risk.NewEVEngine()
	}
	if s.limiter == nil {
		s.limiter = risk.NewLimiter(nil)
	}
	if s.breaker == nil {
		s.breaker = risk.NewCircuitBreaker(3, 5*time.Minute)
	}
	if s.advisor == nil {
		s.advisor = ProceedAdvisor{}
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	s.winRate.Store(&risk.WinRate{})

	s.breaker.OnTrip(func(instrument string, until time.Time, reason string) {
		for _, tf := range s.timeframes {
			key := types.Key{Instrument: instrument, Timeframe: tf}
			s.streaks.clear(key, streakForward)
			s.streaks.clear(key, streakReverse)
		}
		s.metrics.CircuitTrip(instrument)
		s.notifier.NotifyCircuitTrip(instrument, until, reason)
	})
	return s
}

// SetClock overrides the wall clock
func (s *Scanner) SetClock(now func() time.Time) {
	s.now = now
}

// Run drives the scan, circuit and win-rate loops until ctx is cancelled
func (s *Scanner) Run(ctx context.Context) error {
	s.RefreshWinRate()

	scanTicker := time.NewTicker(s.cfg.Interval)
	defer scanTicker.Stop()
	circuitTicker := time.NewTicker(s.cfg.CircuitInterval)
	defer circuitTicker.Stop()
	winRateTicker := time.NewTicker(s.cfg.WinRateInterval)
	defer winRateTicker.Stop()

	log.Info().
		Int("instruments", len(s.instruments)).
		Int("timeframes", len(s.timeframes)).
		Dur("interval", s.cfg.Interval).
		Bool("reverse", s.cfg.ReverseEnabled).
		Msg("⚡ Scanner started")

	for {
		select {
		case <-ctx.Done():
			s.Wait()
			log.Info().Msg("Scanner stopped")
			return nil
		case <-scanTicker.C:
			s.ScanAll(ctx)
		case <-circuitTicker.C:
			s.EvaluateCircuits(s.now())
		case <-winRateTicker.C:
			s.RefreshWinRate()
		}
	}
}

// Wait blocks until background executions have finished
func (s *Scanner) Wait() {
	s.inflight.Wait()
}

// ScanAll evaluates every key once. A failing key never stops the others.
func (s *Scanner) ScanAll(ctx context.Context) {
	now := s.now()
	for _, inst := range s.instruments {
		for _, tf := range s.timeframes {
			s.scanSafe(ctx, inst, tf, now)
		}
	}
}

func (s *Scanner) scanSafe(ctx context.Context, inst types.Instrument, tf types.Timeframe, now time.Time) {
	key := types.Key{Instrument: inst.Label, Timeframe: tf}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("key", key.String()).Interface("panic", r).Msg("Scan panicked")
		}
	}()

	start := time.Now()
	outcome := s.scanKey(ctx, inst, tf, now)
	s.metrics.ObserveDecision(time.Since(start))
	if outcome != OutcomeFired {
		s.metrics.Rejected(key, outcome)
	}
}

// scanKey runs the full decision pipeline for one key and reports how it ended
func (s *Scanner) scanKey(ctx context.Context, inst types.Instrument, tf types.Timeframe, now time.Time) string {
	key := types.Key{Instrument: inst.Label, Timeframe: tf}

	if s.paused.Load() {
		return OutcomePaused
	}
	if s.breaker.Suspended(inst.Label, now) {
		s.clearStreaks(key)
		return OutcomeSuspended
	}
	if err := s.limiter.Blocked(key, now); err != nil {
		return OutcomeCooldown
	}

	current := s.prices.Price(inst.Label)
	if current <= 0 || math.IsNaN(current) {
		return OutcomeNoPrice
	}
	open, ok := s.refs.Open(ctx, key, now)
	if !ok || open <= 0 {
		return OutcomeNoOpen
	}
	displacement := (current - open) / open * 100

	reading := s.guards.Observe(key, current, open, feeds.WindowStart(tf, now))

	minMove := inst.MinMove(tf)
	if math.Abs(displacement) < minMove {
		s.clearStreaks(key)
		return OutcomeMinMove
	}
	if pass, reason := risk.Check(reading, minMove); !pass {
		s.clearStreaks(key)
		log.Debug().Str("key", key.String()).Str("reason", reason).Msg("Guard rejected")
		return OutcomeGuards
	}

	quote, ok := s.quotes.Lookup(key, now)
	if !ok {
		return OutcomeNoQuote
	}

	dir := types.DirectionOf(displacement)
	p := s.ev.EstimateProbability(risk.ProbabilityInput{
		DisplacementPct: displacement,
		Timeframe:       tf,
		Velocity:        s.prices.Velocity(inst.Label),
		Momentum:        reading.Consistency,
		Elapsed:         feeds.Elapsed(tf, now),
	})
	wr := s.WinRate()
	position := feeds.CandlePosition(tf, now)
	fwdOdds := quote.PriceFor(dir)
	oddsVelocity := s.trackOdds(key, fwdOdds, now)

	base := Signal{
		Key:             key,
		DisplacementPct: displacement,
		OpenPrice:       open,
		EntryPrice:      current,
		Quote:           quote,
		At:              now,
	}

	outcome := s.checkForward(ctx, base, dir, p, fwdOdds, position, wr)
	if outcome == OutcomeFired {
		s.streaks.clear(key, streakReverse)
		return outcome
	}

	if !s.cfg.ReverseEnabled {
		s.streaks.clear(key, streakReverse)
		return outcome
	}
	if rev := s.checkReverse(ctx, base, dir, p, fwdOdds, oddsVelocity, position, wr); rev == OutcomeFired {
		return rev
	}
	return outcome
}

func (s *Scanner) checkForward(ctx context.Context, sig Signal, dir types.Direction, p, quoted float64, position int, wr risk.WinRate) string {
	key := sig.Key
	gap := p - quoted
	minGap := risk.AdaptiveGap(risk.ForwardGapBase, wr)
	if gap < minGap || position < feeds.PositionEarly || position > feeds.PositionLate {
		s.streaks.clear(key, streakForward)
		return OutcomeGap
	}

	d := s.ev.Calculate(p, quoted, dir, wr)
	if !d.Fire() {
		s.streaks.clear(key, streakForward)
		return OutcomeEV
	}

	streak := s.streaks.observe(key, streakForward, dir, gap, sig.At)
	if streak.Count < s.cfg.MinStreak {
		log.Debug().Str("key", key.String()).Int("streak", streak.Count).Float64("avg_gap", streak.AvgGap).Msg("🔥 Streak building")
		return OutcomeStreak
	}
	s.streaks.clear(key, streakForward)

	sig.Direction = dir
	sig.Source = types.SourceScan
	sig.Probability = p
	sig.Quoted = quoted
	sig.Gap = gap
	sig.EV = d.EV
	if err := s.fire(ctx, sig, d); err != nil {
		log.Debug().Err(err).Str("key", key.String()).Msg("Fire rejected")
		return OutcomeFireFailed
	}
	return OutcomeFired
}

// checkReverse bets against an overreaction: the displacement side is priced
// far above our estimate, so the cheap opposite side carries the edge.
func (s *Scanner) checkReverse(ctx context.Context, sig Signal, dir types.Direction, p, fwdOdds, oddsVelocity float64, position int, wr risk.WinRate) string {
	key := sig.Key
	revDir := dir.Opposite()
	revP := 1 - p
	revOdds := sig.Quote.PriceFor(revDir)
	revGap := revP - revOdds

	threshold := risk.AdaptiveGap(risk.ReverseGapBase, wr)
	if math.Abs(oddsVelocity) >= reverseOddsVelocity {
		threshold -= reverseRelief
	}
	if fwdOdds < reverseMinForwardOdds || revGap < threshold ||
		position < feeds.PositionMid || position > feeds.PositionLate {
		s.streaks.clear(key, streakReverse)
		return OutcomeGap
	}

	d := s.ev.CalculateReverse(revP, revOdds, revDir, wr)
	if !d.Fire() {
		s.streaks.clear(key, streakReverse)
		return OutcomeEV
	}

	streak := s.streaks.observe(key, streakReverse, revDir, revGap, sig.At)
	if streak.Count < reverseMinStreak {
		log.Debug().Str("key", key.String()).Int("streak", streak.Count).Float64("avg_gap", streak.AvgGap).Msg("🔄 Reverse streak building")
		return OutcomeStreak
	}
	s.streaks.clear(key, streakReverse)

	sig.Direction = revDir
	sig.Source = types.SourceReverse
	sig.Probability = revP
	sig.Quoted = revOdds
	sig.Gap = revGap
	sig.EV = d.EV
	if err := s.fire(ctx, sig, d); err != nil {
		log.Debug().Err(err).Str("key", key.String()).Msg("Reverse fire rejected")
		return OutcomeFireFailed
	}
	return OutcomeFired
}

// trackOdds returns the change per second of the quoted price since the last scan
func (s *Scanner) trackOdds(key types.Key, price float64, now time.Time) float64 {
	s.oddsMu.Lock()
	defer s.oddsMu.Unlock()
	prev, ok := s.lastOdds[key]
	s.lastOdds[key] = oddsSample{price: price, at: now}
	if !ok {
		return 0
	}
	dt := now.Sub(prev.at).Seconds()
	if dt <= 0 {
		return 0
	}
	return (price - prev.price) / dt
}

func (s *Scanner) clearStreaks(key types.Key) {
	s.streaks.clear(key, streakForward)
	s.streaks.clear(key, streakReverse)
}

// ═══════════════════════════════════════════════════════════════════════════════
// FIRE
// ═══════════════════════════════════════════════════════════════════════════════

// fire sizes, reviews and opens a wager. Cooldown registration, bankroll debit
// and ledger entry happen under the key's limiter lock.
func (s *Scanner) fire(ctx context.Context, sig Signal, d risk.Decision) error {
	balance := s.bankroll.Balance()
	if balance.LessThan(s.cfg.MinBalance) {
		return ErrLowBalance
	}

	var bet decimal.Decimal
	if sig.Source == types.SourceReverse {
		bet = risk.ReverseBetSize(balance, d.EV, d.Quoted)
	} else {
		bet = risk.BetSize(balance, d.EV, d.Quoted)
	}
	if !bet.IsPositive() {
		return ErrNoEdge
	}
	if bet.LessThan(s.cfg.MinBet) {
		bet = s.cfg.MinBet
	}
	if bet.GreaterThan(balance) {
		bet = balance
	}

	if v := s.review(ctx, sig); !v.Proceed {
		log.Info().Str("key", sig.Key.String()).Str("reason", v.Reason).Msg("🛑 Advisor vetoed")
		return ErrVetoed
	}

	var wager types.Wager
	err := s.limiter.Acquire(ctx, sig.Key, sig.At, func() error {
		if err := s.bankroll.Debit(bet); err != nil {
			return err
		}
		wager = s.ledger.Open(types.Wager{
			Instrument:  sig.Key.Instrument,
			Timeframe:   sig.Key.Timeframe,
			Direction:   sig.Direction,
			Source:      sig.Source,
			Amount:      bet,
			OpenPrice:   sig.OpenPrice,
			EntryPrice:  sig.EntryPrice,
			Quoted:      sig.Quoted,
			Probability: sig.Probability,
			EV:          sig.EV,
			MarketID:    sig.Quote.MarketID,
			TokenID:     sig.Quote.TokenFor(sig.Direction),
			WindowStart: feeds.WindowStart(sig.Key.Timeframe, sig.At),
			CreatedAt:   sig.At,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("acquire %s: %w", sig.Key, err)
	}

	log.Info().
		Str("asset", sig.Key.Instrument).
		Str("tf", string(sig.Key.Timeframe)).
		Str("side", string(sig.Direction)).
		Str("source", string(sig.Source)).
		Float64("disp_pct", sig.DisplacementPct).
		Float64("prob", sig.Probability).
		Float64("odds", sig.Quoted).
		Float64("ev", sig.EV).
		Str("size", "$"+bet.StringFixed(2)).
		Msg("🎯 GAP FIRED")

	s.metrics.Fired(sig.Source)
	s.metrics.SetPending(len(s.ledger.Pending()))

	s.inflight.Add(1)
	go s.execute(wager)
	return nil
}

func (s *Scanner) review(ctx context.Context, sig Signal) Verdict {
	rctx, cancel := context.WithTimeout(ctx, s.cfg.AdvisorTimeout)
	defer cancel()
	v, err := s.advisor.Review(rctx, sig)
	if err != nil {
		log.Warn().Err(err).Str("key", sig.Key.String()).Msg("Advisor unavailable, proceeding")
		return Verdict{Proceed: true, Reason: "advisor error"}
	}
	return v
}

// execute places the order, persists the wager and notifies. Failures are
// logged; the wager stays open either way.
func (s *Scanner) execute(w types.Wager) {
	defer s.inflight.Done()

	if s.executor != nil {
		ctx, cancel := context.WithTimeout(context.Background(), orderTimeout)
		orderID, err := s.executor.PlaceOrder(ctx, types.Order{
			WagerID:   w.ID,
			MarketID:  w.MarketID,
			TokenID:   w.TokenID,
			Direction: w.Direction,
			Price:     w.Quoted,
			Amount:    w.Amount,
		})
		cancel()
		if err != nil {
			log.Error().Err(err).Str("wager", w.ID).Msg("Order failed")
		} else {
			s.ledger.SetOrderID(w.ID, orderID)
			w.OrderID = orderID
		}
	}

	s.ledger.Persist(w.ID)
	s.notifier.NotifyFired(w)
}

// ═══════════════════════════════════════════════════════════════════════════════
// PERIODIC TASKS
// ═══════════════════════════════════════════════════════════════════════════════

// EvaluateCircuits trips the breaker of instruments on a losing streak
func (s *Scanner) EvaluateCircuits(now time.Time) {
	for _, inst := range s.instruments {
		s.breaker.Evaluate(inst.Label, s.ledger.Settled(inst.Label, circuitHistory), now)
	}
}

// RefreshWinRate recomputes the recent win rate used by the adaptive gates
func (s *Scanner) RefreshWinRate() {
	wr := s.ledger.WinRate(winRateWindow)
	s.winRate.Store(&wr)
}

// WinRate returns the last computed win rate
func (s *Scanner) WinRate() risk.WinRate {
	return *s.winRate.Load()
}

// ═══════════════════════════════════════════════════════════════════════════════
// OPERATOR SURFACE
// ═══════════════════════════════════════════════════════════════════════════════

// Pause stops new trades; settlement keeps running
func (s *Scanner) Pause() {
	s.paused.Store(true)
	log.Warn().Msg("⏸️ Scanner paused")
}

// Resume re-enables trading
func (s *Scanner) Resume() {
	s.paused.Store(false)
	log.Info().Msg("▶️ Scanner resumed")
}

// Paused reports whether trading is paused
func (s *Scanner) Paused() bool {
	return s.paused.Load()
}

// ErrUnknownInstrument is returned for labels the scanner does not trade
var ErrUnknownInstrument = errors.New("unknown instrument")

const operatorSuspendReason = "operator"

func (s *Scanner) label(instrument string) (string, error) {
	for _, inst := range s.instruments {
		if strings.EqualFold(inst.Label, instrument) {
			return inst.Label, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownInstrument, instrument)
}

// Suspend blocks one instrument for d through its circuit breaker
func (s *Scanner) Suspend(instrument string, d time.Duration) (time.Time, error) {
	label, err := s.label(instrument)
	if err != nil {
		return time.Time{}, err
	}
	until := s.now().Add(d)
	s.breaker.Trip(label, until, operatorSuspendReason)
	return until, nil
}

// Unsuspend lifts an instrument suspension, manual or tripped
func (s *Scanner) Unsuspend(instrument string) error {
	label, err := s.label(instrument)
	if err != nil {
		return err
	}
	s.breaker.Reset(label)
	return nil
}

// State returns the key's position in the Idle → StreakBuilding → Fired →
// Cooldown cycle. Fired is transient and reads as Cooldown.
func (s *Scanner) State(key types.Key) State {
	if s.limiter.Blocked(key, s.now()) != nil {
		return StateCooldown
	}
	if _, ok := s.streaks.get(key, streakForward); ok {
		return StateStreakBuilding
	}
	if _, ok := s.streaks.get(key, streakReverse); ok {
		return StateStreakBuilding
	}
	return StateIdle
}

// KeyStatus is one row of the operator status view
type KeyStatus struct {
	Key            types.Key
	State          State
	TradesThisHour int
	SuspendedUntil time.Time
}

// Status returns every key's state
func (s *Scanner) Status() []KeyStatus {
	now := s.now()
	out := make([]KeyStatus, 0, len(s.instruments)*len(s.timeframes))
	for _, inst := range s.instruments {
		until, _ := s.breaker.Until(inst.Label)
		if !now.Before(until) {
			until = time.Time{}
		}
		for _, tf := range s.timeframes {
			key := types.Key{Instrument: inst.Label, Timeframe: tf}
			n, _ := s.limiter.Usage(key, now)
			out = append(out, KeyStatus{Key: key, State: s.State(key), TradesThisHour: n, SuspendedUntil: until})
		}
	}
	return out
}

// Ledger exposes the wager book for the operator surface
func (s *Scanner) Ledger() *Ledger {
	return s.ledger
}

// Bankroll exposes the balance for the operator surface
func (s *Scanner) Bankroll() *Bankroll {
	return s.bankroll
}

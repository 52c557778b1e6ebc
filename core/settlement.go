package core

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/metrics"
	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SETTLEMENT - Resolve pending wagers once their window has closed
// ═══════════════════════════════════════════════════════════════════════════════
//
//   winner = UP if close > open else DOWN
//   WIN:  pnl = (amount/quoted - amount) * (1 - fee), credit amount + pnl
//   LOSE: pnl = -amount
//
// ═══════════════════════════════════════════════════════════════════════════════

var payoutAfterFee = decimal.NewFromFloat(0.98)

// CloseSource returns the settlement close of a wager's window
type CloseSource interface {
	Close(ctx context.Context, w types.Wager) (float64, bool)
}

// Settler resolves due wagers
type Settler struct {
	ledger   *Ledger
	bankroll *Bankroll
	closes   CloseSource
	notifier Notifier
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewSettler creates a settler. notifier and m may be nil.
func NewSettler(ledger *Ledger, bankroll *Bankroll, closes CloseSource, notifier Notifier, m *metrics.Metrics) *Settler {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Settler{
		ledger:   ledger,
		bankroll: bankroll,
		closes:   closes,
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
	}
}

// SetClock overrides the wall clock
func (s *Settler) SetClock(now func() time.Time) {
	s.now = now
}

// Run settles due wagers every interval until ctx is cancelled
func (s *Settler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.SettleDue(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SettleDue(ctx, s.now())
		}
	}
}

// Outcome judges a wager against the window close
func Outcome(w types.Wager, closePrice float64) (types.Result, decimal.Decimal) {
	winner := types.Down
	if closePrice > w.OpenPrice {
		winner = types.Up
	}
	if w.Direction != winner {
		return types.Lose, w.Amount.Neg()
	}
	if w.Quoted <= 0 {
		return types.Win, decimal.Zero
	}
	shares := w.Amount.Div(decimal.NewFromFloat(w.Quoted))
	pnl := shares.Sub(w.Amount).Mul(payoutAfterFee).Round(2)
	return types.Win, pnl
}

// SettleDue resolves every pending wager whose window ended before now.
// Wagers without a close stay pending for the next run.
func (s *Settler) SettleDue(ctx context.Context, now time.Time) int {
	settled := 0
	for _, w := range s.ledger.Pending() {
		if now.Before(w.WindowEnd()) {
			continue
		}
		closePrice, ok := s.closes.Close(ctx, w)
		if !ok {
			log.Debug().Str("wager", w.ID).Str("key", w.Key().String()).Msg("Close not available yet")
			continue
		}
		if s.settle(w, closePrice, now) {
			settled++
		}
	}
	if settled > 0 {
		s.metrics.SetPending(len(s.ledger.Pending()))
	}
	return settled
}

func (s *Settler) settle(w types.Wager, closePrice float64, now time.Time) bool {
	result, pnl := Outcome(w, closePrice)
	resolved, err := s.ledger.Resolve(w.ID, result, closePrice, pnl, now)
	if err != nil {
		if !errors.Is(err, ErrAlreadyResolved) {
			log.Error().Err(err).Str("wager", w.ID).Msg("Settlement failed")
		}
		return false
	}
	if result == types.Win {
		s.bankroll.Credit(w.Amount.Add(pnl))
	}
	balance := s.bankroll.Balance()

	emoji := "✅"
	if result == types.Lose {
		emoji = "❌"
	}
	log.Info().
		Str("asset", w.Instrument).
		Str("tf", string(w.Timeframe)).
		Str("side", string(w.Direction)).
		Float64("open", w.OpenPrice).
		Float64("close", closePrice).
		Str("pnl", pnl.StringFixed(2)).
		Str("balance", "$"+balance.StringFixed(2)).
		Msg(emoji + " Wager settled")

	s.metrics.Settled(result)
	s.notifier.NotifySettled(resolved, balance)
	return true
}

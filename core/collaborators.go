package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COLLABORATORS - Interfaces to avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Signal is a candidate trade handed to the advisor and to fire
type Signal struct {
	Key             types.Key
	Direction       types.Direction
	Source          types.Source
	Probability     float64
	Quoted          float64 // raw market price of Direction
	EV              float64
	Gap             float64 // probability minus quoted
	DisplacementPct float64
	OpenPrice       float64
	EntryPrice      float64
	Quote           types.Quote
	At              time.Time
}

// Verdict is the advisory collaborator's answer
type Verdict struct {
	Proceed bool
	Reason  string
}

// Advisor may veto a signal. An error means proceed.
type Advisor interface {
	Review(ctx context.Context, sig Signal) (Verdict, error)
}

// ProceedAdvisor approves everything
type ProceedAdvisor struct{}

// Review always proceeds
func (ProceedAdvisor) Review(ctx context.Context, sig Signal) (Verdict, error) {
	return Verdict{Proceed: true}, nil
}

// Executor places orders. Fire-and-forget from the scanner's point of view.
type Executor interface {
	PlaceOrder(ctx context.Context, order types.Order) (string, error)
}

// Notifier receives trade lifecycle events (Telegram)
type Notifier interface {
	NotifyFired(w types.Wager)
	NotifySettled(w types.Wager, balance decimal.Decimal)
	NotifyCircuitTrip(instrument string, until time.Time, reason string)
}

type noopNotifier struct{}

func (noopNotifier) NotifyFired(types.Wager)                    {}
func (noopNotifier) NotifySettled(types.Wager, decimal.Decimal) {}
func (noopNotifier) NotifyCircuitTrip(string, time.Time, string) {}

// WagerStore persists wagers. A failure is logged, never retried.
type WagerStore interface {
	CreateWager(w types.Wager) error
	UpdateWager(w types.Wager) error
	PendingWagers() ([]types.Wager, error)
	RecentWagers(limit int) ([]types.Wager, error)
}

// Stats summarises resolved wagers
type Stats struct {
	Total   int
	Wins    int
	Losses  int
	Pending int
	PnL     decimal.Decimal
}

// WinRate returns wins over resolved, 0 when nothing resolved
func (s Stats) WinRate() float64 {
	if s.Wins+s.Losses == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Wins+s.Losses)
}

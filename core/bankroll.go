package core

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/gapscanner/types"
)

// ErrInsufficientBalance is returned by Debit when the balance cannot cover a bet
var ErrInsufficientBalance = errors.New("insufficient balance")

// Bankroll is the balance available for new wagers
type Bankroll struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	onChange func(decimal.Decimal)
}

// NewBankroll creates a bankroll holding initial
func NewBankroll(initial decimal.Decimal) *Bankroll {
	return &Bankroll{balance: initial}
}

// OnChange registers a callback run after every balance change
func (b *Bankroll) OnChange(fn func(decimal.Decimal)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// Balance returns the current balance
func (b *Bankroll) Balance() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance
}

// Debit removes amount, failing when it exceeds the balance
func (b *Bankroll) Debit(amount decimal.Decimal) error {
	b.mu.Lock()
	if amount.GreaterThan(b.balance) {
		b.mu.Unlock()
		return ErrInsufficientBalance
	}
	b.balance = b.balance.Sub(amount)
	balance, fn := b.balance, b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(balance)
	}
	return nil
}

// Credit adds amount
func (b *Bankroll) Credit(amount decimal.Decimal) {
	b.mu.Lock()
	b.balance = b.balance.Add(amount)
	balance, fn := b.balance, b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(balance)
	}
}

// Set replaces the balance
func (b *Bankroll) Set(balance decimal.Decimal) {
	b.mu.Lock()
	b.balance = balance
	fn := b.onChange
	b.mu.Unlock()
	if fn != nil {
		fn(balance)
	}
}

// RebuildBalance recomputes a virtual balance from store-wide realised pnl
// minus the stake locked in pending wagers.
func RebuildBalance(initial, realised decimal.Decimal, pending []types.Wager) decimal.Decimal {
	balance := initial.Add(realised)
	for _, w := range pending {
		if w.Result == types.Pending {
			balance = balance.Sub(w.Amount)
		}
	}
	return balance
}

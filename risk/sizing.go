package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// BET SIZING - Fractional Kelly with a hard floor and ceiling
// ═══════════════════════════════════════════════════════════════════════════════
//
// Formula: kelly = ev / (1/q - 1), scaled by an EV-dependent multiplier
//
//   ev < 0.15 → 25% Kelly
//   ev < 0.30 → 35% Kelly
//   otherwise → 50% Kelly
//
// Result is clamped to 2%-12% of balance. Reverse bets take half (floor 1%).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	MinBetFraction        = 0.02
	MaxBetFraction        = 0.12
	MinReverseBetFraction = 0.01
)

// KellyFraction returns the clamped fraction of balance to stake, 0 if ev <= 0
func KellyFraction(ev, quoted float64) float64 {
	if ev <= 0 || math.IsNaN(ev) {
		return 0
	}
	q := clamp(quoted, forwardQuoteMin, forwardQuoteMax)
	odds := 1/q - 1
	if odds <= 0 {
		return 0
	}
	return clamp(ev/odds*kellyMultiplier(ev), MinBetFraction, MaxBetFraction)
}

func kellyMultiplier(ev float64) float64 {
	switch {
	case ev < 0.15:
		return 0.25
	case ev < 0.30:
		return 0.35
	}
	return 0.50
}

// BetSize returns the stake for a forward bet, rounded up to cents and capped
// at the ceiling fraction
func BetSize(balance decimal.Decimal, ev, quoted float64) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	f := KellyFraction(ev, quoted)
	if f == 0 {
		return decimal.Zero
	}
	return toCents(balance, f, MaxBetFraction)
}

// ReverseBetSize halves the forward fraction for contrarian bets
func ReverseBetSize(balance decimal.Decimal, ev, quoted float64) decimal.Decimal {
	if !balance.IsPositive() || ev <= 0 {
		return decimal.Zero
	}
	q := clamp(quoted, reverseQuoteMin, reverseQuoteMax)
	odds := 1/q - 1
	if odds <= 0 {
		return decimal.Zero
	}
	f := clamp(ev/odds*kellyMultiplier(ev), MinBetFraction, MaxBetFraction) / 2
	if f < MinReverseBetFraction {
		f = MinReverseBetFraction
	}
	return toCents(balance, f, MaxBetFraction/2)
}

// toCents rounds up so the floor fraction holds on odd-cent balances, then
// trims back under the ceiling
func toCents(balance decimal.Decimal, f, ceiling float64) decimal.Decimal {
	bet := balance.Mul(decimal.NewFromFloat(f)).RoundCeil(2)
	return decimal.Min(bet, balance.Mul(decimal.NewFromFloat(ceiling)).RoundDown(2))
}

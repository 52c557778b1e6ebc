package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Timeframe is the length of a settlement window
type Timeframe string

const (
	TF5M  Timeframe = "5M"
	TF15M Timeframe = "15M"
	TF1H  Timeframe = "1H"
)

// Duration returns the window length
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF5M:
		return 5 * time.Minute
	case TF15M:
		return 15 * time.Minute
	case TF1H:
		return time.Hour
	}
	return 0
}

// Seconds returns the window length in whole seconds
func (tf Timeframe) Seconds() int64 {
	return int64(tf.Duration() / time.Second)
}

// Valid reports whether tf is a known timeframe
func (tf Timeframe) Valid() bool {
	return tf.Duration() > 0
}

// ParseTimeframe accepts "5m", "15M", "1h" etc.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Direction is the side of a binary up/down market
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
	Hold Direction = "HOLD"
)

// DirectionOf maps a signed displacement to a side. Zero counts as up.
func DirectionOf(diff float64) Direction {
	if diff >= 0 {
		return Up
	}
	return Down
}

// Opposite returns the other side; Hold stays Hold
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	}
	return Hold
}

// Instrument is static reference data for one tracked asset
type Instrument struct {
	Label           string  `yaml:"label"`            // BTC
	BinanceSymbol   string  `yaml:"binance_symbol"`   // btcusdt
	ChainlinkSymbol string  `yaml:"chainlink_symbol"` // btc/usd
	HourlySlug      string  `yaml:"hourly_slug"`      // bitcoin
	MinMovePct      float64 `yaml:"min_move_pct"`     // % displacement required on 15M/1H
}

// MinMove returns the minimum displacement (%) for a timeframe. 5M windows use half.
func (i Instrument) MinMove(tf Timeframe) float64 {
	if tf == TF5M {
		return i.MinMovePct / 2
	}
	return i.MinMovePct
}

// Key identifies one instrument×timeframe pair
type Key struct {
	Instrument string
	Timeframe  Timeframe
}

func (k Key) String() string {
	return k.Instrument + "_" + string(k.Timeframe)
}

// PriceTick is one observed trade price
type PriceTick struct {
	Price float64
	Time  time.Time
}

// Quote is the two-sided price of the current window's market
type Quote struct {
	Up          float64
	Down        float64
	MarketID    string
	Slug        string
	UpTokenID   string
	DownTokenID string
	Available   bool
	WindowStart time.Time
	FetchedAt   time.Time
}

// Spread is up+down. Materially above 1.0 means a thin book.
func (q Quote) Spread() float64 {
	return q.Up + q.Down
}

// PriceFor returns the quoted price of one side
func (q Quote) PriceFor(d Direction) float64 {
	if d == Down {
		return q.Down
	}
	return q.Up
}

// TokenFor returns the CLOB token of one side
func (q Quote) TokenFor(d Direction) string {
	if d == Down {
		return q.DownTokenID
	}
	return q.UpTokenID
}

// Spike is a sudden move over the last few seconds of ticks
type Spike struct {
	Instrument string
	From       float64
	To         float64
	ChangePct  float64
	DurationMs int64
	At         time.Time
}

// Direction of the move
func (s Spike) Direction() Direction {
	return DirectionOf(s.ChangePct)
}

// Result is the settlement state of a wager
type Result string

const (
	Pending Result = "PENDING"
	Win     Result = "WIN"
	Lose    Result = "LOSE"
)

// Source names the signal path that fired a wager
type Source string

const (
	SourceScan    Source = "SCAN"
	SourceSpike   Source = "SPIKE"
	SourceReverse Source = "REVERSE"
)

// Wager is a directional bet on one settlement window
type Wager struct {
	ID          string
	Instrument  string
	Timeframe   Timeframe
	Direction   Direction
	Source      Source
	Amount      decimal.Decimal
	OpenPrice   float64 // window open reference at fire time
	EntryPrice  float64 // instrument price at fire time
	Quoted      float64 // market price paid per share
	Probability float64
	EV          float64
	MarketID    string
	TokenID     string
	OrderID     string
	WindowStart time.Time
	Result      Result
	ExitPrice   float64
	ProfitLoss  decimal.Decimal
	CreatedAt   time.Time
	ResolvedAt  time.Time
}

// Key returns the wager's instrument×timeframe
func (w Wager) Key() Key {
	return Key{Instrument: w.Instrument, Timeframe: w.Timeframe}
}

// WindowEnd is when the wager becomes settleable
func (w Wager) WindowEnd() time.Time {
	return w.WindowStart.Add(w.Timeframe.Duration())
}

// Resolved reports whether the wager has a final result
func (w Wager) Resolved() bool {
	return w.Result == Win || w.Result == Lose
}

// Order is an execution request for one wager
type Order struct {
	WagerID   string
	MarketID  string
	TokenID   string
	Direction Direction
	Price     float64 // limit price per share
	Amount    decimal.Decimal
}

// Shares is the number of shares Amount buys at Price
func (o Order) Shares() decimal.Decimal {
	if o.Price <= 0 {
		return decimal.Zero
	}
	return o.Amount.Div(decimal.NewFromFloat(o.Price)).RoundDown(2)
}
